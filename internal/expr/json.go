package expr

import "encoding/json"

// ToJSON serializes the expression tree, e.g. {"type":"sym","name":"x"}.
func ToJSON(e Expr) (string, error) {
	b, err := json.Marshal(e.toJSON())
	return string(b), err
}

// Tree returns the JSON-ready tree used in kernel responses.
func Tree(e Expr) map[string]interface{} { return e.toJSON() }
