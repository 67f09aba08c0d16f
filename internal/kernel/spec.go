package kernel

import "encoding/json"

// ToolSpec returns the JSON schema of every tool the kernel answers. It is
// served as-is by GET /schema and embedded in the result of the spec tool.
func ToolSpec() json.RawMessage {
	tools := []map[string]interface{}{
		ts("ping", "Liveness handshake", []string{}, map[string]string{}),
		ts("ndsolve", "Numerically solve y'(var) = rhs with func(x0) = y0 over [start, end] and bind the solution to name",
			[]string{"rhs", "x0", "y0", "start", "end", "step"},
			map[string]string{"name": "string", "rhs": "string", "var": "string", "func": "string",
				"x0": "number", "y0": "number", "start": "number", "end": "number", "step": "number"}),
		ts("apply", "Evaluate a bound solution at points", []string{"points"}, map[string]string{"name": "string", "points": "array"}),
		ts("clear", "Remove a bound solution", []string{}, map[string]string{"name": "string"}),
		ts("dsolve", "Closed-form solution of y'(var) = rhs(var) with y(x0) = y0", []string{"rhs", "x0", "y0"},
			map[string]string{"rhs": "string", "var": "string", "func": "string", "x0": "number", "y0": "number"}),
		ts("simplify", "Simplify an expression", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("diff", "First derivative d/dvar", []string{"expr"}, map[string]string{"expr": "string", "var": "string"}),
		ts("integrate", "Symbolic integration (rule-based)", []string{"expr"}, map[string]string{"expr": "string", "var": "string"}),
		ts("spec", "Return this tool schema", []string{}, map[string]string{}),
	}
	spec := map[string]interface{}{"tools": tools}
	b, _ := json.MarshalIndent(spec, "", "  ")
	return b
}

func ts(name, description string, required []string, props map[string]string) map[string]interface{} {
	properties := map[string]interface{}{}
	for k, typ := range props {
		properties[k] = map[string]interface{}{"type": typ}
	}
	return map[string]interface{}{
		"name":        name,
		"description": description,
		"inputSchema": map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
