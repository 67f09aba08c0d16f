package regress

import "math"

// hallOfFame keeps the lowest-loss tree seen at each complexity.
type hallOfFame struct {
	slots []*member // indexed by complexity
}

func newHallOfFame(maxsize int) *hallOfFame {
	return &hallOfFame{slots: make([]*member, maxsize+1)}
}

func (h *hallOfFame) consider(m *member) {
	if !finite(m.loss) || m.complexity >= len(h.slots) {
		return
	}
	if cur := h.slots[m.complexity]; cur == nil || m.loss < cur.loss {
		h.slots[m.complexity] = &member{
			tree:       m.tree.clone(),
			loss:       m.loss,
			cost:       m.cost,
			complexity: m.complexity,
			birth:      m.birth,
		}
	}
}

func (h *hallOfFame) merge(o *hallOfFame) {
	for _, m := range o.slots {
		if m != nil {
			h.consider(m)
		}
	}
}

// front returns the Pareto front: members ordered by complexity whose loss
// beats every simpler member.
func (h *hallOfFame) front() []*member {
	var out []*member
	bestLoss := math.Inf(1)
	for _, m := range h.slots {
		if m != nil && m.loss < bestLoss {
			out = append(out, m)
			bestLoss = m.loss
		}
	}
	return out
}
