package division

// Tree records every division scenario of one refinement run as an arena of
// nodes referenced by index. An edge connects a partial problem to the
// scenario that divides its one-level-down refinement, avoiding cyclic
// owning references between levels. The tree is owned exclusively by the
// refinement controller for the run and is not persisted beyond it.
type Tree struct {
	nodes []Node
}

// Node is one division scenario in the arena. Parent is the arena index of
// the scenario whose partial this node refines, or -1 for roots.
type Node struct {
	Level    int
	Scenario *Scenario
	Parent   int
	Children []int
}

// NewTree returns an empty arena.
func NewTree() *Tree { return &Tree{} }

// Add appends a scenario node and links it under its parent. It returns the
// new node's arena index.
func (t *Tree) Add(level int, parent int, s *Scenario) int {
	index := len(t.nodes)
	t.nodes = append(t.nodes, Node{Level: level, Scenario: s, Parent: parent})
	if parent >= 0 && parent < len(t.nodes)-1 {
		t.nodes[parent].Children = append(t.nodes[parent].Children, index)
	}
	return index
}

// Node returns the node at the given arena index.
func (t *Tree) Node(index int) *Node {
	if index < 0 || index >= len(t.nodes) {
		return nil
	}
	return &t.nodes[index]
}

// Len returns the number of scenario nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// AtLevel returns the arena indices of the level's scenarios in insertion
// order, which is also their left-to-right solving order.
func (t *Tree) AtLevel(level int) []int {
	var out []int
	for i, n := range t.nodes {
		if n.Level == level {
			out = append(out, i)
		}
	}
	return out
}

// Current returns the level's latest scenario, or nil when none exists.
func (t *Tree) Current(level int) *Scenario {
	indices := t.AtLevel(level)
	if len(indices) == 0 {
		return nil
	}
	return t.nodes[indices[len(indices)-1]].Scenario
}

// CurrentFor returns the level's scenario containing the given problem
// number, preferring the most recent.
func (t *Tree) CurrentFor(level, number int) *Scenario {
	indices := t.AtLevel(level)
	for i := len(indices) - 1; i >= 0; i-- {
		s := t.nodes[indices[i]].Scenario
		if s.InProblemRange(number) {
			return s
		}
	}
	return nil
}
