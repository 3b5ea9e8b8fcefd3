package path

import (
	"container/heap"

	"gemrunners.ai/internal/sim/grid"
)

// StepCost is the cost of one orthogonal move. The heuristic is Manhattan
// distance scaled by the same factor, so it stays admissible and consistent.
const StepCost = 10

// Walkability is the part of the grid index the planner needs.
type Walkability interface {
	InBounds(c grid.Coord) bool
	IsWalkable(c grid.Coord) bool
	Size() int
}

// Planner runs A* over a static walkability map. It holds no per-search
// state, so one Planner can serve every agent.
type Planner struct {
	g Walkability
}

func New(g Walkability) *Planner { return &Planner{g: g} }

// FindPath returns the cells to walk from start to goal, excluding start and
// including goal. start == goal yields an empty path. ok is false when the
// open set is exhausted without reaching goal.
func (p *Planner) FindPath(start, goal grid.Coord) (path []grid.Coord, ok bool) {
	if start == goal {
		return []grid.Coord{}, true
	}
	if !p.g.InBounds(start) || !p.g.InBounds(goal) {
		return nil, false
	}

	size := p.g.Size()
	nodes := make([]node, size*size)
	at := func(c grid.Coord) *node { return &nodes[c.Y*size+c.X] }

	var open openSet
	var seq uint64

	s := at(start)
	*s = node{pos: start, g: 0, h: heuristic(start, goal), parent: -1, state: stateOpen, seq: seq}
	heap.Push(&open, s)

	for open.Len() > 0 {
		cur := heap.Pop(&open).(*node)
		if cur.pos == goal {
			return retrace(nodes, size, cur), true
		}
		cur.state = stateClosed

		for _, d := range grid.Dirs {
			np := cur.pos.Add(d)
			if !p.g.IsWalkable(np) {
				continue
			}
			n := at(np)
			if n.state == stateClosed {
				continue
			}
			tentative := cur.g + StepCost
			switch n.state {
			case stateNew:
				seq++
				*n = node{
					pos:    np,
					g:      tentative,
					h:      heuristic(np, goal),
					parent: cur.pos.Y*size + cur.pos.X,
					state:  stateOpen,
					seq:    seq,
				}
				heap.Push(&open, n)
			case stateOpen:
				if tentative < n.g {
					n.g = tentative
					n.parent = cur.pos.Y*size + cur.pos.X
					heap.Fix(&open, n.heapIdx)
				}
			}
		}
	}
	return nil, false
}

// Cost is the planner cost of walking path.
func Cost(path []grid.Coord) int { return len(path) * StepCost }

func heuristic(a, b grid.Coord) int { return grid.Manhattan(a, b) * StepCost }

func retrace(nodes []node, size int, end *node) []grid.Coord {
	var out []grid.Coord
	for n := end; n.parent >= 0; n = &nodes[n.parent] {
		out = append(out, n.pos)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type nodeState uint8

const (
	stateNew nodeState = iota
	stateOpen
	stateClosed
)

type node struct {
	pos    grid.Coord
	g      int
	h      int
	parent int // dense index of the parent cell, -1 for the start node
	state  nodeState

	seq     uint64 // discovery order
	heapIdx int
}

func (n *node) f() int { return n.g + n.h }

// openSet orders by f, then h, then discovery order.
type openSet []*node

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, j int) bool {
	a, b := o[i], o[j]
	if a.f() != b.f() {
		return a.f() < b.f()
	}
	if a.h != b.h {
		return a.h < b.h
	}
	return a.seq < b.seq
}

func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].heapIdx = i
	o[j].heapIdx = j
}

func (o *openSet) Push(x any) {
	n := x.(*node)
	n.heapIdx = len(*o)
	*o = append(*o, n)
}

func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*o = old[:len(old)-1]
	n.heapIdx = -1
	return n
}
