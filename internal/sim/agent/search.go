package agent

import (
	"sort"

	"gemrunners.ai/internal/sim/grid"
)

func (a *Agent) selectTarget(c grid.Coord) {
	a.target = c
	a.hasTarget = true
	a.lastTargetTick = a.now
	a.debugf("agent %d: target %v", a.id, c)
}

func (a *Agent) clearTarget() {
	a.target = grid.Coord{}
	a.hasTarget = false
}

// findAdjacentTarget looks at the four neighbours in fixed order.
func (a *Agent) findAdjacentTarget() bool {
	var buf [4]grid.Coord
	for _, n := range a.env.Grid.Neighbors(buf[:0], a.cell) {
		if a.isFailed(n) {
			continue
		}
		if _, ok := a.env.Targets.LiveAt(n, a.color); ok {
			a.selectTarget(n)
			return true
		}
	}
	return false
}

// findDistantTarget picks at random among the few nearest live targets of
// the agent's color, so agents of one color spread out over the map.
func (a *Agent) findDistantTarget() bool {
	live := a.env.Targets.LiveByColor(a.color)
	cands := live[:0]
	for _, t := range live {
		if !a.isFailed(t.Cell) {
			cands = append(cands, t)
		}
	}
	if len(cands) == 0 {
		return false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return grid.Manhattan(a.cell, cands[i].Cell) < grid.Manhattan(a.cell, cands[j].Cell)
	})
	k := a.cfg.Candidates
	if k < 1 {
		k = 1
	}
	if k > len(cands) {
		k = len(cands)
	}
	a.selectTarget(cands[a.rng.Intn(k)].Cell)
	return true
}

// explore walks toward the nearest frontier cell (unvisited, walkable, next to
// a visited cell), or failing that toward a random unvisited cell. Only when
// every walkable cell has been visited does the agent park in WAITING. A
// destination that cannot be planned to gets one fresh random retry.
func (a *Agent) explore() {
	dest, ok := a.frontier()
	if !ok {
		dest, ok = a.randomUnvisited()
	}
	if !ok {
		a.changeState(StateWaiting)
		return
	}
	p, found := a.env.Planner.FindPath(a.cell, dest)
	if !found {
		if alt, ok := a.randomUnvisited(); ok {
			p, found = a.env.Planner.FindPath(a.cell, alt)
		}
	}
	if found && len(p) > 0 {
		a.setPath(p)
	}
}

func (a *Agent) frontier() (grid.Coord, bool) {
	size := a.env.Grid.Size()
	var (
		best  grid.Coord
		bestD = -1
		buf   [4]grid.Coord
	)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := grid.Coord{X: x, Y: y}
			if !a.env.Grid.IsWalkable(c) || a.isVisited(c) {
				continue
			}
			edge := false
			for _, n := range a.env.Grid.Neighbors(buf[:0], c) {
				if a.isVisited(n) {
					edge = true
					break
				}
			}
			if !edge {
				continue
			}
			if d := grid.Manhattan(a.cell, c); bestD < 0 || d < bestD {
				best, bestD = c, d
			}
		}
	}
	return best, bestD >= 0
}

func (a *Agent) randomUnvisited() (grid.Coord, bool) {
	size := a.env.Grid.Size()
	var open []grid.Coord
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := grid.Coord{X: x, Y: y}
			if a.env.Grid.IsWalkable(c) && !a.isVisited(c) {
				open = append(open, c)
			}
		}
	}
	if len(open) == 0 {
		return grid.Coord{}, false
	}
	return open[a.rng.Intn(len(open))], true
}
