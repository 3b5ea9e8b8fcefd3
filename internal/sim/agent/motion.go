package agent

import (
	"gemrunners.ai/internal/sim/grid"
)

func (a *Agent) setPath(p []grid.Coord) {
	a.path = p
	a.cursor = 0
}

func (a *Agent) clearPath() {
	a.path = nil
	a.cursor = 0
}

// beginStep starts moving toward the next path cell if the gate allows it.
// A denied step leaves the cursor where it is; the agent retries next tick.
func (a *Agent) beginStep() {
	if !a.env.Gate.CanMove(a.id) {
		return
	}
	next := a.path[a.cursor]
	if !a.env.Grid.IsWalkable(next) {
		a.warnf("agent %d: path cell %v is blocked, replanning", a.id, next)
		a.clearPath()
		return
	}
	a.move = &motion{from: a.cell, to: next}
	a.moves++
	a.advanceMove()
}

// advanceMove interpolates one tick of the current move. If the gate closes
// mid-move the agent snaps back to the center of the cell it started from.
func (a *Agent) advanceMove() {
	m := a.move
	if !a.env.Gate.CanMove(a.id) {
		a.debugf("agent %d: move %v->%v interrupted", a.id, m.from, m.to)
		a.pos = a.env.Grid.GridToWorld(m.from)
		a.move = nil
		return
	}
	m.elapsed++
	total := a.cfg.MoveTicks
	if total < 1 {
		total = 1
	}
	if m.elapsed < total {
		t := smoothstep(float64(m.elapsed) / float64(total))
		a.pos = grid.Lerp(a.env.Grid.GridToWorld(m.from), a.env.Grid.GridToWorld(m.to), t)
		return
	}

	a.cell = m.to
	a.pos = a.env.Grid.GridToWorld(m.to)
	a.markVisited(m.to)
	a.cursor++
	a.lastMoveTick = a.now
	a.move = nil
	a.delay = a.cfg.CellDelayTicks
}

func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}
