package agent

import (
	"gemrunners.ai/internal/sim/grid"
)

// CheckStuck runs the slow maintenance cadence: stuck detection and recovery,
// pruning of the failed-target list, and a forced re-scan for agents that
// have not found a target for too long.
func (a *Agent) CheckStuck(now uint64) {
	a.now = now
	if a.isStuck() {
		a.recover()
	}
	a.lastSampled = a.cell
	a.pruneFailed()
	if a.carried == nil && now-a.lastTargetTick > a.cfg.ForceExplorationTicks {
		a.forceSearch()
	}
}

// isStuck reports an agent that has neither moved nor changed cell since the
// last sample for the detection window, or that has stayed in one state for
// one and a half windows.
func (a *Agent) isStuck() bool {
	thr := a.cfg.StuckDetectionTicks
	idle := a.now-a.lastMoveTick > thr && a.cell == a.lastSampled
	stale := a.now-a.lastStateChangeTick > thr+thr/2
	return idle || stale
}

func (a *Agent) recover() {
	a.warnf("agent %d stuck in %s at %v, resetting", a.id, a.state, a.cell)
	if a.move != nil {
		a.pos = a.env.Grid.GridToWorld(a.move.from)
		a.move = nil
	}
	a.clearPath()
	a.clearTarget()
	a.delay = 0
	a.retries = 0
	next := StateExploring
	if a.carried != nil {
		next = StateReturningHome
	}
	a.state = next
	a.lastStateChangeTick = a.now
}

func (a *Agent) forceSearch() {
	a.lastTargetTick = a.now
	t, ok := a.env.Targets.Nearest(a.cell, a.color)
	if !ok {
		a.changeState(StateExploring)
		return
	}
	a.debugf("agent %d: forced re-scan picked %v", a.id, t.Cell)
	a.clearPath()
	a.selectTarget(t.Cell)
	a.changeState(StateMovingToTarget)
}

func (a *Agent) isFailed(c grid.Coord) bool {
	for _, f := range a.failed {
		if f == c {
			return true
		}
	}
	return false
}

// markFailed remembers c; the oldest entry is evicted beyond the cap.
func (a *Agent) markFailed(c grid.Coord) {
	if a.isFailed(c) {
		return
	}
	a.failed = append(a.failed, c)
	if limit := a.cfg.FailedTargetsMax; limit > 0 && len(a.failed) > limit {
		a.failed = append(a.failed[:0], a.failed[len(a.failed)-limit:]...)
	}
}

func (a *Agent) pruneFailed() {
	kept := a.failed[:0]
	for _, f := range a.failed {
		if grid.Euclidean(a.cell, f) <= a.cfg.FailedTargetPruneDistance {
			kept = append(kept, f)
		}
	}
	a.failed = kept
}

// FailedTargets returns a copy of the cells this agent currently avoids.
func (a *Agent) FailedTargets() []grid.Coord {
	out := make([]grid.Coord, len(a.failed))
	copy(out, a.failed)
	return out
}
