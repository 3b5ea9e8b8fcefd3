package agent

import (
	"gemrunners.ai/internal/sim/grid"
)

func (a *Agent) runState() {
	a.clearPath()
	switch a.state {
	case StateExploring:
		a.exploring()
	case StateMovingToTarget:
		a.movingToTarget()
	case StateReturningHome:
		a.returningHome()
	case StateWaiting:
		a.waiting()
	}
}

func (a *Agent) exploring() {
	if a.carried != nil {
		a.changeState(StateReturningHome)
		return
	}
	if a.findAdjacentTarget() || a.findDistantTarget() {
		a.changeState(StateMovingToTarget)
		return
	}
	a.explore()
}

func (a *Agent) movingToTarget() {
	if !a.hasTarget {
		a.changeState(StateExploring)
		return
	}
	if a.isFailed(a.target) {
		a.clearTarget()
		a.changeState(StateExploring)
		return
	}
	if grid.Euclidean(a.cell, a.target) <= a.cfg.PickupRange {
		a.attemptPickup()
		return
	}

	p, ok := a.env.Planner.FindPath(a.cell, a.target)
	if !ok || len(p) == 0 {
		a.retries++
		a.debugf("agent %d: no path to %v (attempt %d)", a.id, a.target, a.retries)
		if a.retries >= a.cfg.MaxPathRetries {
			a.warnf("agent %d: giving up on target %v", a.id, a.target)
			a.markFailed(a.target)
			a.clearTarget()
			a.retries = 0
			a.changeState(StateExploring)
		}
		return
	}
	a.retries = 0
	a.setPath(p)
}

// attemptPickup re-queries the registry: a rival may have taken the target
// while this agent was on its way.
func (a *Agent) attemptPickup() {
	t, ok := a.env.Targets.Pickup(a.id, a.target, a.color)
	if !ok {
		a.debugf("agent %d: target at %v is gone", a.id, a.target)
		a.markFailed(a.target)
		a.clearTarget()
		a.changeState(StateExploring)
		return
	}
	a.carried = &t
	a.debugf("agent %d: picked up %s target %d at %v", a.id, t.Color, t.ID, t.Cell)
	a.clearTarget()
	a.retries = 0
	a.changeState(StateReturningHome)
}

func (a *Agent) returningHome() {
	if a.carried == nil {
		a.changeState(StateExploring)
		return
	}
	if a.cell == a.zone {
		a.deliver()
		return
	}
	p, ok := a.env.Planner.FindPath(a.cell, a.zone)
	if !ok || len(p) == 0 {
		a.retries++
		a.debugf("agent %d: no path home to %v (attempt %d)", a.id, a.zone, a.retries)
		if a.retries < a.cfg.MaxPathRetries {
			return
		}
		a.warnf("agent %d: zone %v unreachable, delivering at %v", a.id, a.zone, a.cell)
		a.deliver()
		return
	}
	a.retries = 0
	a.setPath(p)
}

func (a *Agent) deliver() {
	t := a.carried
	if a.env.Targets.Deliver(a.id, t.ID, a.cell) {
		a.delivered++
		a.debugf("agent %d: delivered target %d at %v (total %d)", a.id, t.ID, a.cell, a.delivered)
	} else {
		a.warnf("agent %d: registry refused delivery of target %d", a.id, t.ID)
	}
	a.carried = nil
	a.retries = 0
	a.changeState(StateExploring)
}

func (a *Agent) waiting() {
	if a.carried != nil {
		a.changeState(StateReturningHome)
		return
	}
	if a.now-a.lastRescanTick < a.cfg.WaitingRescanTicks {
		return
	}
	a.lastRescanTick = a.now
	if a.findAdjacentTarget() || a.findDistantTarget() {
		a.changeState(StateMovingToTarget)
		return
	}
	a.changeState(StateExploring)
}
