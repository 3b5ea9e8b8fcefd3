package world

import (
	"log"
	"math/rand"
	"sort"

	"gemrunners.ai/internal/sim/agent"
	"gemrunners.ai/internal/sim/grid"
	"gemrunners.ai/internal/sim/scenario"
)

// spawn places zones first (agents resolve their zone when created), then
// listed and scattered targets, then agents in id order. Anything on a
// blocked cell is moved to the nearest walkable one.
func (w *World) spawn() {
	l := w.cfg.Layout
	rng := rand.New(rand.NewSource(w.cfg.Seed))

	for _, z := range l.Zones {
		w.reg.AddZone(z.Color, w.walkable("zone", z.Cell))
	}
	for _, t := range l.Targets {
		w.reg.AddTarget(t.Color, w.walkable("target", t.Cell))
	}
	scattered := l.Scatter(w.grid, rng)
	if want := l.PerColor * len(l.Colors); len(scattered) < want {
		w.logf("WARN only %d free cells for %d scattered targets", len(scattered), want)
	}
	for _, t := range scattered {
		w.reg.AddTarget(t.Color, t.Cell)
	}

	spawns := make([]scenario.AgentSpawn, len(l.Agents))
	copy(spawns, l.Agents)
	sort.Slice(spawns, func(i, j int) bool { return spawns[i].ID < spawns[j].ID })

	env := agent.Env{
		Grid:    w.grid,
		Planner: w.planner,
		Targets: w.reg,
		Gate:    w.arb,
		Log:     w.agentLogger(),
	}
	acfg := w.cfg.Tuning.AgentConfig()
	for _, s := range spawns {
		p := agent.Placement{ID: s.ID, Color: s.Color, Spawn: w.grid.GridToWorld(s.Cell)}
		rng := rand.New(rand.NewSource(w.cfg.Seed + int64(s.ID)))
		w.agents = append(w.agents, agent.New(p, acfg, env, rng, 0))
	}
	w.sortAgents()
}

func (w *World) walkable(what string, c grid.Coord) grid.Coord {
	if w.grid.IsWalkable(c) {
		return c
	}
	fixed := w.grid.FindNearestWalkable(c)
	w.logf("WARN %s on blocked cell %v, moved to %v", what, c, fixed)
	return fixed
}

func (w *World) agentLogger() *log.Logger {
	if w.log == nil {
		return nil
	}
	return log.New(w.log.Writer(), "[agent] ", w.log.Flags())
}
