package world

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"gemrunners.ai/internal/sim/agent"
	"gemrunners.ai/internal/sim/arbiter"
	"gemrunners.ai/internal/sim/grid"
	"gemrunners.ai/internal/sim/path"
	"gemrunners.ai/internal/sim/registry"
	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
)

type WorldConfig struct {
	RunID  string
	Seed   int64
	Tuning tuning.Tuning
	Layout scenario.Layout

	// Headless steps as fast as possible instead of at Tuning.TickRateHz.
	Headless bool
	// StopWhenDone makes Run return once the run is complete.
	StopWhenDone bool
}

// World owns one run: the grid, the target registry, the arbiter and the
// agents. Step and everything it touches run on a single goroutine (Run's);
// Stats and Report may be read from anywhere.
type World struct {
	cfg WorldConfig
	log *log.Logger

	grid    *grid.Index
	planner *path.Planner
	reg     *registry.Registry
	arb     *arbiter.Arbiter
	agents  []*agent.Agent // ordered by id

	tick    atomic.Uint64
	initial int

	// Arbiter input for the next tick: agent state as of the end of this one.
	snaps []arbiter.Snapshot

	deliveriesSeen int
	reason         CompletionReason

	stats  atomic.Pointer[Stats]
	report atomic.Pointer[Report]

	tickLogger  TickLogger
	eventLogger EventLogger
	runLogged   bool

	stop          chan struct{}
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient
}

// New builds the grid from the layout, places zones, targets and agents, and
// returns a world at tick 0.
func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if len(cfg.Layout.Agents) == 0 {
		return nil, errors.New("layout has no agents")
	}
	if cfg.Seed == 0 {
		cfg.Seed = cfg.Layout.Seed
	}
	g := cfg.Layout.Index()
	if g.WalkableCount() == 0 {
		return nil, errors.New("layout has no walkable cell")
	}

	w := &World{
		cfg:           cfg,
		log:           logger,
		grid:          g,
		planner:       path.New(g),
		reg:           registry.New(g.Size()),
		arb:           arbiter.New(cfg.Tuning.ArbiterConfig()),
		stop:          make(chan struct{}),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 16),
		observerLeave: make(chan string, 16),
		observers:     map[string]*observerClient{},
	}
	w.spawn()
	w.initial = w.reg.Counts().Total
	w.snaps = w.snapshots()
	w.publish(0)
	w.logf("run %s: %dx%d grid, %d walls, %d agents, %d targets, seed %d",
		cfg.RunID, g.Size(), g.Size(), g.WallCount(), len(w.agents), w.initial, cfg.Seed)
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetEventLogger(l EventLogger) { w.eventLogger = l }

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) RunID() string { return w.cfg.RunID }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Grid() *grid.Index { return w.grid }

func (w *World) TickRateHz() int { return w.cfg.Tuning.TickRateHz }

// RunInfo describes the run for logs and replays.
func (w *World) RunInfo() RunInfo {
	return RunInfo{RunID: w.cfg.RunID, Seed: w.cfg.Seed, Layout: w.cfg.Layout, Tuning: w.cfg.Tuning}
}

// Zones lists the delivery zones as placed (after spawn correction).
func (w *World) Zones() []registry.Zone { return w.reg.Zones() }

// Done reports whether the run has reached a completion condition.
func (w *World) Done() bool { return w.reason != ReasonRunning }

func (w *World) Agents() []*agent.Agent {
	out := make([]*agent.Agent, len(w.agents))
	copy(out, w.agents)
	return out
}

func (w *World) Targets() []registry.Target { return w.reg.Targets() }

func (w *World) Arbiter() *arbiter.Arbiter { return w.arb }

func (w *World) snapshots() []arbiter.Snapshot {
	out := make([]arbiter.Snapshot, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, arbiter.Snapshot{ID: a.ID(), Pos: a.Pos(), Carrying: a.Carrying()})
	}
	return out
}

func (w *World) sortAgents() {
	sort.Slice(w.agents, func(i, j int) bool { return w.agents[i].ID() < w.agents[j].ID() })
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}
