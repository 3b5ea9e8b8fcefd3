package agent

import (
	"log"
	"math/rand"

	"gemrunners.ai/internal/sim/grid"
	"gemrunners.ai/internal/sim/registry"
)

type State uint8

const (
	StateExploring State = iota
	StateMovingToTarget
	StateReturningHome
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateExploring:
		return "EXPLORING"
	case StateMovingToTarget:
		return "MOVING_TO_TARGET"
	case StateReturningHome:
		return "RETURNING_HOME"
	case StateWaiting:
		return "WAITING"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Config struct {
	// MoveTicks is how many ticks one cell-to-cell move takes.
	MoveTicks int
	// CellDelayTicks idles the agent after each arrival.
	CellDelayTicks int

	MaxPathRetries int
	// PickupRange is the grid distance within which a target can be taken.
	PickupRange float64
	// Candidates is how many of the nearest targets a distant search picks from.
	Candidates int

	StuckDetectionTicks   uint64
	ForceExplorationTicks uint64
	WaitingRescanTicks    uint64

	FailedTargetPruneDistance float64
	FailedTargetsMax          int

	DebugLogs bool
}

func DefaultConfig() Config {
	return Config{
		MoveTicks:                 2,
		CellDelayTicks:            0,
		MaxPathRetries:            5,
		PickupRange:               1.1,
		Candidates:                3,
		StuckDetectionTicks:       200,
		ForceExplorationTicks:     400,
		WaitingRescanTicks:        100,
		FailedTargetPruneDistance: 10,
		FailedTargetsMax:          8,
	}
}

// Targets is the registry view an agent needs.
type Targets interface {
	LiveAt(cell grid.Coord, color registry.Color) (registry.Target, bool)
	LiveByColor(color registry.Color) []registry.Target
	// Nearest is the closest live target of color by straight line.
	Nearest(from grid.Coord, color registry.Color) (registry.Target, bool)
	Pickup(agent int, cell grid.Coord, color registry.Color) (registry.Target, bool)
	Deliver(agent int, id registry.TargetID, cell grid.Coord) bool
	ZoneFor(color registry.Color) (grid.Coord, bool)
}

// Gate grants or denies a step; the collision arbiter implements it.
type Gate interface {
	CanMove(id int) bool
}

type Planner interface {
	FindPath(start, goal grid.Coord) ([]grid.Coord, bool)
}

// Env bundles the collaborators shared by every agent in a run.
type Env struct {
	Grid    *grid.Index
	Planner Planner
	Targets Targets
	Gate    Gate
	Log     *log.Logger
}

// Placement is what the spawner hands over for one agent.
type Placement struct {
	ID    int
	Color registry.Color
	Spawn grid.Vec2
}

type motion struct {
	from    grid.Coord
	to      grid.Coord
	elapsed int
}

// Agent is one autonomous collector. All methods must be called from the
// goroutine that drives the simulation clock.
type Agent struct {
	id    int
	color registry.Color
	cfg   Config
	env   Env
	rng   *rand.Rand

	cell grid.Coord
	pos  grid.Vec2
	home grid.Coord
	zone grid.Coord

	state   State
	carried *registry.Target

	target    grid.Coord
	hasTarget bool

	path   []grid.Coord
	cursor int
	move   *motion
	delay  int

	visited      []bool
	visitedCount int
	failed       []grid.Coord
	retries      int

	delivered int
	moves     int

	now                 uint64
	lastMoveTick        uint64
	lastStateChangeTick uint64
	lastTargetTick      uint64
	lastRescanTick      uint64
	lastSampled         grid.Coord
}

// New places the agent on the grid at tick now. A spawn on a blocked cell is
// moved to the nearest walkable one. The delivery zone is resolved once here;
// without a zone of its color the agent delivers to its spawn cell.
func New(p Placement, cfg Config, env Env, rng *rand.Rand, now uint64) *Agent {
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(p.ID)))
	}
	a := &Agent{
		id:      p.ID,
		color:   p.Color,
		cfg:     cfg,
		env:     env,
		rng:     rng,
		state:   StateExploring,
		visited: make([]bool, env.Grid.Size()*env.Grid.Size()),
		now:     now,
	}

	cell := env.Grid.WorldToGrid(p.Spawn)
	if !env.Grid.IsWalkable(cell) {
		fixed := env.Grid.FindNearestWalkable(cell)
		a.warnf("agent %d spawned on blocked cell %v, moved to %v", a.id, cell, fixed)
		cell = fixed
	}
	a.cell = cell
	a.pos = env.Grid.GridToWorld(cell)
	a.home = cell
	a.lastSampled = cell
	a.markVisited(cell)

	if z, ok := env.Targets.ZoneFor(a.color); ok {
		a.zone = z
		a.debugf("agent %d delivery zone %v", a.id, z)
	} else {
		a.zone = a.home
		a.debugf("agent %d has no %s zone, delivering to spawn %v", a.id, a.color, a.home)
	}

	a.lastMoveTick = now
	a.lastStateChangeTick = now
	a.lastTargetTick = now
	a.lastRescanTick = now
	return a
}

func (a *Agent) ID() int { return a.id }
func (a *Agent) Color() registry.Color { return a.color }
func (a *Agent) State() State { return a.state }
func (a *Agent) Cell() grid.Coord { return a.cell }
func (a *Agent) Pos() grid.Vec2 { return a.pos }
func (a *Agent) Home() grid.Coord { return a.home }
func (a *Agent) DeliveryZone() grid.Coord { return a.zone }
func (a *Agent) Carrying() bool { return a.carried != nil }
func (a *Agent) Delivered() int { return a.delivered }
func (a *Agent) Moves() int { return a.moves }
func (a *Agent) Moving() bool { return a.move != nil }
func (a *Agent) VisitedCount() int { return a.visitedCount }

// CarriedID returns the id of the carried target, if any.
func (a *Agent) CarriedID() (registry.TargetID, bool) {
	if a.carried == nil {
		return 0, false
	}
	return a.carried.ID, true
}

// Status is a read-only view for presentation and statistics.
type Status struct {
	ID             int            `json:"id"`
	Color          registry.Color `json:"color"`
	State          State          `json:"state"`
	Cell           grid.Coord     `json:"cell"`
	Pos            grid.Vec2      `json:"pos"`
	Carrying       bool           `json:"carrying"`
	Delivered      int            `json:"delivered"`
	Moves          int            `json:"moves"`
	Visited        int            `json:"visited"`
	Target         *grid.Coord    `json:"target,omitempty"`
	Zone           grid.Coord     `json:"zone"`
	FailedTargets  int            `json:"failed_targets"`
	Retries        int            `json:"retries"`
	PathLeft       int            `json:"path_left"`
	TicksSinceMove uint64         `json:"ticks_since_move"`
}

func (a *Agent) Status(now uint64) Status {
	s := Status{
		ID:            a.id,
		Color:         a.color,
		State:         a.state,
		Cell:          a.cell,
		Pos:           a.pos,
		Carrying:      a.carried != nil,
		Delivered:     a.delivered,
		Moves:         a.moves,
		Visited:       a.visitedCount,
		Zone:          a.zone,
		FailedTargets: len(a.failed),
		Retries:       a.retries,
		PathLeft:      len(a.path) - a.cursor,
	}
	if a.hasTarget {
		t := a.target
		s.Target = &t
	}
	if now > a.lastMoveTick {
		s.TicksSinceMove = now - a.lastMoveTick
	}
	return s
}

// Tick advances the agent by one simulation tick. A move in progress or a
// pending path step takes the whole tick; the state logic only runs once the
// current path is exhausted.
func (a *Agent) Tick(now uint64) {
	a.now = now
	if a.move != nil {
		a.advanceMove()
		return
	}
	if a.delay > 0 {
		a.delay--
		return
	}
	if a.cursor < len(a.path) {
		a.beginStep()
		return
	}
	a.runState()
}

func (a *Agent) changeState(s State) {
	if a.state == s {
		return
	}
	a.debugf("agent %d: %s -> %s", a.id, a.state, s)
	a.state = s
	a.lastStateChangeTick = a.now
}

func (a *Agent) markVisited(c grid.Coord) {
	i := a.env.Grid.Cell(c)
	if !a.visited[i] {
		a.visited[i] = true
		a.visitedCount++
	}
}

func (a *Agent) isVisited(c grid.Coord) bool {
	return a.visited[a.env.Grid.Cell(c)]
}

func (a *Agent) debugf(format string, args ...any) {
	if a.cfg.DebugLogs && a.env.Log != nil {
		a.env.Log.Printf(format, args...)
	}
}

func (a *Agent) warnf(format string, args ...any) {
	if a.env.Log != nil {
		a.env.Log.Printf("WARN "+format, args...)
	}
}
