package agent

import (
	"math/rand"
	"reflect"
	"testing"

	"gemrunners.ai/internal/sim/grid"
	"gemrunners.ai/internal/sim/path"
	"gemrunners.ai/internal/sim/registry"
)

type gateFunc func(id int) bool

func (f gateFunc) CanMove(id int) bool { return f(id) }

var openGate = gateFunc(func(int) bool { return true })

func newEnv(size int, walls []grid.Coord, gate Gate) (Env, *registry.Registry) {
	geo := grid.Geometry{Size: size, CellWidth: 1, CellHeight: 1}
	var sample grid.Sampler
	if len(walls) > 0 {
		sample = grid.CellSampler(geo, walls)
	}
	g := grid.New(geo, sample)
	reg := registry.New(size)
	if gate == nil {
		gate = openGate
	}
	return Env{Grid: g, Planner: path.New(g), Targets: reg, Gate: gate}, reg
}

func spawn(env Env, id int, c grid.Coord, seed int64) *Agent {
	p := Placement{ID: id, Color: registry.ColorRed, Spawn: env.Grid.GridToWorld(c)}
	return New(p, DefaultConfig(), env, rand.New(rand.NewSource(seed)), 0)
}

// drive ticks the agent the way the world clock does, including the slow
// maintenance cadence, until done reports true or limit ticks pass.
func drive(a *Agent, from, limit uint64, done func() bool) uint64 {
	for now := from; now < from+limit; now++ {
		a.Tick(now)
		if now%40 == 0 {
			a.CheckStuck(now)
		}
		if done != nil && done() {
			return now
		}
	}
	return from + limit
}

func TestSpawnOnWallIsCorrected(t *testing.T) {
	env, _ := newEnv(5, []grid.Coord{{X: 2, Y: 2}}, nil)
	a := spawn(env, 0, grid.Coord{X: 2, Y: 2}, 1)
	if a.Cell() == (grid.Coord{X: 2, Y: 2}) || !env.Grid.IsWalkable(a.Cell()) {
		t.Fatalf("cell=%v should be moved off the wall", a.Cell())
	}
	if a.Home() != a.Cell() {
		t.Fatalf("home=%v cell=%v", a.Home(), a.Cell())
	}
	if a.Pos() != env.Grid.GridToWorld(a.Cell()) {
		t.Fatalf("pos=%+v not at cell center", a.Pos())
	}
}

func TestDeliveryZoneFallsBackToSpawn(t *testing.T) {
	env, reg := newEnv(5, nil, nil)
	a := spawn(env, 0, grid.Coord{X: 1, Y: 3}, 1)
	if a.DeliveryZone() != (grid.Coord{X: 1, Y: 3}) {
		t.Fatalf("zone=%v want spawn", a.DeliveryZone())
	}
	reg.AddZone(registry.ColorRed, grid.Coord{X: 4, Y: 4})
	b := spawn(env, 1, grid.Coord{X: 1, Y: 3}, 1)
	if b.DeliveryZone() != (grid.Coord{X: 4, Y: 4}) {
		t.Fatalf("zone=%v want registered zone", b.DeliveryZone())
	}
}

func TestPicksUpWithinRangeWithoutMoving(t *testing.T) {
	env, reg := newEnv(5, nil, nil)
	reg.AddZone(registry.ColorRed, grid.Coord{})
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 1, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)

	a.Tick(1)
	if a.State() != StateMovingToTarget {
		t.Fatalf("state=%s want MOVING_TO_TARGET", a.State())
	}
	a.Tick(2)
	if !a.Carrying() || a.State() != StateReturningHome {
		t.Fatalf("carrying=%v state=%s", a.Carrying(), a.State())
	}
	a.Tick(3)
	if a.Delivered() != 1 || a.Carrying() || a.Moves() != 0 {
		t.Fatalf("delivered=%d carrying=%v moves=%d", a.Delivered(), a.Carrying(), a.Moves())
	}
	if c := reg.Counts(); c.Delivered != 1 || c.Live != 0 {
		t.Fatalf("counts=%+v", c)
	}
}

func TestCollectsDistantTargetAndReturns(t *testing.T) {
	env, reg := newEnv(9, nil, nil)
	reg.AddZone(registry.ColorRed, grid.Coord{})
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 6, Y: 6})
	a := spawn(env, 0, grid.Coord{}, 1)

	drive(a, 1, 400, func() bool { return a.Delivered() == 1 })
	if a.Delivered() != 1 {
		t.Fatalf("not delivered, state=%s cell=%v", a.State(), a.Cell())
	}
	if a.Cell() != (grid.Coord{}) {
		t.Fatalf("delivered at %v, want zone", a.Cell())
	}
	// The path ends on the target cell: 12 steps out, 12 back.
	if a.Moves() != 24 {
		t.Fatalf("moves=%d want=24", a.Moves())
	}
}

func TestDeniedStepKeepsCursor(t *testing.T) {
	deny := gateFunc(func(int) bool { return false })
	env, reg := newEnv(9, nil, deny)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 5, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)
	for now := uint64(1); now <= 20; now++ {
		a.Tick(now)
	}
	if a.Moves() != 0 || a.Cell() != (grid.Coord{}) {
		t.Fatalf("moves=%d cell=%v", a.Moves(), a.Cell())
	}
	if a.cursor != 0 || len(a.path) == 0 {
		t.Fatalf("cursor=%d path=%v", a.cursor, a.path)
	}
	if a.State() != StateMovingToTarget {
		t.Fatalf("state=%s", a.State())
	}
}

func TestInterruptedMoveSnapsBack(t *testing.T) {
	calls := 0
	gate := gateFunc(func(int) bool {
		calls++
		return calls <= 2
	})
	env, reg := newEnv(9, nil, gate)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 5, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)
	a.selectTarget(grid.Coord{X: 5, Y: 0})
	a.state = StateMovingToTarget

	a.Tick(1) // plans
	if len(a.path) == 0 {
		t.Fatalf("expected a path")
	}
	a.Tick(2) // starts the move
	if !a.Moving() || a.Pos() == env.Grid.GridToWorld(grid.Coord{}) {
		t.Fatalf("moving=%v pos=%+v", a.Moving(), a.Pos())
	}
	a.Tick(3) // gate closes
	if a.Moving() {
		t.Fatalf("move should be aborted")
	}
	if a.Cell() != (grid.Coord{}) || a.Pos() != env.Grid.GridToWorld(grid.Coord{}) {
		t.Fatalf("cell=%v pos=%+v want start cell center", a.Cell(), a.Pos())
	}
	if a.cursor != 0 || a.Moves() != 1 {
		t.Fatalf("cursor=%d moves=%d", a.cursor, a.Moves())
	}
}

func TestLostRaceMarksTargetFailed(t *testing.T) {
	env, reg := newEnv(5, nil, nil)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 1, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)
	a.Tick(1)
	if !a.hasTarget {
		t.Fatalf("expected a target")
	}
	if _, ok := reg.Pickup(99, grid.Coord{X: 1, Y: 0}, registry.ColorRed); !ok {
		t.Fatalf("rival pickup failed")
	}
	a.Tick(2)
	if a.Carrying() || a.State() != StateExploring {
		t.Fatalf("carrying=%v state=%s", a.Carrying(), a.State())
	}
	if !a.isFailed(grid.Coord{X: 1, Y: 0}) {
		t.Fatalf("failed=%v", a.FailedTargets())
	}
}

func TestUnreachableTargetGivesUpAfterRetries(t *testing.T) {
	walls := []grid.Coord{{X: 4, Y: 5}, {X: 6, Y: 5}, {X: 5, Y: 4}, {X: 5, Y: 6}}
	env, reg := newEnv(7, walls, nil)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 5, Y: 5})
	a := spawn(env, 0, grid.Coord{}, 1)

	a.Tick(1)
	if a.State() != StateMovingToTarget {
		t.Fatalf("state=%s", a.State())
	}
	for now := uint64(2); now < 2+uint64(a.cfg.MaxPathRetries)-1; now++ {
		a.Tick(now)
		if a.State() != StateMovingToTarget {
			t.Fatalf("tick %d: gave up early", now)
		}
	}
	a.Tick(uint64(1 + a.cfg.MaxPathRetries))
	if a.State() != StateExploring || a.hasTarget {
		t.Fatalf("state=%s hasTarget=%v", a.State(), a.hasTarget)
	}
	if !a.isFailed(grid.Coord{X: 5, Y: 5}) {
		t.Fatalf("target should be on the failed list")
	}
	// With the only target failed the agent explores instead of re-selecting it.
	a.Tick(uint64(2 + a.cfg.MaxPathRetries))
	if a.hasTarget {
		t.Fatalf("failed target re-selected")
	}
}

func TestUnreachableZoneForcesDelivery(t *testing.T) {
	walls := []grid.Coord{{X: 5, Y: 6}, {X: 6, Y: 5}}
	env, reg := newEnv(7, walls, nil)
	reg.AddZone(registry.ColorRed, grid.Coord{X: 6, Y: 6})
	id, _ := reg.AddTarget(registry.ColorRed, grid.Coord{X: 1, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)

	last := drive(a, 1, 20, func() bool { return a.Delivered() == 1 })
	if a.Delivered() != 1 {
		t.Fatalf("no forced delivery, state=%s", a.State())
	}
	// select, pickup, then the fifth failed plan delivers in place
	if want := uint64(2 + a.cfg.MaxPathRetries); last != want {
		t.Fatalf("delivered at tick %d want=%d", last, want)
	}
	tgt, _ := reg.Get(id)
	if tgt.Status != registry.StatusDelivered || tgt.Cell != (grid.Coord{}) {
		t.Fatalf("target=%+v", tgt)
	}
}

func TestStuckRecoveryResetsState(t *testing.T) {
	deny := gateFunc(func(int) bool { return false })
	env, reg := newEnv(9, nil, deny)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 5, Y: 0})

	a := spawn(env, 0, grid.Coord{}, 1)
	a.Tick(1)
	a.Tick(2)
	if a.State() != StateMovingToTarget {
		t.Fatalf("state=%s", a.State())
	}
	a.CheckStuck(100)
	if !a.hasTarget {
		t.Fatalf("reset before the detection window")
	}
	a.CheckStuck(201)
	if a.State() != StateExploring || a.hasTarget || len(a.path) != 0 {
		t.Fatalf("state=%s hasTarget=%v path=%v", a.State(), a.hasTarget, a.path)
	}

	b := spawn(env, 1, grid.Coord{}, 1)
	b.carried = &registry.Target{ID: 0}
	b.state = StateWaiting
	b.CheckStuck(301)
	if b.State() != StateReturningHome {
		t.Fatalf("carrying agent reset to %s want RETURNING_HOME", b.State())
	}
}

func TestMovingAgentIsNotStuck(t *testing.T) {
	env, _ := newEnv(9, nil, nil)
	a := spawn(env, 0, grid.Coord{}, 1)
	a.lastMoveTick = 150
	a.lastStateChangeTick = 150
	a.CheckStuck(250)
	if a.lastStateChangeTick != 150 {
		t.Fatalf("recently moved agent was reset")
	}
}

func TestForceSearchAfterLongIdle(t *testing.T) {
	env, reg := newEnv(9, nil, nil)
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 8, Y: 8})
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 3, Y: 0})
	a := spawn(env, 0, grid.Coord{}, 1)
	a.markFailed(grid.Coord{X: 3, Y: 0})

	a.CheckStuck(401)
	if a.State() != StateMovingToTarget {
		t.Fatalf("state=%s want MOVING_TO_TARGET", a.State())
	}
	if a.target != (grid.Coord{X: 3, Y: 0}) {
		t.Fatalf("target=%v want nearest live target", a.target)
	}
	if a.lastTargetTick != 401 {
		t.Fatalf("lastTargetTick=%d", a.lastTargetTick)
	}
}

func TestFailedTargetsCappedAndPruned(t *testing.T) {
	env, _ := newEnv(30, nil, nil)
	a := spawn(env, 0, grid.Coord{}, 1)
	for i := 0; i < 10; i++ {
		a.markFailed(grid.Coord{X: i, Y: 0})
	}
	a.markFailed(grid.Coord{X: 9, Y: 0})
	got := a.FailedTargets()
	if len(got) != 8 || got[0] != (grid.Coord{X: 2, Y: 0}) {
		t.Fatalf("failed=%v", got)
	}

	a.markFailed(grid.Coord{X: 20, Y: 20})
	a.pruneFailed()
	for _, f := range a.FailedTargets() {
		if grid.Euclidean(a.Cell(), f) > a.cfg.FailedTargetPruneDistance {
			t.Fatalf("far entry %v kept", f)
		}
	}
	if len(a.FailedTargets()) != 7 {
		t.Fatalf("failed=%v", a.FailedTargets())
	}
}

func splitWalls() []grid.Coord {
	// Column x=3 splits the map; the right side is never reachable.
	var walls []grid.Coord
	for y := 0; y < 6; y++ {
		walls = append(walls, grid.Coord{X: 3, Y: y})
	}
	return walls
}

func TestKeepsExploringWhileUnvisitedCellsRemain(t *testing.T) {
	env, _ := newEnv(6, splitWalls(), nil)
	a := spawn(env, 0, grid.Coord{}, 1)

	drive(a, 1, 2000, func() bool {
		if a.State() == StateWaiting {
			t.Fatalf("entered WAITING at visited=%d with unvisited walkable cells left", a.VisitedCount())
		}
		return false
	})
	if a.VisitedCount() != 18 {
		t.Fatalf("visited=%d want=18", a.VisitedCount())
	}
	for x := 4; x < 6; x++ {
		for y := 0; y < 6; y++ {
			if a.isVisited(grid.Coord{X: x, Y: y}) {
				t.Fatalf("visited unreachable cell (%d,%d)", x, y)
			}
		}
	}
}

func TestNoFrontierFallsBackToRandomUnvisited(t *testing.T) {
	env, _ := newEnv(6, splitWalls(), nil)
	a := spawn(env, 0, grid.Coord{}, 1)
	for x := 0; x < 3; x++ {
		for y := 0; y < 6; y++ {
			a.markVisited(grid.Coord{X: x, Y: y})
		}
	}
	if _, ok := a.frontier(); ok {
		t.Fatalf("expected no frontier")
	}
	if _, ok := a.randomUnvisited(); !ok {
		t.Fatalf("expected unvisited walkable cells")
	}

	a.Tick(1)
	if a.State() != StateExploring {
		t.Fatalf("state=%s want EXPLORING", a.State())
	}
}

func TestWaitsOnceEveryCellVisited(t *testing.T) {
	env, _ := newEnv(4, nil, nil)
	a := spawn(env, 0, grid.Coord{}, 1)

	end := drive(a, 1, 2000, func() bool { return a.State() == StateWaiting })
	if a.State() != StateWaiting {
		t.Fatalf("never parked in WAITING (visited=%d)", a.VisitedCount())
	}
	if a.VisitedCount() != 16 {
		t.Fatalf("waiting at tick %d with visited=%d want=16", end, a.VisitedCount())
	}
}

func TestWaitingAgentRescans(t *testing.T) {
	env, reg := newEnv(6, nil, nil)
	a := spawn(env, 0, grid.Coord{}, 1)
	a.state = StateWaiting
	reg.AddTarget(registry.ColorRed, grid.Coord{X: 4, Y: 4})

	a.Tick(50)
	if a.State() != StateWaiting {
		t.Fatalf("rescanned before the interval: %s", a.State())
	}
	a.Tick(100)
	if a.State() != StateMovingToTarget || a.target != (grid.Coord{X: 4, Y: 4}) {
		t.Fatalf("state=%s target=%v", a.State(), a.target)
	}
}

func TestSameSeedSameRun(t *testing.T) {
	run := func() []Status {
		env, reg := newEnv(12, []grid.Coord{{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 5}}, nil)
		reg.AddZone(registry.ColorRed, grid.Coord{})
		for _, c := range []grid.Coord{{X: 10, Y: 2}, {X: 3, Y: 9}, {X: 8, Y: 8}, {X: 11, Y: 11}} {
			reg.AddTarget(registry.ColorRed, c)
		}
		a := spawn(env, 0, grid.Coord{}, 42)
		var out []Status
		for now := uint64(1); now <= 600; now++ {
			a.Tick(now)
			if now%40 == 0 {
				a.CheckStuck(now)
			}
			out = append(out, a.Status(now))
		}
		return out
	}
	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("runs with the same seed diverged")
	}
	if last := first[len(first)-1]; last.Delivered != 4 {
		t.Fatalf("delivered=%d want=4", last.Delivered)
	}
}
