package arbiter

import (
	"math"
	"sort"

	"gemrunners.ai/internal/sim/grid"
)

type Config struct {
	// Pairs farther apart than DetectionRadius are ignored.
	DetectionRadius float64
	// A converging pair only conflicts once it is within SafeDistance.
	SafeDistance float64
	// Both headings must point at the other agent with a dot product above this.
	HeadingDot float64
	// Ticks a losing agent must hold position.
	WaitTicks int

	CarryingHasPriority bool
	LowerIDHasPriority  bool
}

func DefaultConfig() Config {
	return Config{
		DetectionRadius:     1.2,
		SafeDistance:        0.9,
		HeadingDot:          0.5,
		WaitTicks:           10,
		CarryingHasPriority: true,
		LowerIDHasPriority:  true,
	}
}

// Snapshot is one agent's state as of the end of the previous tick.
type Snapshot struct {
	ID       int
	Pos      grid.Vec2
	Carrying bool
}

// Conflict records one head-on approach and who had to yield.
type Conflict struct {
	Winner   int
	Loser    int
	Distance float64
}

// Arbiter detects converging agent pairs and makes the lower-priority one
// wait. It is advisory: it lowers the odds of head-on contention but does not
// guarantee collision-free motion.
type Arbiter struct {
	cfg Config

	last map[int]grid.Vec2
	wait map[int]int

	conflicts []Conflict
}

func New(cfg Config) *Arbiter {
	return &Arbiter{
		cfg:  cfg,
		last: map[int]grid.Vec2{},
		wait: map[int]int{},
	}
}

// Update must run once per tick before any agent acts. It counts down wait
// timers, declares new conflicts from the heading of each agent since the
// previous Update, and then records the new positions.
func (a *Arbiter) Update(snaps []Snapshot) {
	for id, w := range a.wait {
		if w > 0 {
			w--
		}
		a.wait[id] = w
	}

	sorted := make([]Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	a.conflicts = a.conflicts[:0]
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a.check(sorted[i], sorted[j])
		}
	}

	for _, s := range sorted {
		a.last[s.ID] = s.Pos
		if _, ok := a.wait[s.ID]; !ok {
			a.wait[s.ID] = 0
		}
	}
}

func (a *Arbiter) check(sa, sb Snapshot) {
	between := sb.Pos.Sub(sa.Pos)
	dist := between.Len()
	if dist > a.cfg.DetectionRadius {
		return
	}
	if !a.converging(sa, sb, between) {
		return
	}
	if dist > a.cfg.SafeDistance {
		return
	}
	winner, loser := a.priority(sa, sb)
	if a.wait[loser.ID] > 0 {
		// Already yielding from an earlier conflict; no stacking.
		return
	}
	a.wait[loser.ID] = a.cfg.WaitTicks
	a.conflicts = append(a.conflicts, Conflict{Winner: winner.ID, Loser: loser.ID, Distance: dist})
}

func (a *Arbiter) converging(sa, sb Snapshot, between grid.Vec2) bool {
	dirA := sa.Pos.Sub(a.lastPos(sa)).Normalized()
	dirB := sb.Pos.Sub(a.lastPos(sb)).Normalized()
	n := between.Normalized()
	back := grid.Vec2{X: -n.X, Y: -n.Y}
	return dirA.Dot(n) > a.cfg.HeadingDot && dirB.Dot(back) > a.cfg.HeadingDot
}

func (a *Arbiter) lastPos(s Snapshot) grid.Vec2 {
	if p, ok := a.last[s.ID]; ok {
		return p
	}
	return s.Pos
}

func (a *Arbiter) priority(sa, sb Snapshot) (winner, loser Snapshot) {
	if a.cfg.CarryingHasPriority && sa.Carrying != sb.Carrying {
		if sa.Carrying {
			return sa, sb
		}
		return sb, sa
	}
	lowFirst := sa.ID < sb.ID
	if lowFirst == a.cfg.LowerIDHasPriority {
		return sa, sb
	}
	return sb, sa
}

// CanMove reports whether id is free to step this tick. Unknown agents may move.
func (a *Arbiter) CanMove(id int) bool { return a.wait[id] == 0 }

// WaitTicks is the remaining hold time for id.
func (a *Arbiter) WaitTicks(id int) int { return a.wait[id] }

// Conflicts returns the conflicts declared by the most recent Update.
func (a *Arbiter) Conflicts() []Conflict {
	out := make([]Conflict, len(a.conflicts))
	copy(out, a.conflicts)
	return out
}

// Waiting is the number of agents currently holding position.
func (a *Arbiter) Waiting() int {
	n := 0
	for _, w := range a.wait {
		if w > 0 {
			n++
		}
	}
	return n
}

// Nearest returns the known agent closest to p, skipping exclude.
func (a *Arbiter) Nearest(p grid.Vec2, exclude int) (id int, dist float64, ok bool) {
	dist = math.Inf(1)
	ids := make([]int, 0, len(a.last))
	for k := range a.last {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	for _, k := range ids {
		if k == exclude {
			continue
		}
		if d := a.last[k].Sub(p).Len(); d < dist {
			id, dist, ok = k, d, true
		}
	}
	return id, dist, ok
}
