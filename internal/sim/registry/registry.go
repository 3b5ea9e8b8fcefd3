package registry

import (
	"sort"
	"sync"

	"gemrunners.ai/internal/sim/grid"
)

type TargetID int

type TargetStatus uint8

const (
	// StatusLive targets lie in the world and can be picked up.
	StatusLive TargetStatus = iota
	// StatusCarried targets belong to exactly one agent.
	StatusCarried
	// StatusDelivered targets are retired.
	StatusDelivered
)

func (s TargetStatus) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusCarried:
		return "carried"
	case StatusDelivered:
		return "delivered"
	}
	return "unknown"
}

type Target struct {
	ID     TargetID
	Color  Color
	Cell   grid.Coord
	Status TargetStatus
	// Carrier is the agent holding the target while Status == StatusCarried.
	Carrier int
}

type Zone struct {
	Color Color      `json:"color"`
	Cell  grid.Coord `json:"cell"`
}

// Delivery is one retired target, in the order deliveries happened.
type Delivery struct {
	Target TargetID
	Color  Color
	Agent  int
	Cell   grid.Coord
}

// Counts partitions every target ever added. Live+Carried+Delivered == Total.
type Counts struct {
	Total     int
	Live      int
	Carried   int
	Delivered int
}

// Registry is the single owner of targets and delivery zones. Live targets
// are bucketed per cell so "is there a target here" is a direct lookup.
//
// Pickup and Deliver take the lock, so a target can only change hands once
// even if agents are ever stepped from several goroutines.
type Registry struct {
	mu sync.RWMutex

	size    int
	targets []Target
	cells   [][]TargetID // dense y*size+x -> live target ids
	zones   []Zone

	deliveries []Delivery
	counts     Counts
}

func New(size int) *Registry {
	if size < 1 {
		size = 1
	}
	return &Registry{
		size:  size,
		cells: make([][]TargetID, size*size),
	}
}

// AddTarget places a live target. Out-of-bounds cells are rejected.
func (r *Registry) AddTarget(color Color, cell grid.Coord) (TargetID, bool) {
	if !r.inBounds(cell) {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := TargetID(len(r.targets))
	r.targets = append(r.targets, Target{ID: id, Color: color, Cell: cell, Status: StatusLive, Carrier: -1})
	i := r.idx(cell)
	r.cells[i] = append(r.cells[i], id)
	r.counts.Total++
	r.counts.Live++
	return id, true
}

func (r *Registry) AddZone(color Color, cell grid.Coord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = append(r.zones, Zone{Color: color, Cell: cell})
}

// ZoneFor returns the first registered zone of the given color.
func (r *Registry) ZoneFor(color Color) (grid.Coord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, z := range r.zones {
		if z.Color == color {
			return z.Cell, true
		}
	}
	return grid.Coord{}, false
}

func (r *Registry) Zones() []Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// LiveAt returns a live target of color lying on cell.
func (r *Registry) LiveAt(cell grid.Coord, color Color) (Target, bool) {
	if !r.inBounds(cell) {
		return Target{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.cells[r.idx(cell)] {
		if t := r.targets[id]; t.Color == color {
			return t, true
		}
	}
	return Target{}, false
}

// LiveByColor lists live targets of color ordered by id.
func (r *Registry) LiveByColor(color Color) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Target
	for _, t := range r.targets {
		if t.Status == StatusLive && t.Color == color {
			out = append(out, t)
		}
	}
	return out
}

// Pickup hands a live target of color on cell to agent. It fails if a rival
// already took it.
func (r *Registry) Pickup(agent int, cell grid.Coord, color Color) (Target, bool) {
	if !r.inBounds(cell) {
		return Target{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.idx(cell)
	for k, id := range r.cells[i] {
		t := &r.targets[id]
		if t.Color != color {
			continue
		}
		r.cells[i] = append(r.cells[i][:k:k], r.cells[i][k+1:]...)
		t.Status = StatusCarried
		t.Carrier = agent
		r.counts.Live--
		r.counts.Carried++
		return *t, true
	}
	return Target{}, false
}

// Deliver retires a target carried by agent at cell.
func (r *Registry) Deliver(agent int, id TargetID, cell grid.Coord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < 0 || int(id) >= len(r.targets) {
		return false
	}
	t := &r.targets[id]
	if t.Status != StatusCarried || t.Carrier != agent {
		return false
	}
	t.Status = StatusDelivered
	t.Cell = cell
	t.Carrier = -1
	r.counts.Carried--
	r.counts.Delivered++
	r.deliveries = append(r.deliveries, Delivery{Target: id, Color: t.Color, Agent: agent, Cell: cell})
	return true
}

// DeliveriesSince returns deliveries from position n of the delivery log on.
func (r *Registry) DeliveriesSince(n int) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(r.deliveries) {
		return nil
	}
	out := make([]Delivery, len(r.deliveries)-n)
	copy(out, r.deliveries[n:])
	return out
}

func (r *Registry) Get(id TargetID) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(r.targets) {
		return Target{}, false
	}
	return r.targets[id], true
}

// Targets returns a copy of every target ordered by id.
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts
}

// LiveCount is the number of targets still lying in the world.
func (r *Registry) LiveCount() int { return r.Counts().Live }

// Nearest returns the live target of color closest to from (Euclidean, ties
// by id).
func (r *Registry) Nearest(from grid.Coord, color Color) (Target, bool) {
	live := r.LiveByColor(color)
	if len(live) == 0 {
		return Target{}, false
	}
	sort.SliceStable(live, func(i, j int) bool {
		return grid.Euclidean(from, live[i].Cell) < grid.Euclidean(from, live[j].Cell)
	})
	return live[0], true
}

func (r *Registry) inBounds(c grid.Coord) bool {
	return c.X >= 0 && c.X < r.size && c.Y >= 0 && c.Y < r.size
}

func (r *Registry) idx(c grid.Coord) int { return c.Y*r.size + c.X }
