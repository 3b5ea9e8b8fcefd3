package grid

import "math"

// Geometry describes how the grid is laid over world space. Cells are centered
// on Origin; cell (0,0) sits at Origin - (Size-1)/2 cells on both axes.
type Geometry struct {
	Size       int     `json:"size"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
	Origin     Vec2    `json:"origin"`
}

// Sampler reports whether anything solid overlaps the box centered at center
// with the given half extents. It is only called while an Index is built.
type Sampler func(center Vec2, halfExtents Vec2) bool

// sampleShrink keeps the sampling box slightly inside the cell so that a wall
// in a neighbouring cell is not picked up on the shared edge.
const sampleShrink = 0.45

// Index owns the static walkability map and the grid<->world transform.
// It is immutable after New and safe for concurrent readers.
type Index struct {
	geo     Geometry
	blocked []bool
	walls   int
}

// New scans every cell once with sample and records the blocked ones.
// A nil sampler yields a wall-free grid.
func New(geo Geometry, sample Sampler) *Index {
	if geo.Size < 1 {
		geo.Size = 1
	}
	if geo.CellWidth <= 0 {
		geo.CellWidth = 1
	}
	if geo.CellHeight <= 0 {
		geo.CellHeight = 1
	}
	g := &Index{
		geo:     geo,
		blocked: make([]bool, geo.Size*geo.Size),
	}
	if sample == nil {
		return g
	}
	half := Vec2{X: geo.CellWidth * sampleShrink, Y: geo.CellHeight * sampleShrink}
	for x := 0; x < geo.Size; x++ {
		for y := 0; y < geo.Size; y++ {
			c := Coord{X: x, Y: y}
			if sample(g.GridToWorld(c), half) {
				g.blocked[g.idx(c)] = true
				g.walls++
			}
		}
	}
	return g
}

// CellSampler builds a Sampler that reports the listed cells (laid out with
// geo) as solid. Scenario files describe walls per cell, so this is how they
// feed the one-off occupancy scan.
func CellSampler(geo Geometry, cells []Coord) Sampler {
	solid := make(map[Coord]bool, len(cells))
	for _, c := range cells {
		solid[c] = true
	}
	probe := &Index{geo: geo}
	return func(center Vec2, half Vec2) bool {
		c, ok := probe.worldToGridExact(center)
		return ok && solid[c]
	}
}

func (g *Index) Size() int { return g.geo.Size }

func (g *Index) Geometry() Geometry { return g.geo }

// WallCount is the number of blocked cells found by the initial scan.
func (g *Index) WallCount() int { return g.walls }

func (g *Index) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.geo.Size && c.Y >= 0 && c.Y < g.geo.Size
}

func (g *Index) IsWalkable(c Coord) bool {
	if !g.InBounds(c) {
		return false
	}
	return !g.blocked[g.idx(c)]
}

// Walls lists the blocked cells in scan order (x, then y).
func (g *Index) Walls() []Coord {
	out := make([]Coord, 0, g.walls)
	for x := 0; x < g.geo.Size; x++ {
		for y := 0; y < g.geo.Size; y++ {
			c := Coord{X: x, Y: y}
			if g.blocked[g.idx(c)] {
				out = append(out, c)
			}
		}
	}
	return out
}

// WalkableCount is the number of in-bounds cells that are not blocked.
func (g *Index) WalkableCount() int {
	return g.geo.Size*g.geo.Size - g.walls
}

func (g *Index) GridToWorld(c Coord) Vec2 {
	mid := float64(g.geo.Size-1) * 0.5
	return Vec2{
		X: g.geo.Origin.X + (float64(c.X)-mid)*g.geo.CellWidth,
		Y: g.geo.Origin.Y + (float64(c.Y)-mid)*g.geo.CellHeight,
	}
}

// WorldToGrid rounds p to the nearest cell center and clamps it into bounds.
func (g *Index) WorldToGrid(p Vec2) Coord {
	mid := float64(g.geo.Size-1) * 0.5
	x := int(math.Round((p.X-g.geo.Origin.X)/g.geo.CellWidth + mid))
	y := int(math.Round((p.Y-g.geo.Origin.Y)/g.geo.CellHeight + mid))
	return Coord{X: clamp(x, 0, g.geo.Size-1), Y: clamp(y, 0, g.geo.Size-1)}
}

func (g *Index) worldToGridExact(p Vec2) (Coord, bool) {
	mid := float64(g.geo.Size-1) * 0.5
	c := Coord{
		X: int(math.Round((p.X-g.geo.Origin.X)/g.geo.CellWidth + mid)),
		Y: int(math.Round((p.Y-g.geo.Origin.Y)/g.geo.CellHeight + mid)),
	}
	return c, g.InBounds(c)
}

// FindNearestWalkable searches square rings of growing radius around c and
// returns the first walkable member (scan order dx, then dy). If nothing is
// found within half the grid size, c is returned unchanged.
func (g *Index) FindNearestWalkable(c Coord) Coord {
	if g.IsWalkable(c) {
		return c
	}
	for r := 1; r < g.geo.Size/2; r++ {
		for dx := -r; dx <= r; dx++ {
			for dy := -r; dy <= r; dy++ {
				if abs(dx) != r && abs(dy) != r {
					continue
				}
				p := Coord{X: c.X + dx, Y: c.Y + dy}
				if g.IsWalkable(p) {
					return p
				}
			}
		}
	}
	return c
}

// Neighbors appends the walkable 4-neighbours of c to dst in Dirs order.
func (g *Index) Neighbors(dst []Coord, c Coord) []Coord {
	for _, d := range Dirs {
		n := c.Add(d)
		if g.IsWalkable(n) {
			dst = append(dst, n)
		}
	}
	return dst
}

func (g *Index) idx(c Coord) int { return c.Y*g.geo.Size + c.X }

// Cell returns the dense index of c (y*Size+x). c must be in bounds.
func (g *Index) Cell(c Coord) int { return g.idx(c) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
