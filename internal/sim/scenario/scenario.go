// Package scenario decodes the layout a run starts from: grid geometry, walls,
// agent spawns, delivery zones and targets.
package scenario

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"gemrunners.ai/internal/sim/grid"
	"gemrunners.ai/internal/sim/registry"
)

//go:embed scenario.schema.json
var schemaText string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("scenario.schema.json", schemaText)
	})
	return schema, schemaErr
}

// Doc mirrors the YAML file.
type Doc struct {
	Name    string     `yaml:"name"`
	Seed    int64      `yaml:"seed"`
	Grid    GridDoc    `yaml:"grid"`
	Map     []string   `yaml:"map"`
	Agents  []AgentDoc `yaml:"agents"`
	Zones   []CellDoc  `yaml:"zones"`
	Targets TargetsDoc `yaml:"targets"`
}

type GridDoc struct {
	Size       int        `yaml:"size"`
	CellWidth  float64    `yaml:"cell_width"`
	CellHeight float64    `yaml:"cell_height"`
	Origin     [2]float64 `yaml:"origin"`
}

type AgentDoc struct {
	ID    int    `yaml:"id"`
	Color string `yaml:"color"`
	Cell  [2]int `yaml:"cell"`
}

type CellDoc struct {
	Color string `yaml:"color"`
	Cell  [2]int `yaml:"cell"`
}

type TargetsDoc struct {
	PerColor int       `yaml:"per_color"`
	Colors   []string  `yaml:"colors"`
	Cells    []CellDoc `yaml:"cells"`
}

type AgentSpawn struct {
	ID    int            `json:"id"`
	Color registry.Color `json:"color"`
	Cell  grid.Coord     `json:"cell"`
}

type TargetSpawn struct {
	Color registry.Color `json:"color"`
	Cell  grid.Coord     `json:"cell"`
}

// Layout is a validated scenario ready for the spawner.
type Layout struct {
	Name     string          `json:"name"`
	Seed     int64           `json:"seed"`
	Geometry grid.Geometry   `json:"geometry"`
	Walls    []grid.Coord    `json:"walls,omitempty"`
	Agents   []AgentSpawn    `json:"agents"`
	Zones    []registry.Zone `json:"zones,omitempty"`
	// Targets are placed as listed.
	Targets []TargetSpawn `json:"targets,omitempty"`
	// PerColor more targets of each of Colors are scattered at random.
	PerColor int              `json:"per_color"`
	Colors   []registry.Color `json:"colors"`
}

func Load(path string) (Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	l, err := Parse(raw)
	if err != nil {
		return Layout{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return l, nil
}

// Parse validates raw YAML against the embedded JSON schema, then checks
// what the schema cannot express (map shape, bounds, unique ids).
func Parse(raw []byte) (Layout, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return Layout{}, fmt.Errorf("decode: %w", err)
	}
	// Round-trip through JSON so the validator sees plain JSON types.
	js, err := json.Marshal(generic)
	if err != nil {
		return Layout{}, fmt.Errorf("normalize: %w", err)
	}
	var inst any
	if err := json.Unmarshal(js, &inst); err != nil {
		return Layout{}, fmt.Errorf("normalize: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return Layout{}, fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(inst); err != nil {
		return Layout{}, fmt.Errorf("schema: %w", err)
	}

	var doc Doc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Layout{}, fmt.Errorf("decode: %w", err)
	}
	return doc.Layout()
}

func (d Doc) Layout() (Layout, error) {
	n := d.Grid.Size
	var errs []error
	inBounds := func(c [2]int) bool { return c[0] >= 0 && c[0] < n && c[1] >= 0 && c[1] < n }

	l := Layout{
		Name: d.Name,
		Seed: d.Seed,
		Geometry: grid.Geometry{
			Size:       n,
			CellWidth:  d.Grid.CellWidth,
			CellHeight: d.Grid.CellHeight,
			Origin:     grid.Vec2{X: d.Grid.Origin[0], Y: d.Grid.Origin[1]},
		},
		PerColor: d.Targets.PerColor,
	}
	if l.Geometry.CellWidth == 0 {
		l.Geometry.CellWidth = 1
	}
	if l.Geometry.CellHeight == 0 {
		l.Geometry.CellHeight = 1
	}

	walls, err := parseMap(d.Map, n)
	if err != nil {
		errs = append(errs, err)
	}
	l.Walls = walls

	seen := map[int]bool{}
	for i, a := range d.Agents {
		c, err := registry.ParseColor(a.Color)
		if err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
		}
		if !inBounds(a.Cell) {
			errs = append(errs, fmt.Errorf("agents[%d]: cell %v outside %dx%d grid", i, a.Cell, n, n))
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %d", i, a.ID))
		}
		seen[a.ID] = true
		l.Agents = append(l.Agents, AgentSpawn{ID: a.ID, Color: c, Cell: grid.Coord{X: a.Cell[0], Y: a.Cell[1]}})
	}
	for i, z := range d.Zones {
		c, err := registry.ParseColor(z.Color)
		if err != nil {
			errs = append(errs, fmt.Errorf("zones[%d]: %w", i, err))
		}
		if !inBounds(z.Cell) {
			errs = append(errs, fmt.Errorf("zones[%d]: cell %v outside grid", i, z.Cell))
		}
		l.Zones = append(l.Zones, registry.Zone{Color: c, Cell: grid.Coord{X: z.Cell[0], Y: z.Cell[1]}})
	}
	for i, t := range d.Targets.Cells {
		c, err := registry.ParseColor(t.Color)
		if err != nil {
			errs = append(errs, fmt.Errorf("targets.cells[%d]: %w", i, err))
		}
		if !inBounds(t.Cell) {
			errs = append(errs, fmt.Errorf("targets.cells[%d]: cell %v outside grid", i, t.Cell))
		}
		l.Targets = append(l.Targets, TargetSpawn{Color: c, Cell: grid.Coord{X: t.Cell[0], Y: t.Cell[1]}})
	}
	for i, s := range d.Targets.Colors {
		c, err := registry.ParseColor(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("targets.colors[%d]: %w", i, err))
		}
		l.Colors = append(l.Colors, c)
	}
	if len(l.Colors) == 0 {
		l.Colors = agentColors(l.Agents)
	}
	if err := errors.Join(errs...); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// parseMap reads rows of '#' (wall) and '.' (floor). The first row is the
// top of the grid, y = n-1. An empty map means no walls.
func parseMap(rows []string, n int) ([]grid.Coord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows) != n {
		return nil, fmt.Errorf("map: %d rows, want %d", len(rows), n)
	}
	var walls []grid.Coord
	var errs []error
	for i, row := range rows {
		row = strings.TrimSpace(row)
		if len(row) != n {
			errs = append(errs, fmt.Errorf("map row %d: %d columns, want %d", i, len(row), n))
			continue
		}
		y := n - 1 - i
		for x := 0; x < n; x++ {
			if row[x] == '#' {
				walls = append(walls, grid.Coord{X: x, Y: y})
			}
		}
	}
	return walls, errors.Join(errs...)
}

func agentColors(agents []AgentSpawn) []registry.Color {
	var out []registry.Color
	seen := map[registry.Color]bool{}
	for _, a := range agents {
		if !seen[a.Color] {
			seen[a.Color] = true
			out = append(out, a.Color)
		}
	}
	return out
}

// Default is the stock layout: an open n×n grid with red, blue and green
// agents on three corners delivering to their spawn cells, and perColor
// scattered targets of each of those colors.
func Default(n, perColor int, seed int64) Layout {
	l := Layout{
		Name:     "corners",
		Seed:     seed,
		Geometry: grid.Geometry{Size: n, CellWidth: 1, CellHeight: 1},
		Agents: []AgentSpawn{
			{ID: 0, Color: registry.ColorRed, Cell: grid.Coord{X: 0, Y: 0}},
			{ID: 1, Color: registry.ColorBlue, Cell: grid.Coord{X: n - 1, Y: 0}},
			{ID: 2, Color: registry.ColorGreen, Cell: grid.Coord{X: 0, Y: n - 1}},
		},
		PerColor: perColor,
	}
	l.Colors = agentColors(l.Agents)
	return l
}

// Index builds the walkability index for the layout.
func (l Layout) Index() *grid.Index {
	var sample grid.Sampler
	if len(l.Walls) > 0 {
		sample = grid.CellSampler(l.Geometry, l.Walls)
	}
	return grid.New(l.Geometry, sample)
}

// Scatter picks distinct walkable cells for PerColor targets of every color,
// skipping agent spawns, zones and explicitly listed targets. Colors are
// dealt round-robin. The result depends only on g, the layout and rng.
// Fewer targets are returned when the grid runs out of free cells.
func (l Layout) Scatter(g *grid.Index, rng *rand.Rand) []TargetSpawn {
	want := l.PerColor * len(l.Colors)
	if want <= 0 {
		return nil
	}
	taken := map[grid.Coord]bool{}
	for _, a := range l.Agents {
		taken[a.Cell] = true
	}
	for _, z := range l.Zones {
		taken[z.Cell] = true
	}
	for _, t := range l.Targets {
		taken[t.Cell] = true
	}
	var free []grid.Coord
	n := g.Size()
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			c := grid.Coord{X: x, Y: y}
			if g.IsWalkable(c) && !taken[c] {
				free = append(free, c)
			}
		}
	}
	rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	if want > len(free) {
		want = len(free)
	}
	out := make([]TargetSpawn, 0, want)
	for i := 0; i < want; i++ {
		out = append(out, TargetSpawn{Color: l.Colors[i%len(l.Colors)], Cell: free[i]})
	}
	return out
}
