package path

import (
	"math/rand"
	"testing"

	"gemrunners.ai/internal/sim/grid"
)

func randomGrid(rng *rand.Rand, size int, wallPermille int) *grid.Index {
	geo := grid.Geometry{Size: size, CellWidth: 1, CellHeight: 1}
	var walls []grid.Coord
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			if rng.Intn(1000) < wallPermille {
				walls = append(walls, grid.Coord{X: x, Y: y})
			}
		}
	}
	return grid.New(geo, grid.CellSampler(geo, walls))
}

// bfsDist is the reference shortest 4-connected distance in steps, -1 if unreachable.
func bfsDist(g *grid.Index, start, goal grid.Coord) int {
	if start == goal {
		return 0
	}
	dist := map[grid.Coord]int{start: 0}
	queue := []grid.Coord{start}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, d := range grid.Dirs {
			np := cur.Add(d)
			if !g.IsWalkable(np) {
				continue
			}
			if _, seen := dist[np]; seen {
				continue
			}
			dist[np] = dist[cur] + 1
			if np == goal {
				return dist[np]
			}
			queue = append(queue, np)
		}
	}
	return -1
}

func checkValid(t *testing.T, g *grid.Index, start, goal grid.Coord, p []grid.Coord) {
	t.Helper()
	if len(p) == 0 {
		t.Fatalf("empty path %v -> %v", start, goal)
	}
	if p[len(p)-1] != goal {
		t.Fatalf("path does not end at goal: %v", p)
	}
	prev := start
	for i, c := range p {
		if !g.IsWalkable(c) {
			t.Fatalf("path[%d]=%v not walkable", i, c)
		}
		if grid.Manhattan(prev, c) != 1 {
			t.Fatalf("path[%d]=%v not adjacent to %v", i, c, prev)
		}
		prev = c
	}
}

func TestFindPath_StartEqualsGoal(t *testing.T) {
	g := grid.New(grid.Geometry{Size: 5}, nil)
	p, ok := New(g).FindPath(grid.Coord{X: 2, Y: 2}, grid.Coord{X: 2, Y: 2})
	if !ok || p == nil || len(p) != 0 {
		t.Fatalf("start==goal: ok=%v path=%v", ok, p)
	}
}

func TestFindPath_OpenGrid(t *testing.T) {
	g := grid.New(grid.Geometry{Size: 19}, nil)
	start, goal := grid.Coord{X: 0, Y: 0}, grid.Coord{X: 18, Y: 18}
	p, ok := New(g).FindPath(start, goal)
	if !ok {
		t.Fatalf("no path on open grid")
	}
	checkValid(t, g, start, goal, p)
	if Cost(p) != 36*StepCost {
		t.Fatalf("cost=%d want=%d", Cost(p), 36*StepCost)
	}
}

func TestFindPath_AroundWall(t *testing.T) {
	geo := grid.Geometry{Size: 7}
	// Vertical wall at x=3 with a gap at y=6.
	var walls []grid.Coord
	for y := 0; y < 6; y++ {
		walls = append(walls, grid.Coord{X: 3, Y: y})
	}
	g := grid.New(geo, grid.CellSampler(geo, walls))
	start, goal := grid.Coord{X: 0, Y: 0}, grid.Coord{X: 6, Y: 0}
	p, ok := New(g).FindPath(start, goal)
	if !ok {
		t.Fatalf("expected detour through the gap")
	}
	checkValid(t, g, start, goal, p)
	if want := bfsDist(g, start, goal); len(p) != want {
		t.Fatalf("len=%d want=%d", len(p), want)
	}
}

func TestFindPath_WalledOff(t *testing.T) {
	geo := grid.Geometry{Size: 6}
	walls := []grid.Coord{{X: 4, Y: 5}, {X: 4, Y: 4}, {X: 5, Y: 4}}
	g := grid.New(geo, grid.CellSampler(geo, walls))
	if p, ok := New(g).FindPath(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 5, Y: 5}); ok || p != nil {
		t.Fatalf("walled-off goal: ok=%v path=%v", ok, p)
	}
	// Goal on a wall is unreachable too.
	if _, ok := New(g).FindPath(grid.Coord{X: 0, Y: 0}, grid.Coord{X: 4, Y: 4}); ok {
		t.Fatalf("goal on wall should fail")
	}
}

func TestFindPath_MatchesBFS(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for layout := 0; layout < 40; layout++ {
		size := 6 + rng.Intn(14)
		g := randomGrid(rng, size, 150+rng.Intn(250))
		pl := New(g)
		for q := 0; q < 25; q++ {
			start := grid.Coord{X: rng.Intn(size), Y: rng.Intn(size)}
			goal := grid.Coord{X: rng.Intn(size), Y: rng.Intn(size)}
			if !g.IsWalkable(start) || !g.IsWalkable(goal) {
				continue
			}
			want := bfsDist(g, start, goal)
			p, ok := pl.FindPath(start, goal)
			if want < 0 {
				if ok {
					t.Fatalf("layout %d: %v->%v found path %v but BFS says unreachable", layout, start, goal, p)
				}
				continue
			}
			if !ok {
				t.Fatalf("layout %d: %v->%v no path, BFS dist=%d", layout, start, goal, want)
			}
			if want == 0 {
				if len(p) != 0 {
					t.Fatalf("start==goal path=%v", p)
				}
				continue
			}
			checkValid(t, g, start, goal, p)
			if Cost(p) != want*StepCost {
				t.Fatalf("layout %d: %v->%v cost=%d want=%d", layout, start, goal, Cost(p), want*StepCost)
			}
		}
	}
}

func TestFindPath_Deterministic(t *testing.T) {
	g := grid.New(grid.Geometry{Size: 11}, nil)
	pl := New(g)
	a, _ := pl.FindPath(grid.Coord{X: 1, Y: 1}, grid.Coord{X: 8, Y: 9})
	for i := 0; i < 5; i++ {
		b, _ := pl.FindPath(grid.Coord{X: 1, Y: 1}, grid.Coord{X: 8, Y: 9})
		if len(a) != len(b) {
			t.Fatalf("len mismatch")
		}
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("path[%d] differs: %v vs %v", j, a[j], b[j])
			}
		}
	}
}
