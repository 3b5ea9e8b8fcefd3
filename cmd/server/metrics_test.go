package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
	"gemrunners.ai/internal/sim/world"
)

func TestWriteMetrics(t *testing.T) {
	w, err := world.New(world.WorldConfig{RunID: "m1", Tuning: tuning.Defaults(), Layout: scenario.Default(10, 2, 3), Headless: true}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	w.StepN(5)

	rec := httptest.NewRecorder()
	writeMetrics(rec, w, nil)
	body := rec.Body.String()
	for _, want := range []string{
		`gemrunners_tick{run="m1"} 5`,
		`gemrunners_targets{run="m1",status="live"}`,
		`gemrunners_min_separation{run="m1"}`,
		`gemrunners_agent_state{run="m1",state="EXPLORING"}`,
		`gemrunners_run_done{run="m1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "gemrunners_index_") {
		t.Fatalf("index metrics without an index:\n%s", body)
	}
}

func TestLoadLayoutDefault(t *testing.T) {
	l, err := loadLayout("unused", "default", 19, 7, 0)
	if err != nil {
		t.Fatalf("default layout: %v", err)
	}
	if l.Geometry.Size != 19 || l.PerColor != 7 || l.Seed != 1337 || len(l.Walls) != 0 {
		t.Fatalf("layout: %+v", l)
	}
}
