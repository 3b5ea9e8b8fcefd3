package log

import (
	"path/filepath"
	"testing"

	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
	"gemrunners.ai/internal/sim/world"
)

func TestJSONLZstdWriter_RotatesBySegment(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x", 3)
	for i := 0; i < 7; i++ {
		if err := w.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	paths, err := Segments(dir, "x")
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(paths) != 3 || filepath.Base(paths[0]) != "x-000001.jsonl.zst" {
		t.Fatalf("segments: %v", paths)
	}

	n := 0
	err = ReadJSONL(dir, "x", func(b []byte) error {
		want := `{"i":` + string(rune('0'+n)) + `}`
		if string(b) != want {
			t.Fatalf("line %d: got %s want %s", n, b, want)
		}
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 7 {
		t.Fatalf("lines: got %d want 7", n)
	}
}

func TestReadJSONL_MissingDir(t *testing.T) {
	if err := ReadJSONL(filepath.Join(t.TempDir(), "nope"), "ticks", func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for missing segments")
	}
}

func TestLoggers_RoundTripWorldRun(t *testing.T) {
	runDir := t.TempDir()
	tune := tuning.Defaults()
	tune.MaxTicks = 200
	tune.Logs.TickLogEveryTicks = 25

	w, err := world.New(world.WorldConfig{RunID: "r1", Tuning: tune, Layout: scenario.Default(10, 2, 4)}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ticks := NewTickLogger(runDir)
	events := NewEventLogger(runDir)
	w.SetTickLogger(ticks)
	w.SetEventLogger(events)
	for !w.Done() {
		w.Step()
	}
	if err := ticks.Close(); err != nil {
		t.Fatalf("close ticks: %v", err)
	}
	if err := events.Close(); err != nil {
		t.Fatalf("close events: %v", err)
	}

	var got []world.TickLogEntry
	if err := ReadTicks(runDir, func(e world.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read ticks: %v", err)
	}
	if len(got) == 0 || got[0].Run == nil || got[0].Run.RunID != "r1" {
		t.Fatalf("first entry: %+v", got)
	}
	if got[0].Run.Layout.PerColor != 2 || got[0].Run.Tuning.MaxTicks != 200 {
		t.Fatalf("run info lost in round trip: %+v", got[0].Run)
	}
	if last := got[len(got)-1]; last.Tick != w.CurrentTick() || last.Digest != w.StateDigest() {
		t.Fatalf("last entry tick %d digest %s", last.Tick, last.Digest)
	}

	var complete *world.EventEntry
	if err := ReadEvents(runDir, func(e world.EventEntry) error {
		if e.Kind == world.EventComplete {
			complete = &e
		}
		return nil
	}); err != nil {
		t.Fatalf("read events: %v", err)
	}
	if complete == nil || complete.Report == nil || complete.Report.RunID != "r1" {
		t.Fatalf("missing completion event: %+v", complete)
	}
}
