package worldtest

import (
	"encoding/json"
	"testing"

	"gemrunners.ai/internal/observerproto"
	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
	world "gemrunners.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Step()/RunToEnd() advance the world and check conservation after every tick
// - tick and event logs are captured in memory
// - an optional observer session carries TICK/REPORT JSON
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	Ticks  []world.TickLogEntry
	Events []world.EventEntry

	observer chan []byte
	lastTick observerproto.TickMsg
	report   *observerproto.ReportMsg
}

func NewHarness(t *testing.T, layout scenario.Layout, tune tuning.Tuning, seed int64) *Harness {
	t.Helper()

	w, err := world.New(world.WorldConfig{
		RunID:    "test",
		Seed:     seed,
		Tuning:   tune,
		Layout:   layout,
		Headless: true,
	}, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	h := &Harness{T: t, W: w}
	w.SetTickLogger(tickSink{h})
	w.SetEventLogger(eventSink{h})
	return h
}

type tickSink struct{ h *Harness }

func (s tickSink) WriteTick(e world.TickLogEntry) error {
	s.h.Ticks = append(s.h.Ticks, e)
	return nil
}

type eventSink struct{ h *Harness }

func (s eventSink) WriteEvent(e world.EventEntry) error {
	s.h.Events = append(s.h.Events, e)
	return nil
}

// Observe attaches an observer session. The world must not be running.
func (h *Harness) Observe(everyTicks int, includeTargets bool) {
	h.T.Helper()
	h.observer = make(chan []byte, 4)
	h.W.ObserverJoin() <- world.ObserverJoinRequest{
		SessionID:      "harness",
		TickOut:        h.observer,
		EveryTicks:     everyTicks,
		IncludeTargets: includeTargets,
	}
}

func (h *Harness) Step() {
	h.T.Helper()
	h.W.Step()
	if err := h.W.Conservation(); err != nil {
		h.T.Fatalf("conservation: %v", err)
	}
	h.drainObserver()
}

// RunToEnd steps until the run completes and returns the final report.
func (h *Harness) RunToEnd() world.Report {
	h.T.Helper()
	for !h.W.Done() {
		h.Step()
	}
	return h.W.Report()
}

func (h *Harness) LastTick() observerproto.TickMsg { return h.lastTick }

func (h *Harness) ObservedReport() *observerproto.ReportMsg { return h.report }

func (h *Harness) EventsOf(kind string) []world.EventEntry {
	var out []world.EventEntry
	for _, e := range h.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *Harness) drainObserver() {
	h.T.Helper()
	if h.observer == nil {
		return
	}
	for {
		select {
		case b := <-h.observer:
			h.decode(b)
			continue
		default:
		}
		return
	}
}

func (h *Harness) decode(b []byte) {
	h.T.Helper()
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		h.T.Fatalf("unmarshal observer message: %v", err)
	}
	switch head.Type {
	case observerproto.TypeTick:
		var m observerproto.TickMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal TICK: %v", err)
		}
		h.lastTick = m
	case observerproto.TypeReport:
		var m observerproto.ReportMsg
		if err := json.Unmarshal(b, &m); err != nil {
			h.T.Fatalf("unmarshal REPORT: %v", err)
		}
		h.report = &m
	}
}
