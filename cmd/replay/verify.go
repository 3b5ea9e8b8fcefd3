package main

import (
	"errors"
	"fmt"

	persistlog "gemrunners.ai/internal/persistence/log"
	"gemrunners.ai/internal/sim/world"
)

type result struct {
	RunID      string
	Seed       int64
	Checked    int
	LastTick   uint64
	Deliveries int
	Conflicts  int
	Report     *world.Report
	Digests    map[uint64]string
}

// verifyRun re-runs a logged run from the RunInfo on its first tick entry and
// checks every logged digest, the target counts and the event log against it.
func verifyRun(runDir string, toTick uint64) (result, error) {
	var (
		res  result
		w    *world.World
		prev *world.TickLogEntry
	)
	res.Digests = map[uint64]string{}

	err := persistlog.ReadTicks(runDir, func(e world.TickLogEntry) error {
		if toTick != 0 && e.Tick > toTick {
			return nil
		}
		if w == nil {
			if e.Run == nil {
				return fmt.Errorf("tick %d: first entry carries no run info", e.Tick)
			}
			ww, err := world.New(world.WorldConfig{
				RunID:    e.Run.RunID,
				Seed:     e.Run.Seed,
				Tuning:   e.Run.Tuning,
				Layout:   e.Run.Layout,
				Headless: true,
			}, nil)
			if err != nil {
				return fmt.Errorf("world: %w", err)
			}
			w = ww
			res.RunID, res.Seed = e.Run.RunID, e.Run.Seed
		}

		if e.Live+e.Carried+e.Delivered != e.Total {
			return fmt.Errorf("tick %d: live=%d carried=%d delivered=%d do not sum to %d", e.Tick, e.Live, e.Carried, e.Delivered, e.Total)
		}
		if prev != nil {
			if e.Tick <= prev.Tick {
				return fmt.Errorf("tick %d follows %d", e.Tick, prev.Tick)
			}
			if e.Delivered < prev.Delivered {
				return fmt.Errorf("tick %d: delivered went from %d to %d", e.Tick, prev.Delivered, e.Delivered)
			}
		}

		for w.CurrentTick() < e.Tick && !w.Done() {
			w.Step()
		}
		if w.CurrentTick() != e.Tick {
			return fmt.Errorf("run ended at tick %d before logged tick %d", w.CurrentTick(), e.Tick)
		}
		if got := w.StateDigest(); got != e.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", e.Tick, got, e.Digest)
		}

		res.Checked++
		res.LastTick = e.Tick
		res.Digests[e.Tick] = e.Digest
		ec := e
		prev = &ec
		return nil
	})
	if err != nil {
		return res, err
	}
	if w == nil {
		return res, errors.New("no tick entries")
	}

	err = persistlog.ReadEvents(runDir, func(e world.EventEntry) error {
		if toTick != 0 && e.Tick > toTick {
			return nil
		}
		switch e.Kind {
		case world.EventDelivery:
			res.Deliveries++
		case world.EventConflict:
			res.Conflicts++
		case world.EventComplete:
			res.Report = e.Report
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Report != nil {
		if res.Deliveries != res.Report.Collected {
			return res, fmt.Errorf("event log has %d deliveries, report says %d", res.Deliveries, res.Report.Collected)
		}
		for !w.Done() {
			w.Step()
		}
		if got := w.Report(); got.Collected != res.Report.Collected || got.ElapsedTicks != res.Report.ElapsedTicks || got.Reason != res.Report.Reason {
			return res, fmt.Errorf("replayed report differs: got %s at %d (%d), logged %s at %d (%d)",
				got.Reason, got.ElapsedTicks, got.Collected, res.Report.Reason, res.Report.ElapsedTicks, res.Report.Collected)
		}
	}
	return res, nil
}
