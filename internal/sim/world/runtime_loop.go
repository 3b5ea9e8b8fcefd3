package world

import (
	"context"
	"time"
)

// Run owns the world until ctx is cancelled or Stop is called. It steps at
// Tuning.TickRateHz, or back to back when the world is headless, and serves
// observer requests between ticks.
func (w *World) Run(ctx context.Context) error {
	var paced <-chan time.Time
	if !w.cfg.Headless {
		interval := time.Second / time.Duration(w.cfg.Tuning.TickRateHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		paced = ticker.C
	}
	// Always ready; stands in for the ticker when headless.
	free := make(chan time.Time)
	close(free)

	defer w.closeObservers()

	for {
		if w.Done() && w.cfg.StopWhenDone {
			return nil
		}
		tickC := paced
		if w.cfg.Headless && !w.Done() {
			tickC = free
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-tickC:
			w.Step()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
