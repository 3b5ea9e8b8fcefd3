package world

import (
	"gemrunners.ai/internal/sim/arbiter"
	"gemrunners.ai/internal/sim/registry"
)

// Step advances the run by one tick: the arbiter sees every agent as of the
// end of the previous tick, agents act in id order, and the stuck check runs
// on its own slower cadence. It is a no-op once the run is complete.
func (w *World) Step() uint64 {
	w.drainObserverRequests()
	if w.Done() {
		return w.tick.Load()
	}
	now := w.tick.Load() + 1

	w.arb.Update(w.snaps)
	for _, a := range w.agents {
		a.Tick(now)
	}
	if every := w.cfg.Tuning.StuckCheckEveryTicks; every > 0 && now%every == 0 {
		for _, a := range w.agents {
			a.CheckStuck(now)
		}
	}
	w.snaps = w.snapshots()
	w.tick.Store(now)

	deliveries := w.reg.DeliveriesSince(w.deliveriesSeen)
	w.deliveriesSeen += len(deliveries)
	conflicts := w.arb.Conflicts()

	w.checkDone(now)
	st := w.publish(now)
	w.record(now, st, deliveries, conflicts)
	w.stepObservers(now, st, conflicts)
	return now
}

// StepN runs up to n ticks and stops early when the run completes.
func (w *World) StepN(n int) uint64 {
	for i := 0; i < n && !w.Done(); i++ {
		w.Step()
	}
	return w.tick.Load()
}

func (w *World) checkDone(now uint64) {
	c := w.reg.Counts()
	switch {
	case c.Live+c.Carried == 0:
		w.reason = ReasonAllCollected
	case now >= w.cfg.Tuning.MaxTicks:
		w.reason = ReasonTimeExpired
	default:
		return
	}
	r := w.buildReport(now)
	w.report.Store(&r)
	w.logf("run %s complete at tick %d: %s, %d/%d collected (%.1f%%), success=%v",
		w.cfg.RunID, now, r.Reason, r.Collected, r.Initial, r.SuccessPct, r.Success)
}

func (w *World) record(now uint64, st *Stats, deliveries []registry.Delivery, conflicts []arbiter.Conflict) {
	if w.eventLogger != nil {
		for _, d := range deliveries {
			_ = w.eventLogger.WriteEvent(EventEntry{
				Tick:   now,
				Kind:   EventDelivery,
				Agent:  d.Agent,
				Target: int(d.Target),
				Color:  d.Color.String(),
				Cell:   [2]int{d.Cell.X, d.Cell.Y},
			})
		}
		for _, c := range conflicts {
			_ = w.eventLogger.WriteEvent(EventEntry{
				Tick:  now,
				Kind:  EventConflict,
				Agent: c.Winner,
				Other: c.Loser,
				Value: c.Distance,
			})
		}
		if w.Done() {
			r := w.Report()
			_ = w.eventLogger.WriteEvent(EventEntry{
				Tick:   now,
				Kind:   EventComplete,
				Value:  r.SuccessPct,
				Reason: string(r.Reason),
				Report: &r,
			})
		}
	}

	if w.tickLogger == nil {
		return
	}
	every := w.cfg.Tuning.Logs.TickLogEveryTicks
	if every == 0 {
		every = 1
	}
	if now%every != 0 && !w.Done() {
		return
	}
	entry := TickLogEntry{
		Tick:      now,
		Live:      st.Live,
		Carried:   st.Carried,
		Delivered: st.Delivered,
		Total:     st.Total,
		Agents:    make([]AgentEntry, 0, len(st.Agents)),
		Digest:    w.StateDigest(),
	}
	if !w.runLogged {
		info := w.RunInfo()
		entry.Run = &info
		w.runLogged = true
	}
	for _, a := range st.Agents {
		entry.Agents = append(entry.Agents, AgentEntry{
			ID:        a.ID,
			State:     a.State.String(),
			Cell:      [2]int{a.Cell.X, a.Cell.Y},
			Carrying:  a.Carrying,
			Delivered: a.Delivered,
			Moves:     a.Moves,
		})
	}
	if err := w.tickLogger.WriteTick(entry); err != nil {
		w.logf("tick log: %v", err)
	}
}
