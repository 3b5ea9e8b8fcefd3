package world

import (
	"gemrunners.ai/internal/sim/agent"
)

func (w *World) publish(now uint64) *Stats {
	c := w.reg.Counts()
	st := &Stats{
		RunID:     w.cfg.RunID,
		Tick:      now,
		Live:      c.Live,
		Carried:   c.Carried,
		Delivered: c.Delivered,
		Total:     c.Total,
		Waiting:   w.arb.Waiting(),
		Agents:    make([]agent.Status, 0, len(w.agents)),
		Done:      w.Done(),
		Reason:    w.reason,
	}
	sep := -1.0
	for _, a := range w.agents {
		s := a.Status(now)
		st.TotalMoves += s.Moves
		st.Agents = append(st.Agents, s)
		if _, d, ok := w.arb.Nearest(s.Pos, s.ID); ok && (sep < 0 || d < sep) {
			sep = d
		}
	}
	if sep > 0 {
		st.MinSeparation = sep
	}
	w.stats.Store(st)
	return st
}

// Stats returns the view published at the end of the last tick.
func (w *World) Stats() Stats {
	if st := w.stats.Load(); st != nil {
		return *st
	}
	return Stats{RunID: w.cfg.RunID}
}

// Report returns the final report once the run is complete, and a
// provisional one built from the latest stats before that.
func (w *World) Report() Report {
	if r := w.report.Load(); r != nil {
		return *r
	}
	st := w.Stats()
	return w.reportFrom(st, ReasonRunning)
}

func (w *World) buildReport(now uint64) Report {
	st := w.Stats()
	c := w.reg.Counts()
	st.Tick = now
	st.Live, st.Carried, st.Delivered, st.Total = c.Live, c.Carried, c.Delivered, c.Total
	st.TotalMoves = 0
	st.Agents = st.Agents[:0:0]
	for _, a := range w.agents {
		s := a.Status(now)
		st.TotalMoves += s.Moves
		st.Agents = append(st.Agents, s)
	}
	return w.reportFrom(st, w.reason)
}

func (w *World) reportFrom(st Stats, reason CompletionReason) Report {
	t := w.cfg.Tuning
	r := Report{
		RunID:        w.cfg.RunID,
		Reason:       reason,
		ElapsedTicks: st.Tick,
		Initial:      w.initial,
		Collected:    st.Delivered,
		TotalMoves:   st.TotalMoves,
	}
	if t.TickRateHz > 0 {
		r.ElapsedSeconds = float64(st.Tick) / float64(t.TickRateHz)
	}
	if r.Initial > 0 {
		r.SuccessPct = 100 * float64(r.Collected) / float64(r.Initial)
	} else {
		r.SuccessPct = 100
	}
	r.Success = r.Collected == r.Initial && r.SuccessPct >= t.SuccessThresholdPct
	if r.ElapsedSeconds > 0 {
		r.TargetsPerSecond = float64(r.Collected) / r.ElapsedSeconds
	}
	if r.Collected > 0 {
		r.MovesPerTarget = float64(r.TotalMoves) / float64(r.Collected)
	}
	if st.Tick > 0 && t.MaxTicks > 0 {
		timeUsed := float64(st.Tick) / float64(t.MaxTicks)
		r.Efficiency = (r.SuccessPct / 100) / timeUsed
	}
	for _, a := range st.Agents {
		r.Agents = append(r.Agents, AgentReport{
			ID:        a.ID,
			Color:     a.Color.String(),
			Delivered: a.Delivered,
			Moves:     a.Moves,
		})
	}
	return r
}
