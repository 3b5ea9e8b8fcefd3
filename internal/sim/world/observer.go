package world

import (
	"encoding/json"

	"gemrunners.ai/internal/observerproto"
	"gemrunners.ai/internal/sim/arbiter"
	"gemrunners.ai/internal/sim/registry"
)

// ObserverJoinRequest registers a read-only observer session that receives
// per-tick state on TickOut. All observer state is maintained by the world
// loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	EveryTicks     int
	IncludeTargets bool
}

// ObserverSubscribeRequest updates an existing observer session.
type ObserverSubscribeRequest struct {
	SessionID string

	EveryTicks     int
	IncludeTargets bool
}

type observerClient struct {
	id      string
	tickOut chan []byte

	every      int
	targets    bool
	reportSent bool
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

// Bootstrap is the static part of the observer view. Safe from any goroutine.
func (w *World) Bootstrap() observerproto.BootstrapResponse {
	geo := w.grid.Geometry()
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           w.cfg.RunID,
		Scenario:        w.cfg.Layout.Name,
		Tick:            w.tick.Load(),
		WorldParams: observerproto.WorldParams{
			TickRateHz: w.cfg.Tuning.TickRateHz,
			GridSize:   geo.Size,
			CellWidth:  geo.CellWidth,
			CellHeight: geo.CellHeight,
			Origin:     [2]float64{geo.Origin.X, geo.Origin.Y},
			Seed:       w.cfg.Seed,
			MaxTicks:   w.cfg.Tuning.MaxTicks,
		},
		Walls: [][2]int{},
		Zones: []observerproto.ZoneInfo{},
	}
	for _, c := range w.grid.Walls() {
		resp.Walls = append(resp.Walls, [2]int{c.X, c.Y})
	}
	for _, z := range w.reg.Zones() {
		resp.Zones = append(resp.Zones, observerproto.ZoneInfo{Color: z.Color.String(), Cell: [2]int{z.Cell.X, z.Cell.Y}})
	}
	return resp
}

func clampEvery(v int) int {
	if v < 1 {
		return 1
	}
	if v > 1000 {
		return 1000
	}
	return v
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	c := &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		every:   clampEvery(req.EveryTicks),
		targets: req.IncludeTargets,
	}
	w.observers[req.SessionID] = c
	if w.Done() {
		w.sendReport(c)
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.every = clampEvery(req.EveryTicks)
	c.targets = req.IncludeTargets
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
}

// drainObserverRequests applies queued requests when the world is stepped
// directly rather than through Run.
func (w *World) drainObserverRequests() {
	for {
		select {
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		default:
			return
		}
	}
}

func (w *World) closeObservers() {
	for id, c := range w.observers {
		delete(w.observers, id)
		close(c.tickOut)
	}
}

func (w *World) stepObservers(now uint64, st *Stats, conflicts []arbiter.Conflict) {
	if len(w.observers) == 0 {
		return
	}
	var plain, withTargets []byte
	for _, c := range w.observers {
		if now%uint64(c.every) == 0 || w.Done() {
			var b []byte
			if c.targets {
				if withTargets == nil {
					withTargets = w.tickMessage(now, st, conflicts, true)
				}
				b = withTargets
			} else {
				if plain == nil {
					plain = w.tickMessage(now, st, conflicts, false)
				}
				b = plain
			}
			sendLatest(c.tickOut, b)
		}
		if w.Done() && !c.reportSent {
			w.sendReport(c)
		}
	}
}

func (w *World) tickMessage(now uint64, st *Stats, conflicts []arbiter.Conflict, targets bool) []byte {
	msg := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            now,
		Live:            st.Live,
		Carried:         st.Carried,
		Delivered:       st.Delivered,
		Waiting:         st.Waiting,
		Agents:          make([]observerproto.AgentState, 0, len(st.Agents)),
	}
	for _, a := range st.Agents {
		as := observerproto.AgentState{
			ID:        a.ID,
			Color:     a.Color.String(),
			State:     a.State.String(),
			Cell:      [2]int{a.Cell.X, a.Cell.Y},
			Pos:       [2]float64{a.Pos.X, a.Pos.Y},
			Carrying:  a.Carrying,
			Delivered: a.Delivered,
			Moves:     a.Moves,
			WaitTicks: w.arb.WaitTicks(a.ID),
		}
		if a.Target != nil {
			as.Target = &[2]int{a.Target.X, a.Target.Y}
		}
		msg.Agents = append(msg.Agents, as)
	}
	for _, c := range conflicts {
		msg.Conflicts = append(msg.Conflicts, observerproto.ConflictInfo{Winner: c.Winner, Loser: c.Loser})
	}
	if targets {
		for _, t := range w.reg.Targets() {
			if t.Status != registry.StatusLive {
				continue
			}
			msg.Targets = append(msg.Targets, observerproto.TargetState{
				ID:    int(t.ID),
				Color: t.Color.String(),
				Cell:  [2]int{t.Cell.X, t.Cell.Y},
			})
		}
	}
	b, _ := json.Marshal(msg)
	return b
}

func (w *World) sendReport(c *observerClient) {
	r := w.Report()
	b, _ := json.Marshal(observerproto.ReportMsg{
		Type:            observerproto.TypeReport,
		ProtocolVersion: observerproto.Version,
		Tick:            w.tick.Load(),
		Reason:          string(r.Reason),
		Collected:       r.Collected,
		Initial:         r.Initial,
		SuccessPct:      r.SuccessPct,
		Success:         r.Success,
		TotalMoves:      r.TotalMoves,
		Efficiency:      r.Efficiency,
		ElapsedTicks:    r.ElapsedTicks,
	})
	sendLatest(c.tickOut, b)
	c.reportSent = true
}
