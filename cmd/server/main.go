package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gemrunners.ai/internal/persistence/indexdb"
	persistlog "gemrunners.ai/internal/persistence/log"
	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
	"gemrunners.ai/internal/sim/world"
	"gemrunners.ai/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8080", "http listen address (empty to disable)")
		configDir    = flag.String("configs", "./configs", "config directory")
		scenarioPath = flag.String("scenario", "", "scenario yaml (default: <configs>/scenarios/corners19.yaml; \"default\" for the built-in corners layout)")
		gridSize     = flag.Int("grid", 19, "grid size for -scenario=default")
		perColor     = flag.Int("per_color", 7, "targets per color for -scenario=default")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		seed         = flag.Int64("seed", 0, "run seed (0: use the scenario's seed)")
		runIDFlag    = flag.String("run", "", "run id (default: random uuid)")
		headless     = flag.Bool("headless", false, "step as fast as possible instead of at tick_rate_hz")
		exitWhenDone = flag.Bool("exit_when_done", false, "shut down once the run completes")
		disableDB    = flag.Bool("disable_db", false, "disable the run index")
		allowRemote  = flag.Bool("allow_remote", false, "serve observer endpoints to non-loopback clients")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	layout, err := loadLayout(*configDir, *scenarioPath, *gridSize, *perColor, *seed)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	runID := strings.TrimSpace(*runIDFlag)
	if runID == "" {
		runID = uuid.NewString()
	}
	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}

	w, err := world.New(world.WorldConfig{
		RunID:        runID,
		Seed:         *seed,
		Tuning:       tune,
		Layout:       layout,
		Headless:     *headless,
		StopWhenDone: *exitWhenDone,
	}, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, idxPath, err := openRuntimeIndex(*dataDir, runID, tune.Logs.IndexEveryTicks, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	tickLog := persistlog.NewTickLogger(runDir)
	eventLog := persistlog.NewEventLogger(runDir)
	defer tickLog.Close()
	defer eventLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetEventLogger(multiEventLogger{a: eventLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Run(gctx)
		// Run returns nil on its own only when the run is over and
		// -exit_when_done is set; take the HTTP server down with it.
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if *addr != "" {
		srv := &http.Server{
			Addr:              *addr,
			Handler:           newMux(w, idx, idxPath, *allowRemote, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Printf("listening on %s run=%s", *addr, runID)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ListenAndServe: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return srv.Shutdown(ctx2)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}

	rep := w.Report()
	if err := writeReport(filepath.Join(runDir, "report.json"), rep); err != nil {
		logger.Printf("write report: %v", err)
	}
	logger.Printf("run %s: reason=%q ticks=%d collected=%d/%d (%.1f%%) success=%v efficiency=%.3f",
		runID, rep.Reason, rep.ElapsedTicks, rep.Collected, rep.Initial, rep.SuccessPct, rep.Success, rep.Efficiency)
}

func loadLayout(configDir, path string, size, perColor int, seed int64) (scenario.Layout, error) {
	switch strings.TrimSpace(path) {
	case "default":
		if seed == 0 {
			seed = 1337
		}
		return scenario.Default(size, perColor, seed), nil
	case "":
		path = filepath.Join(configDir, "scenarios", "corners19.yaml")
	}
	return scenario.Load(path)
}

func newMux(w *world.World, idx runtimeIndex, idxPath string, allowRemote bool, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, w, idx)
	})

	obsSrv := observer.NewServer(w, logger)
	obsSrv.AllowRemote = allowRemote
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())
	mux.HandleFunc("/v1/stats", obsSrv.StatsHandler())
	mux.HandleFunc("/v1/report", obsSrv.ReportHandler())

	if idxPath != "" {
		mux.HandleFunc("/v1/runs", func(rw http.ResponseWriter, r *http.Request) {
			if !allowRemote && !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rd, err := indexdb.OpenReader(idxPath)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			defer rd.Close()
			runs, err := rd.Runs(r.Context(), 50)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(runs)
		})
	}

	if envBool("GR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (GR_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

func writeMetrics(rw http.ResponseWriter, w *world.World, idx runtimeIndex) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := w.Stats()
	run := st.RunID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP gemrunners_tick Current simulation tick.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_tick gauge\n")
	fmt.Fprintf(rw, "gemrunners_tick{run=%q} %d\n", run, st.Tick)

	fmt.Fprintf(rw, "# HELP gemrunners_targets Targets by status.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_targets gauge\n")
	fmt.Fprintf(rw, "gemrunners_targets{run=%q,status=%q} %d\n", run, "live", st.Live)
	fmt.Fprintf(rw, "gemrunners_targets{run=%q,status=%q} %d\n", run, "carried", st.Carried)
	fmt.Fprintf(rw, "gemrunners_targets{run=%q,status=%q} %d\n", run, "delivered", st.Delivered)

	fmt.Fprintf(rw, "# HELP gemrunners_moves_total Cell moves started by all agents.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_moves_total counter\n")
	fmt.Fprintf(rw, "gemrunners_moves_total{run=%q} %d\n", run, st.TotalMoves)

	fmt.Fprintf(rw, "# HELP gemrunners_waiting_agents Agents held by the collision arbiter.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_waiting_agents gauge\n")
	fmt.Fprintf(rw, "gemrunners_waiting_agents{run=%q} %d\n", run, st.Waiting)

	fmt.Fprintf(rw, "# HELP gemrunners_min_separation Smallest distance between two agents, in world units.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_min_separation gauge\n")
	fmt.Fprintf(rw, "gemrunners_min_separation{run=%q} %g\n", run, st.MinSeparation)

	fmt.Fprintf(rw, "# HELP gemrunners_agent_state Agents per controller state.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_agent_state gauge\n")
	states := map[string]int{}
	for _, a := range st.Agents {
		states[a.State.String()]++
	}
	for _, s := range []string{"EXPLORING", "MOVING_TO_TARGET", "RETURNING_HOME", "WAITING"} {
		fmt.Fprintf(rw, "gemrunners_agent_state{run=%q,state=%q} %d\n", run, s, states[s])
	}

	done := 0
	if st.Done {
		done = 1
	}
	fmt.Fprintf(rw, "# HELP gemrunners_run_done 1 once the run has completed.\n")
	fmt.Fprintf(rw, "# TYPE gemrunners_run_done gauge\n")
	fmt.Fprintf(rw, "gemrunners_run_done{run=%q} %d\n", run, done)

	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		qs := x.Stats()
		fmt.Fprintf(rw, "# HELP gemrunners_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE gemrunners_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "gemrunners_index_queue_depth{backend=%q} %d\n", "sqlite", qs.QueueDepth)
		fmt.Fprintf(rw, "# HELP gemrunners_index_dropped_total Index writes dropped under load.\n")
		fmt.Fprintf(rw, "# TYPE gemrunners_index_dropped_total counter\n")
		fmt.Fprintf(rw, "gemrunners_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "tick", qs.DropTickTotal)
		fmt.Fprintf(rw, "gemrunners_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "event", qs.DropEventTotal)
	case *indexdb.D1Index:
		ds := x.Stats()
		fmt.Fprintf(rw, "# HELP gemrunners_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE gemrunners_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "gemrunners_index_queue_depth{backend=%q} %d\n", "d1", ds.QueueDepth)
		fmt.Fprintf(rw, "# HELP gemrunners_index_flush_fail_total Failed D1 batch flushes.\n")
		fmt.Fprintf(rw, "# TYPE gemrunners_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "gemrunners_index_flush_fail_total{backend=%q} %d\n", "d1", ds.FlushFailTotal)
	}
}

func writeReport(path string, r world.Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiEventLogger struct {
	a world.EventLogger
	b world.EventLogger
}

func (m multiEventLogger) WriteEvent(entry world.EventEntry) error {
	if m.a != nil {
		_ = m.a.WriteEvent(entry)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(entry)
	}
	return nil
}
