package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"gemrunners.ai/internal/observerproto"
	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
	"gemrunners.ai/internal/sim/world"
)

func startWorld(t *testing.T, cfg world.WorldConfig) (*world.World, *httptest.Server) {
	t.Helper()
	w, err := world.New(cfg, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	s := NewServer(w, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", s.WSHandler())
	mux.HandleFunc("/v1/stats", s.StatsHandler())
	mux.HandleFunc("/v1/report", s.ReportHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return w, srv
}

func dial(t *testing.T, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func readTyped(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(b, &head)
		if head.Type == typ {
			return b
		}
	}
}

func validate(t *testing.T, schema string, b []byte) {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", schema))
	if err != nil {
		t.Fatalf("compile %s: %v", schema, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("%s: %v\n%s", schema, err, b)
	}
}

func TestObserver_StreamsTicks(t *testing.T) {
	tune := tuning.Defaults()
	tune.TickRateHz = 100
	_, srv := startWorld(t, world.WorldConfig{RunID: "obs", Tuning: tune, Layout: scenario.Default(12, 2, 5)})

	conn := dial(t, srv, observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		EveryTicks:      2,
		IncludeTargets:  true,
	})
	b := readTyped(t, conn, observerproto.TypeTick)
	validate(t, "observer_tick.schema.json", b)

	var m observerproto.TickMsg
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Tick%2 != 0 || len(m.Agents) != 3 {
		t.Fatalf("tick msg: tick=%d agents=%d", m.Tick, len(m.Agents))
	}
	if m.Live+m.Carried+m.Delivered != 6 {
		t.Fatalf("counts do not add up: %+v", m)
	}
	if len(m.Targets) != m.Live {
		t.Fatalf("targets %d != live %d", len(m.Targets), m.Live)
	}
}

func TestObserver_LateJoinGetsReport(t *testing.T) {
	tune := tuning.Defaults()
	tune.MaxTicks = 50
	w, srv := startWorld(t, world.WorldConfig{RunID: "late", Tuning: tune, Layout: scenario.Default(12, 2, 5), Headless: true})

	deadline := time.Now().Add(5 * time.Second)
	for !w.Stats().Done {
		if time.Now().After(deadline) {
			t.Fatalf("headless run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn := dial(t, srv, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version})
	b := readTyped(t, conn, observerproto.TypeReport)
	validate(t, "observer_report.schema.json", b)

	var r observerproto.ReportMsg
	_ = json.Unmarshal(b, &r)
	if r.Tick != w.Report().ElapsedTicks || r.Initial != 6 {
		t.Fatalf("report: %+v", r)
	}

	resp, err := http.Get(srv.URL + "/v1/report")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	defer resp.Body.Close()
	var rep world.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RunID != "late" || rep.Reason == world.ReasonRunning {
		t.Fatalf("http report: %+v", rep)
	}
}

func TestObserver_RejectsBadHandshake(t *testing.T) {
	_, srv := startWorld(t, world.WorldConfig{RunID: "bad", Tuning: tuning.Defaults(), Layout: scenario.Default(8, 1, 1)})
	conn := dial(t, srv, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	_, srv := startWorld(t, world.WorldConfig{RunID: "boot", Tuning: tuning.Defaults(), Layout: scenario.Default(8, 1, 1)})

	resp, err := http.Get(srv.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.RunID != "boot" || b.WorldParams.GridSize != 8 || b.ProtocolVersion != observerproto.Version {
		t.Fatalf("bootstrap: %+v", b)
	}

	post, err := http.Post(srv.URL+"/v1/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status: %d", post.StatusCode)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
