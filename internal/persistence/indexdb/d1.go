package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gemrunners.ai/internal/sim/world"
)

// D1Config points the index at an HTTP batch-ingest endpoint (a Cloudflare
// D1 worker, or anything that accepts the same JSON body).
type D1Config struct {
	Endpoint      string
	Token         string
	RunID         string
	TickEvery     uint64
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	seqMu         sync.Mutex
	lastEventTick uint64
	eventSeq      int

	queueDropped atomic.Uint64
	batchDropped atomic.Uint64
	flushOK      atomic.Uint64
	flushFail    atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload"`
}

type d1RunPayload struct {
	Seed     int64  `json:"seed"`
	Scenario string `json:"scenario"`
	GridSize int    `json:"grid_size"`
	Agents   int    `json:"agents"`
	Digest   string `json:"tuning_digest"`
	Tuning   string `json:"tuning_json"`
}

type d1TickPayload struct {
	Tick      uint64 `json:"tick"`
	Live      int    `json:"live"`
	Carried   int    `json:"carried"`
	Delivered int    `json:"delivered"`
	Digest    string `json:"digest"`
}

type d1EventPayload struct {
	Seq int              `json:"seq"`
	Raw world.EventEntry `json:"raw"`
}

// D1Stats counts queue and delivery outcomes.
type D1Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	BatchDroppedTotal uint64 `json:"batch_dropped_total"`
	FlushOKTotal      uint64 `json:"flush_ok_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.RunID = strings.TrimSpace(cfg.RunID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if cfg.TickEvery == 0 {
		cfg.TickEvery = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) Stats() D1Stats {
	return D1Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		BatchDroppedTotal: d.batchDropped.Load(),
		FlushOKTotal:      d.flushOK.Load(),
		FlushFailTotal:    d.flushFail.Load(),
	}
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	if entry.Run != nil {
		digest, tuneJSON := tuningDigest(entry.Run.Tuning)
		d.enqueue(d1Event{Kind: "run", RunID: d.cfg.RunID, Payload: d1RunPayload{
			Seed:     entry.Run.Seed,
			Scenario: entry.Run.Layout.Name,
			GridSize: entry.Run.Layout.Geometry.Size,
			Agents:   len(entry.Run.Layout.Agents),
			Digest:   digest,
			Tuning:   tuneJSON,
		}})
	} else if entry.Tick%d.cfg.TickEvery != 0 && entry.Live+entry.Carried != 0 {
		return nil
	}
	d.enqueue(d1Event{Kind: "tick", RunID: d.cfg.RunID, Payload: d1TickPayload{
		Tick:      entry.Tick,
		Live:      entry.Live,
		Carried:   entry.Carried,
		Delivered: entry.Delivered,
		Digest:    entry.Digest,
	}})
	return nil
}

func (d *D1Index) WriteEvent(entry world.EventEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	kind := strings.ToLower(entry.Kind)
	d.enqueue(d1Event{Kind: kind, RunID: d.cfg.RunID, Payload: d1EventPayload{
		Seq: d.nextEventSeq(entry.Tick),
		Raw: entry,
	}})
	return nil
}

func (d *D1Index) nextEventSeq(tick uint64) int {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	if tick != d.lastEventTick {
		d.lastEventTick = tick
		d.eventSeq = 0
	}
	seq := d.eventSeq
	d.eventSeq++
	return seq
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s run=%s", ev.Kind, ev.RunID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	// A failed batch is kept and retried on the next flush, up to this many events.
	retain := 8 * d.cfg.BatchSize
	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - retain; over > 0 {
				d.batchDropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-gr-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
