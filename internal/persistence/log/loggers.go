package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"gemrunners.ai/internal/sim/world"
)

// DefaultSegmentLines bounds a single compressed segment.
const DefaultSegmentLines = 50_000

// JSONLZstdWriter appends JSON lines to numbered zstd segments
// (<prefix>-000001.jsonl.zst, ...). Segment names depend only on how many
// lines were written, so two runs with the same inputs produce the same files.
type JSONLZstdWriter struct {
	baseDir      string
	prefix       string
	segmentLines int

	mu      sync.Mutex
	segment int
	lines   int
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, segmentLines int) *JSONLZstdWriter {
	if segmentLines <= 0 {
		segmentLines = DefaultSegmentLines
	}
	return &JSONLZstdWriter{
		baseDir:      baseDir,
		prefix:       prefix,
		segmentLines: segmentLines,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil || w.lines >= w.segmentLines {
		if err := w.rotateLocked(w.segment + 1); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(segment int) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForSegment(segment)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.segment = segment
	w.lines = 0
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(segment int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%06d.jsonl.zst", w.prefix, segment))
}

// Segments lists the segment files for prefix under dir in write order.
func Segments(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadJSONL decodes every line of every segment in order and hands the raw
// JSON to fn. Reading stops at the first error fn returns.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	paths, err := Segments(dir, prefix)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s segments in %s", prefix, dir)
	}
	for _, p := range paths {
		if err := readSegment(p, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func readSegment(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(line[:len(line)-1]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// TickLogger writes one JSONL entry per logged tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(runDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "ticks"), "ticks", 0)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// ReadTicks replays a run's tick log.
func ReadTicks(runDir string, fn func(world.TickLogEntry) error) error {
	return ReadJSONL(filepath.Join(runDir, "ticks"), "ticks", func(b []byte) error {
		var e world.TickLogEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		return fn(e)
	})
}

// EventLogger writes delivery, conflict and completion entries (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(runDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "events"), "events", 0)}
}

func (l *EventLogger) WriteEvent(v world.EventEntry) error { return l.w.Write(v) }
func (l *EventLogger) Close() error                        { return l.w.Close() }

// ReadEvents replays a run's event log.
func ReadEvents(runDir string, fn func(world.EventEntry) error) error {
	return ReadJSONL(filepath.Join(runDir, "events"), "events", func(b []byte) error {
		var e world.EventEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		return fn(e)
	})
}
