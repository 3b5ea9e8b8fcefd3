package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// StateDigest hashes the tick, every agent and every target in id order.
// Two runs with the same layout, tuning and seed produce the same digest at
// every tick.
func (w *World) StateDigest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, w.tick.Load())
	for _, a := range w.agents {
		digestWriteI64(h, &tmp, int64(a.ID()))
		c := a.Cell()
		digestWriteI64(h, &tmp, int64(c.X))
		digestWriteI64(h, &tmp, int64(c.Y))
		p := a.Pos()
		digestWriteU64(h, &tmp, math.Float64bits(p.X))
		digestWriteU64(h, &tmp, math.Float64bits(p.Y))
		h.Write([]byte{byte(a.State()), boolByte(a.Carrying())})
		digestWriteI64(h, &tmp, int64(a.Delivered()))
		digestWriteI64(h, &tmp, int64(a.Moves()))
	}
	for _, t := range w.reg.Targets() {
		digestWriteI64(h, &tmp, int64(t.ID))
		h.Write([]byte{byte(t.Color), byte(t.Status)})
		digestWriteI64(h, &tmp, int64(t.Cell.X))
		digestWriteI64(h, &tmp, int64(t.Cell.Y))
		digestWriteI64(h, &tmp, int64(t.Carrier))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Conservation checks that every target is live, carried or delivered, and
// that the registry's carried targets are exactly the ones agents hold.
func (w *World) Conservation() error {
	c := w.reg.Counts()
	if c.Live+c.Carried+c.Delivered != c.Total {
		return fmt.Errorf("tick %d: live %d + carried %d + delivered %d != total %d",
			w.tick.Load(), c.Live, c.Carried, c.Delivered, c.Total)
	}
	if c.Total != w.initial {
		return fmt.Errorf("tick %d: total %d != initial %d", w.tick.Load(), c.Total, w.initial)
	}
	carrying := 0
	for _, a := range w.agents {
		id, ok := a.CarriedID()
		if !ok {
			continue
		}
		carrying++
		t, found := w.reg.Get(id)
		if !found || t.Carrier != a.ID() {
			return fmt.Errorf("tick %d: agent %d holds target %d owned by %d", w.tick.Load(), a.ID(), id, t.Carrier)
		}
	}
	if carrying != c.Carried {
		return fmt.Errorf("tick %d: %d agents carrying, registry says %d", w.tick.Load(), carrying, c.Carried)
	}
	return nil
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
