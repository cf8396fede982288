package rlc

import (
	"time"

	"github.com/telcogo/uecore/internal/bufpool"
)

// snDistance computes (a - b) mod modulus, the standard RLC window
// arithmetic helper used throughout spec.md §3.4/§3.5's invariants.
func snDistance(a, b uint16, modulus uint32) uint32 {
	d := int64(a) - int64(b)
	m := int64(modulus)
	d %= m
	if d < 0 {
		d += m
	}
	return uint32(d)
}

// inWindow reports whether sn lies in [base, base+size) modulo modulus.
func inWindow(sn, base uint16, size, modulus uint32) bool {
	return snDistance(sn, base, modulus) < size
}

// Segment is one received fragment of a PDU payload, keyed by its byte
// offset within the reassembled SDU (spec.md §3.5).
type Segment struct {
	Offset uint16
	Data   []byte
	Last   bool // true iff this segment carries the SDU's final bytes
}

// reassembly accumulates segments for one SN until the full SDU is present.
type reassembly struct {
	segments []Segment // kept sorted by Offset, non-overlapping
	complete bool
	recvTime time.Time // time of the most recently stored segment, for latency accounting
}

func (r *reassembly) add(seg Segment) {
	// Reject exact-duplicate offsets; anything else the caller already
	// filtered via the duplicate-SN check before reaching here.
	for _, existing := range r.segments {
		if existing.Offset == seg.Offset {
			return
		}
	}
	r.segments = append(r.segments, seg)
	// insertion sort by offset; segment counts per SN are tiny
	for i := len(r.segments) - 1; i > 0 && r.segments[i-1].Offset > r.segments[i].Offset; i-- {
		r.segments[i-1], r.segments[i] = r.segments[i], r.segments[i-1]
	}
	r.recomputeComplete()
}

func (r *reassembly) recomputeComplete() {
	if len(r.segments) == 0 {
		r.complete = false
		return
	}
	if r.segments[0].Offset != 0 {
		r.complete = false
		return
	}
	want := uint16(0)
	for _, seg := range r.segments {
		if seg.Offset != want {
			r.complete = false
			return
		}
		want += uint16(len(seg.Data))
		if seg.Last {
			r.complete = true
			return
		}
	}
	r.complete = false
}

func (r *reassembly) sdu() []byte {
	total := 0
	for _, seg := range r.segments {
		total += len(seg.Data)
	}
	out := make([]byte, 0, total)
	for _, seg := range r.segments {
		out = append(out, seg.Data...)
	}
	return out
}

// pendingTxPDU is a window entry on the TX side: a PDU already sent and
// held for retransmission, per tx_window's contract in spec.md §3.4. The
// backing bytes live in an allocator handle rather than a bare slice so the
// buffer is returned to the pool as soon as the peer ACKs the SN (spec.md
// §9 design note on the injected-allocator interface).
type pendingTxPDU struct {
	sn      uint16
	payload []byte
	handle  *bufpool.Handle
}

// retxEntry annotates a SN awaiting retransmission with the segmentation
// sub-range still outstanding.
type retxEntry struct {
	sn        uint16
	offset    int
	length    int
	retxCount int
}
