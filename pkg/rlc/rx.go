package rlc

import (
	"log/slog"
	"sync"
	"time"
)

// RX is the receive half of an RLC-AM entity (spec.md §3.5, §4.3.2).
type RX struct {
	mu     sync.Mutex
	logger *slog.Logger
	entity *Entity
	upper  UpperLayer
	config BearerConfig

	running bool

	rxNext    uint16 // lowest SN not yet received in-order
	rxHighest uint16 // one past the highest SN seen so far

	reasm map[uint16]*reassembly

	reorderDeadline    time.Time
	hasReorderDeadline bool

	rxLatencyMs   float64
	rxLatencyN    int
	bufferedBytes int
}

func newRX(config BearerConfig, logger *slog.Logger, upper UpperLayer, entity *Entity) *RX {
	return &RX{
		logger: logger,
		entity: entity,
		upper:  upper,
		config: config,
		reasm:  make(map[uint16]*reassembly),
	}
}

// Configure updates bearer parameters and enables the RX half.
func (r *RX) Configure(config BearerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	r.running = true
}

// Stop flips the running flag; buffered reassembly state is left intact so
// a later Reestablish (not a bare restart) is the only thing that clears it.
func (r *RX) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Reestablish resets RX to the state of a freshly constructed entity,
// keeping the last configured BearerConfig. Fields are reset individually
// rather than via a struct-literal replace, since replacing the mutex
// field out from under a held lock would leave the deferred Unlock call
// below operating on a freshly zeroed (already-unlocked) mutex.
func (r *RX) Reestablish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.rxNext = 0
	r.rxHighest = 0
	r.reasm = make(map[uint16]*reassembly)
	r.reorderDeadline = time.Time{}
	r.hasReorderDeadline = false
	r.rxLatencyMs = 0
	r.rxLatencyN = 0
	r.bufferedBytes = 0
}

// HandleDataPDU decodes and processes one received data PDU (spec.md
// §4.3.2, §6.2): parse header, drop a duplicate of an SN already
// delivered, store the segment into rx_window, and on complete SDU
// reassembly deliver to the upper layer in SN order starting from
// rx_next. A malformed PDU is reported via ErrMalformedPDU without
// disturbing any window state.
func (r *RX) HandleDataPDU(pdu []byte, recvTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotEnabled
	}
	h, n, err := DecodeHeader(pdu, r.config.SNSize)
	if err != nil {
		return err
	}
	payload := pdu[n:]
	modulus := r.config.Modulus()
	windowSize := r.config.WindowSize()

	if snDistance(h.SN, r.rxNext, modulus) >= windowSize {
		// Already delivered (behind rx_next) or outside the receive window:
		// drop silently, do not NACK.
		r.logger.Debug("dropping duplicate or out-of-window pdu", "sn", h.SN, "rxNext", r.rxNext)
		return nil
	}

	asm, ok := r.reasm[h.SN]
	if !ok {
		asm = &reassembly{}
		r.reasm[h.SN] = asm
	} else if asm.complete {
		r.logger.Debug("dropping duplicate pdu", "sn", h.SN)
		if h.Poll {
			r.requireStatus()
		}
		return nil
	}

	last := h.SI == SegmentationFull || h.SI == SegmentationLast
	offset := h.SegmentOffset
	if h.SI == SegmentationFull {
		offset = 0
	}
	before := len(asm.segments)
	asm.add(Segment{Offset: offset, Data: payload, Last: last})
	asm.recvTime = recvTime
	if len(asm.segments) > before {
		r.bufferedBytes += len(payload)
	}

	if snDistance(h.SN, r.rxNext, modulus) >= snDistance(r.rxHighest, r.rxNext, modulus) {
		r.rxHighest = uint16((uint32(h.SN) + 1) % modulus)
	}

	r.deliverInOrder()
	r.updateReorderTimer(modulus)

	if h.Poll {
		r.requireStatus()
	}
	return nil
}

// deliverInOrder delivers every contiguous, fully-reassembled SDU starting
// at rx_next, in SN order, advancing rx_next past each one (spec.md §4.3.2,
// §8: "the sequence of SNs observed by the upper layer is strictly
// increasing and contiguous"). Callers must already hold r.mu.
func (r *RX) deliverInOrder() {
	modulus := r.config.Modulus()
	for {
		asm, ok := r.reasm[r.rxNext]
		if !ok || !asm.complete {
			return
		}
		r.deliver(asm)
		delete(r.reasm, r.rxNext)
		r.rxNext = uint16((uint32(r.rxNext) + 1) % modulus)
	}
}

// deliver hands a reassembled SDU to the upper layer. Callers must already
// hold r.mu.
func (r *RX) deliver(asm *reassembly) {
	sdu := asm.sdu()
	r.bufferedBytes -= len(sdu)
	r.upper.WriteSDU(sdu)

	latencyMs := float64(clockNow().Sub(asm.recvTime)) / float64(time.Millisecond)
	r.rxLatencyN++
	r.rxLatencyMs += (latencyMs - r.rxLatencyMs) / float64(r.rxLatencyN)
}

// updateReorderTimer starts the reordering timer when rx_window holds an
// incomplete SN below rx_highest-1 and the timer is not already running
// (spec.md §4.3.2 "Reordering"). Callers must already hold r.mu.
func (r *RX) updateReorderTimer(modulus uint32) {
	if r.hasReorderDeadline || r.config.TReordering <= 0 {
		return
	}
	span := snDistance(r.rxHighest, r.rxNext, modulus)
	if span == 0 {
		return
	}
	for i := uint32(0); i < span-1; i++ {
		sn := uint16((uint32(r.rxNext) + i) % modulus)
		asm, ok := r.reasm[sn]
		if !ok || !asm.complete {
			r.reorderDeadline = clockNow().Add(r.config.TReordering)
			r.hasReorderDeadline = true
			return
		}
	}
}

// requireStatus signals TX that a status report is owed. Callers must
// already hold r.mu; notifyStatusRequired takes TX's own (distinct) mutex.
func (r *RX) requireStatus() {
	r.entity.notifyStatusRequired()
}

// buildStatusReport composes the current ACK_SN/NACK state as a
// StatusReport (spec.md §6.4). ACK_SN is rx_next; NACKs cover every SN in
// [rx_next, rx_highest) that is not yet fully reassembled.
func (r *RX) buildStatusReport() StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	modulus := r.config.Modulus()
	report := StatusReport{AckSN: r.rxNext}
	span := snDistance(r.rxHighest, r.rxNext, modulus)
	for i := uint32(0); i < span; i++ {
		sn := uint16((uint32(r.rxNext) + i) % modulus)
		if asm, ok := r.reasm[sn]; ok && asm.complete {
			continue
		}
		report.Nacks = append(report.Nacks, NackRange{SN: sn})
	}
	return report
}

// checkReorderTimeout is driven by the owning entity's periodic tick
// (Entity.Tick). On t-Reordering expiry it advances rx_next past any
// stale incomplete SNs (declaring them lost), delivering any SDUs that
// were only blocked by the gap, then marks status_required (spec.md
// §4.3.2).
func (r *RX) checkReorderTimeout(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasReorderDeadline || now.Before(r.reorderDeadline) {
		return
	}
	r.hasReorderDeadline = false
	modulus := r.config.Modulus()
	for r.rxNext != r.rxHighest {
		asm, ok := r.reasm[r.rxNext]
		if ok && asm.complete {
			r.deliver(asm)
		} else if ok {
			for _, seg := range asm.segments {
				r.bufferedBytes -= len(seg.Data)
			}
		}
		delete(r.reasm, r.rxNext)
		r.rxNext = uint16((uint32(r.rxNext) + 1) % modulus)
	}
	r.requireStatus()
}

// GetSDURxLatencyMs returns the running mean end-to-end SDU latency
// (SPEC_FULL supplemented feature: Welford-style incremental mean).
func (r *RX) GetSDURxLatencyMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxLatencyMs
}

// GetRxBufferedBytes reports payload bytes currently held in rx_window
// awaiting delivery, whether or not their SDU is fully reassembled.
func (r *RX) GetRxBufferedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferedBytes
}
