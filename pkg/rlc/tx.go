package rlc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/telcogo/uecore/internal/bufpool"
)

type sduEntry struct {
	id    uint32
	bytes []byte
}

// TX is the transmit half of an RLC-AM entity (spec.md §3.4, §4.3.1).
type TX struct {
	mu     sync.Mutex
	logger *slog.Logger
	entity *Entity
	alloc  bufpool.Allocator
	config BearerConfig

	enabled bool
	running bool

	txNext    uint16
	ackBase   uint16 // lowest unacknowledged SN
	nextSDUID uint32

	sduQueue   []sduEntry
	queueBytes int

	txWindow  map[uint16]pendingTxPDU
	retxQueue []retxEntry

	pduWithoutPoll  uint32
	byteWithoutPoll uint32
	pollSN          uint16
	pollDeadline    time.Time
	hasPollDeadline bool

	statusRequired      bool
	prohibitDeadline    time.Time
	hasProhibitDeadline bool

	onMaxRetx func(sn uint16)
}

// defaultPDUBufferSize bounds the buffer class used to retain in-flight
// PDU payloads when the caller does not inject an allocator.
const defaultPDUBufferSize = 9000

func newTX(config BearerConfig, logger *slog.Logger, entity *Entity, alloc bufpool.Allocator) *TX {
	if alloc == nil {
		alloc = bufpool.New(defaultPDUBufferSize)
	}
	return &TX{
		logger:    logger,
		entity:    entity,
		alloc:     alloc,
		config:    config,
		txWindow:  make(map[uint16]pendingTxPDU),
		retxQueue: nil,
	}
}

// Configure records bearer configuration and enables the TX (spec.md
// §4.3.1). It rejects configurations whose queue bound exceeds
// MaxSDUsPerPDU.
func (t *TX) Configure(config BearerConfig) error {
	if config.MaxTxQueueSDUs > MaxSDUsPerPDU {
		return ErrIllegalBearerConfig
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config = config
	t.enabled = true
	t.running = true
	return nil
}

// OnMaxRetx registers the callback fired when a SN's retransmission count
// exceeds config.MaxRetxThreshold (SPEC_FULL supplemented feature).
func (t *TX) OnMaxRetx(cb func(sn uint16)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMaxRetx = cb
}

// WriteSDU enqueues an SDU from the upper layer, returning its assigned
// queue id (used later by DiscardSDU) and any queueing error.
func (t *TX) WriteSDU(b []byte) (id uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return 0, ErrNotEnabled
	}
	if t.config.MaxTxQueueSDUs > 0 && len(t.sduQueue) >= t.config.MaxTxQueueSDUs {
		return 0, ErrQueueFull
	}
	if t.config.MaxTxQueueBytes > 0 && t.queueBytes+len(b) > t.config.MaxTxQueueBytes {
		return 0, ErrQueueFull
	}
	t.nextSDUID++
	id = t.nextSDUID
	cp := make([]byte, len(b))
	copy(cp, b)
	t.sduQueue = append(t.sduQueue, sduEntry{id: id, bytes: cp})
	t.queueBytes += len(cp)
	return id, nil
}

// DiscardSDU removes a queued-but-not-yet-transmitted SDU by its WriteSDU
// id. Returns false if it was not found (already sent or unknown id).
func (t *TX) DiscardSDU(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.sduQueue {
		if e.id == id {
			t.queueBytes -= len(e.bytes)
			t.sduQueue = append(t.sduQueue[:i], t.sduQueue[i+1:]...)
			return true
		}
	}
	return false
}

// EmptyQueue drops every queued SDU without transmitting it.
func (t *TX) EmptyQueue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sduQueue = nil
	t.queueBytes = 0
}

// GetBufferState reports not-yet-transmitted SDU queue bytes and the byte
// count belonging to PDUs awaiting retransmission (spec.md §4.3.1 — used by
// MAC for scheduling priority; spec.md §8 scenario 4: once every queued SDU
// has been read out as a PDU, get_buffer_state returns 0 even though those
// PDUs remain held in tx_window for possible retransmission). Bytes already
// handed to the MAC and retained only for ARQ are not reported here, same
// as the original rlc_am_nr.cc::get_buffer_state, which never folds
// tx_window into the byte count.
func (t *TX) GetBufferState() (bytes int, priorityBytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bytes = t.queueBytes
	for _, r := range t.retxQueue {
		priorityBytes += r.length
	}
	return bytes, priorityBytes
}

// Stop flips the running flag; observed at the next operation.
func (t *TX) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// Reestablish resets TX to the state of a freshly constructed entity,
// keeping the last configured BearerConfig (spec.md §8 round-trip
// property). Fields are reset individually rather than via a
// struct-literal replace, since replacing the mutex field out from under
// a held lock would leave the deferred Unlock call below operating on a
// freshly zeroed (already-unlocked) mutex.
func (t *TX) Reestablish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pending := range t.txWindow {
		if pending.handle != nil {
			pending.handle.Release()
		}
	}
	t.running = t.enabled
	t.txNext = 0
	t.ackBase = 0
	t.nextSDUID = 0
	t.sduQueue = nil
	t.queueBytes = 0
	t.txWindow = make(map[uint16]pendingTxPDU)
	t.retxQueue = nil
	t.pduWithoutPoll = 0
	t.byteWithoutPoll = 0
	t.pollSN = 0
	t.pollDeadline = time.Time{}
	t.hasPollDeadline = false
	t.statusRequired = false
	t.prohibitDeadline = time.Time{}
	t.hasProhibitDeadline = false
}

// doStatus reports whether a status PDU is owed right now: RX requested
// one and the status-prohibit timer is not running (spec.md §4.3.1).
func (t *TX) doStatus(now time.Time) bool {
	if !t.statusRequired {
		return false
	}
	if t.hasProhibitDeadline && now.Before(t.prohibitDeadline) {
		return false
	}
	return true
}

// ReadPDU is the MAC-driven transmit opportunity (spec.md §4.3.1). It
// writes at most max_bytes into payloadOut and returns the number of bytes
// written. An oversized SDU with segmentation unsupported yields (0,
// ErrSegmentationUnsupported) rather than a partial header.
func (t *TX) ReadPDU(payloadOut []byte, maxBytes int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0, nil
	}
	now := clockNow()

	// Priority 1: status PDU.
	if t.doStatus(now) {
		report := t.entity.buildStatusReport()
		n, encoded := report.Encode(payloadOut, maxBytes)
		if n > 0 {
			t.statusRequired = false
			if encoded < len(report.Nacks) {
				// not everything fit; remain owed for the next opportunity
				t.statusRequired = true
			}
			t.armStatusProhibit(now)
			return n, nil
		}
	}

	// Priority 2: retransmission.
	if len(t.retxQueue) > 0 {
		return t.readRetx(payloadOut, maxBytes, now)
	}

	// Priority 3: new SDU.
	if len(t.sduQueue) > 0 {
		return t.readNewSDU(payloadOut, maxBytes, now)
	}
	return 0, nil
}

func (t *TX) armStatusProhibit(now time.Time) {
	if t.config.TStatusProhibit <= 0 {
		return
	}
	t.prohibitDeadline = now.Add(t.config.TStatusProhibit)
	t.hasProhibitDeadline = true
}

func (t *TX) readRetx(payloadOut []byte, maxBytes int, now time.Time) (int, error) {
	head := t.retxQueue[0]
	pending, ok := t.txWindow[head.sn]
	if !ok {
		// stale entry (already acked elsewhere); drop and let the caller
		// try the next opportunity.
		t.retxQueue = t.retxQueue[1:]
		return 0, nil
	}
	full := pending.payload
	segEnd := head.offset + head.length
	if segEnd > len(full) {
		segEnd = len(full)
	}
	seg := full[head.offset:segEnd]

	last := segEnd >= len(full)
	si := SegmentationFirst
	if head.offset > 0 && last {
		si = SegmentationLast
	} else if head.offset > 0 {
		si = SegmentationMiddle
	} else if last {
		si = SegmentationFull
	}
	h := Header{SI: si, SNSize: t.config.SNSize, SN: head.sn, SegmentOffset: uint16(head.offset)}
	hn := h.Len()
	avail := maxBytes - hn
	if avail < 0 {
		return 0, nil
	}
	if avail < len(seg) {
		// residue gets re-queued at the head for the next opportunity
		residue := retxEntry{sn: head.sn, offset: head.offset + avail, length: head.length - avail, retxCount: head.retxCount}
		seg = seg[:avail]
		t.retxQueue[0] = residue
		last = false
		if head.offset > 0 {
			si = SegmentationMiddle
		} else {
			si = SegmentationFirst
		}
		h.SI = si
	} else {
		t.retxQueue = t.retxQueue[1:]
		if last {
			t.checkMaxRetx(head.sn, head.retxCount+1)
		}
	}
	n, err := h.Encode(payloadOut)
	if err != nil {
		return 0, err
	}
	copy(payloadOut[n:], seg)
	n += len(seg)
	t.applyPollTriggers(now, 1, uint32(n), false)
	return n, nil
}

func (t *TX) checkMaxRetx(sn uint16, count int) {
	if t.config.MaxRetxThreshold <= 0 || count <= t.config.MaxRetxThreshold {
		return
	}
	if t.onMaxRetx != nil {
		t.onMaxRetx(sn)
	}
}

func (t *TX) readNewSDU(payloadOut []byte, maxBytes int, now time.Time) (int, error) {
	entry := t.sduQueue[0]
	h := Header{SI: SegmentationFull, SNSize: t.config.SNSize, SN: t.txNext}
	hn := h.Len()
	if maxBytes < hn {
		return 0, nil
	}
	if maxBytes-hn < len(entry.bytes) {
		// TX segmentation is not implemented yet (spec.md §9 Open Questions).
		t.logger.Warn("sdu does not fit and tx segmentation is unsupported",
			"sn", t.txNext, "sduBytes", len(entry.bytes), "maxBytes", maxBytes)
		return 0, ErrSegmentationUnsupported
	}

	last := len(t.sduQueue) == 1
	noInFlight := len(t.txWindow) == 0

	n, err := h.Encode(payloadOut)
	if err != nil {
		return 0, err
	}
	copy(payloadOut[n:], entry.bytes)
	n += len(entry.bytes)

	t.sduQueue = t.sduQueue[1:]
	t.queueBytes -= len(entry.bytes)

	handle := t.alloc.Acquire()
	stored := handle.Bytes
	if len(stored) < len(entry.bytes) {
		// configured buffer class is too small for this SDU; fall back to a
		// plain allocation rather than corrupt adjacent bytes.
		handle.Release()
		handle = nil
		stored = make([]byte, len(entry.bytes))
	}
	copy(stored, entry.bytes)
	t.txWindow[t.txNext] = pendingTxPDU{sn: t.txNext, payload: stored[:len(entry.bytes)], handle: handle}

	sn := t.txNext
	t.txNext = uint16((uint32(t.txNext) + 1) % t.config.Modulus())

	poll := t.applyPollTriggers(now, 1, uint32(n), last && noInFlight)
	if poll {
		payloadOut[0] |= 0x40 // set the poll bit on the just-written data header
		t.pollSN = sn
		if t.config.TPollRetransmit > 0 {
			t.pollDeadline = now.Add(t.config.TPollRetransmit)
			t.hasPollDeadline = true
		}
	}
	return n, nil
}

// applyPollTriggers updates poll counters after issuing a PDU and reports
// whether a poll should be set on it (spec.md §4.3.1: every pollPDU PDUs,
// every pollByte bytes, on last SDU with no PDU in flight, or on
// t-PollRetransmit expiry).
func (t *TX) applyPollTriggers(now time.Time, pdus uint32, bytes uint32, lastSDUNoInFlight bool) bool {
	t.pduWithoutPoll += pdus
	t.byteWithoutPoll += bytes

	poll := lastSDUNoInFlight
	if t.config.PollPDU > 0 && t.pduWithoutPoll >= t.config.PollPDU {
		poll = true
	}
	if t.config.PollByte > 0 && t.byteWithoutPoll >= t.config.PollByte {
		poll = true
	}
	if t.hasPollDeadline && !now.Before(t.pollDeadline) {
		poll = true
	}
	if poll {
		t.pduWithoutPoll = 0
		t.byteWithoutPoll = 0
	}
	return poll
}

// HandleStatusPDU decodes a received control PDU and updates ackBase and
// the retransmission queue for any NACKed SNs still within the window
// (spec.md §4.3.1, §6.4). The MAC layer routes control PDUs straight to TX
// rather than through RX.
func (t *TX) HandleStatusPDU(pdu []byte) error {
	report, err := DecodeStatus(pdu)
	if err != nil {
		return err
	}
	t.applyStatusReport(report)
	return nil
}

func (t *TX) applyStatusReport(report StatusReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	modulus := t.config.Modulus()
	t.ackBase = report.AckSN
	for sn, pending := range t.txWindow {
		if !inWindow(sn, report.AckSN, snDistance(t.txNext, report.AckSN, modulus), modulus) {
			if pending.handle != nil {
				pending.handle.Release()
			}
			delete(t.txWindow, sn)
		}
	}
	for _, nk := range report.Nacks {
		pending, ok := t.txWindow[nk.SN]
		if !ok {
			continue
		}
		offset, length := 0, len(pending.payload)
		if nk.HasSO {
			offset = int(nk.SOStart)
			length = int(nk.SOEnd) - offset + 1
		}
		t.retxQueue = append(t.retxQueue, retxEntry{sn: nk.SN, offset: offset, length: length})
	}
}

// BufferedSDUCount reports how many SDUs are still queued (used by tests
// and spec.md §8 scenario 4's "thereafter returns 0" assertion).
func (t *TX) BufferedSDUCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sduQueue)
}
