package rlc

// Error is the RLC-specific sentinel error type (spec.md §7), kept
// separate from the root uecore.Error table since these are returned from
// the hot SDU/PDU path and callers match on them directly.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrQueueFull is returned by WriteSDU when tx_sdu_queue is bounded and
	// full. This is a normal flow-control condition, not a fault.
	ErrQueueFull Error = "rlc: sdu queue full"
	// ErrSegmentationUnsupported is returned when a new SDU does not fit
	// into max_bytes and the current revision has not implemented TX
	// segmentation (spec.md §9 Open Questions).
	ErrSegmentationUnsupported Error = "rlc: sdu segmentation not supported"
	// ErrMalformedPDU marks a PDU that failed header/status parsing; the
	// caller counts and drops it, it never propagates upward.
	ErrMalformedPDU Error = "rlc: malformed pdu"
	// ErrNotEnabled is returned by TX operations before Configure enables
	// the entity.
	ErrNotEnabled Error = "rlc: entity not enabled"
	// ErrIllegalBearerConfig is returned by Configure when a bound exceeds
	// what the implementation supports (e.g. MaxTxQueueSDUs > MaxSDUsPerPDU).
	ErrIllegalBearerConfig Error = "rlc: illegal bearer configuration"
)
