package rlc

import "time"

// MaxSDUsPerPDU is MAX_SDUS_PER_RLC_PDU, the ceiling Configure enforces
// against a bearer's configured tx_queue_length (spec.md §4.3.1).
const MaxSDUsPerPDU = 256

// BearerConfig holds the per-bearer AM parameters (spec.md §3.4, §4.3.1).
// Timer fields follow 3GPP naming; zero means "disabled".
type BearerConfig struct {
	SNSize SNSize

	// MaxTxQueueSDUs bounds tx_sdu_queue; 0 means unbounded.
	MaxTxQueueSDUs int
	// MaxTxQueueBytes bounds the accounted byte total; 0 means unbounded.
	MaxTxQueueBytes int

	PollPDU  uint32 // poll every N PDUs sent
	PollByte uint32 // poll every N bytes sent

	TPollRetransmit time.Duration
	TReordering     time.Duration
	TStatusProhibit time.Duration

	// MaxRetxThreshold triggers OnMaxRetx once a SN has been retransmitted
	// more than this many times (SPEC_FULL supplemented feature, §[EXPANSION]).
	MaxRetxThreshold int
}

// WindowSize returns 2^(sn_size-1), the TX/RX window size (spec.md §3.4).
func (c BearerConfig) WindowSize() uint32 {
	return 1 << (uint(c.SNSize) - 1)
}

// Modulus returns 2^sn_size, the sequence-number modulus.
func (c BearerConfig) Modulus() uint32 {
	return c.SNSize.modulus()
}

// DefaultBearerConfig returns conservative 12-bit-SN AM defaults matching
// the 3GPP reference timer values referenced by the original source.
func DefaultBearerConfig() BearerConfig {
	return BearerConfig{
		SNSize:           SNSize12,
		MaxTxQueueSDUs:   256,
		MaxTxQueueBytes:  0,
		PollPDU:          16,
		PollByte:         0,
		TPollRetransmit:  45 * time.Millisecond,
		TReordering:      35 * time.Millisecond,
		TStatusProhibit:  10 * time.Millisecond,
		MaxRetxThreshold: 4,
	}
}
