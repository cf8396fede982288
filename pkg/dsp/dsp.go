// Package dsp defines the opaque PHY primitives the Sync Engine drives
// (spec.md §6.2). Real implementations wrap PSS/SSS correlation, channel
// estimation and PBCH decoding; this package only specifies the contracts
// and ships deterministic fakes used by tests and examples.
package dsp

import (
	"time"

	"github.com/telcogo/uecore/pkg/cellid"
)

// SyncResult is the continue/success/fail trichotomy DSP primitives return
// per call. Unlike a plain bool, it lets CellSelect distinguish "keep
// waiting" from "hard failure" without a second return value at every call
// site.
type SyncResult uint8

const (
	ResultFailed SyncResult = iota
	ResultContinue
	ResultSuccess
)

// CellSearcher performs the multi-frame PSS/SSS scan (spec.md §6.2).
type CellSearcher interface {
	// Search blocks for up to SRSLTE_DEFAULT_MAX_FRAMES_PSS frames looking
	// for a cell on the antenna currently tuned by the radio. cfoHz is only
	// meaningful when the result is ResultSuccess.
	Search() (result SyncResult, cell cellid.Identity, cfoHz float64, err error)
}

// MIBDecoder performs SFN/MIB acquisition against a camped cell.
type MIBDecoder interface {
	// DecodeMIB attempts to decode the next MIB occasion. ResultContinue
	// means no MIB boundary was seen yet this call; the caller should keep
	// calling until ResultSuccess, ResultFailed, or its own timeout.
	DecodeMIB() (result SyncResult, sfn uint16, err error)
}

// SubframeFetcher performs the per-TTI zero-copy sample fetch into
// caller-owned antenna buffers.
type SubframeFetcher interface {
	// FetchSubframe fills buffers (one slice per antenna) with exactly one
	// subframe of IQ samples and reports the RX timestamp of their first
	// sample, plus the current sfoHz/cfoHz estimates.
	FetchSubframe(buffers [][]complex64) (rxTime time.Time, sfoHz float64, cfoHz float64, err error)
}

// ChannelEstimator extracts RSRP from the current subframe.
type ChannelEstimator interface {
	MeasureRSRP() (rsrpDbm float64, err error)
}

// AGC models the PHY-side gain loop, driven via an external gain callback
// exactly as spec.md §6.2 describes ("AGC with external gain callback").
type AGC interface {
	SetEnabled(enabled bool)
	// SetGainCallback wires the radio's set_rx_gain_th as the AGC's actuator.
	SetGainCallback(setGain func(dB float64) (appliedDB float64, err error))
}

// PRACHBuffer reports whether a random-access burst is queued for
// transmission on this subframe (spec.md §4.1 CellCamp step (d)).
type PRACHBuffer interface {
	// Pending reports a queued PRACH burst and the subframe advance its TX
	// timestamp must be computed from (prach_tx_advance_sf).
	Pending() (ready bool, txAdvanceSubframes int)
}

// Handles bundles the DSP handles the Sync Engine owns per cell (ue_sync,
// ue_dl_measure, ue_mib in spec.md §5), created through a Factory when the
// Sync Engine sets up cell search or a cell, and dropped when it frees the
// cell. PRACH is optional; a nil value means the cell has no
// pending random-access traffic to service.
type Handles struct {
	Searcher  CellSearcher
	MIB       MIBDecoder
	Fetcher   SubframeFetcher
	Estimator ChannelEstimator
	AGC       AGC
	PRACH     PRACHBuffer
}

// Factory creates a fresh set of DSP handles for a given cell configuration.
// Kept as a function value (rather than a constructor method) so tests can
// swap in deterministic fakes without the Sync Engine depending on a
// concrete DSP package, matching the "function-pointer-with-context" design
// note in spec.md §9.
type Factory func(cell cellid.Identity, nofRxAntennas int) (Handles, error)
