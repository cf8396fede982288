// Package uecore is the root of the UE synchronization and RLC-AM core.
// It only holds the cross-package sentinel errors; the real packages live
// under pkg/.
package uecore

// Error is a sentinel error carrying a short machine-stable description,
// mirroring the table-driven error style used throughout this codebase's
// sub-packages (pkg/rlc, pkg/worker, pkg/sync).
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrIllegalArgument Error = "illegal argument"
	ErrInvalidEARFCN   Error = "earfcn not present in configured scan list"
	ErrPoolClosed      Error = "worker pool is closed"
	ErrDSPInitFailed   Error = "dsp handle initialization failed"
	ErrRadioTuneFailed Error = "radio front-end failed to tune"
)
