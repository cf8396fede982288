// Package radio defines the SDR front-end driver contract (spec.md §6.1).
// The shape follows pkg/can.Bus in the teacher repository: a small
// interface plus a named-backend registry, so alternative front ends can
// be selected by string without the Sync Engine importing them directly.
package radio

import (
	"fmt"
	"time"
)

// Radio is the driver contract the Sync Engine drives. All methods must be
// safe to call from the single Sync Engine thread; StopRx may also be
// called for teardown from FreeCell.
type Radio interface {
	// RxNow blocks up to one subframe and fills buffers (one slice per
	// antenna) with samples, reporting the timestamp of the first sample.
	// It returns false on a recoverable miss (spec.md §6.1 time-offset
	// correction note: a short read within 10 samples of the expected TTI
	// length is corrected transparently and does not surface here).
	RxNow(buffers [][]complex64, nsamples int) (ts time.Time, ok bool, err error)
	// TxOffset schedules nsamples of future transmit advance/delay.
	TxOffset(samples int) error
	StartRx() error
	StopRx() error
	TxEnd() error

	SetRxFreqHz(hz float64) error
	SetTxFreqHz(hz float64) error
	SetRxSampleRate(hz float64) error
	SetTxSampleRate(hz float64) error
	SetMasterClockRate(hz float64) error
	SetTTILen(samples int)
	GetTTILen() int
	// SetRxGainTh requests a gain in dB and returns the gain the front end
	// actually applied — the AGC's external callback target (spec.md §6.2).
	SetRxGainTh(dB float64) (appliedDB float64, err error)
}

// NewFunc constructs a Radio for a given channel string (e.g. a device
// path or host:port), mirroring can.NewInterfaceFunc.
type NewFunc func(channel string) (Radio, error)

var registry = make(map[string]NewFunc)

// Register makes a named backend available to New. Call from an init()
// function of the backend package, exactly as pkg/can.RegisterInterface
// documents.
func Register(name string, fn NewFunc) {
	registry[name] = fn
}

// New builds a Radio from a registered backend name and channel string.
func New(name string, channel string) (Radio, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("radio: backend %q not registered", name)
	}
	return fn(channel)
}
