package dsp

import (
	"time"

	"github.com/telcogo/uecore/pkg/cellid"
)

// FakeSearcher is a deterministic CellSearcher used by tests and examples:
// it reports success on the configured EARFCN/cell pair and failure
// otherwise, without touching real samples.
type FakeSearcher struct {
	TargetEARFCN uint32
	Cell         cellid.Identity
	CFOHz        float64
	earfcn       func() uint32
}

// NewFakeSearcher builds a FakeSearcher that reads the currently tuned
// EARFCN via earfcn (typically the radio's current frequency index).
func NewFakeSearcher(targetEARFCN uint32, cell cellid.Identity, cfoHz float64, earfcn func() uint32) *FakeSearcher {
	return &FakeSearcher{TargetEARFCN: targetEARFCN, Cell: cell, CFOHz: cfoHz, earfcn: earfcn}
}

func (f *FakeSearcher) Search() (SyncResult, cellid.Identity, float64, error) {
	if f.earfcn != nil && f.earfcn() != f.TargetEARFCN {
		return ResultFailed, cellid.Identity{}, 0, nil
	}
	return ResultSuccess, f.Cell, f.CFOHz, nil
}

// FakeMIB decodes a MIB successfully after a fixed number of calls,
// reporting ResultContinue until then.
type FakeMIB struct {
	CallsUntilSync int
	SFN            uint16
	calls          int
}

func (f *FakeMIB) DecodeMIB() (SyncResult, uint16, error) {
	f.calls++
	if f.calls < f.CallsUntilSync {
		return ResultContinue, 0, nil
	}
	return ResultSuccess, f.SFN, nil
}

// FakeFetcher produces zero-filled subframes with a monotonically
// increasing timestamp, optionally failing every FailEvery-th call.
type FakeFetcher struct {
	SubframeLen int
	SFOHz       float64
	CFOHz       float64
	FailEvery   int
	now         time.Time
	calls       int
}

func NewFakeFetcher(subframeLen int) *FakeFetcher {
	return &FakeFetcher{SubframeLen: subframeLen, now: time.Unix(0, 0)}
}

func (f *FakeFetcher) FetchSubframe(buffers [][]complex64) (time.Time, float64, float64, error) {
	f.calls++
	if f.FailEvery > 0 && f.calls%f.FailEvery == 0 {
		return time.Time{}, 0, 0, errFetchFailed
	}
	for _, b := range buffers {
		for i := range b {
			b[i] = 0
		}
	}
	f.now = f.now.Add(time.Millisecond)
	return f.now, f.SFOHz, f.CFOHz, nil
}

type fetchErr string

func (e fetchErr) Error() string { return string(e) }

const errFetchFailed = fetchErr("dsp: simulated subframe fetch failure")

// FakeEstimator reports a fixed RSRP value.
type FakeEstimator struct{ RSRPDbm float64 }

func (f *FakeEstimator) MeasureRSRP() (float64, error) { return f.RSRPDbm, nil }

// FakeAGC records enable state and the wired gain callback without driving
// any real hardware.
type FakeAGC struct {
	Enabled bool
	setGain func(float64) (float64, error)
}

func (f *FakeAGC) SetEnabled(enabled bool) { f.Enabled = enabled }

func (f *FakeAGC) SetGainCallback(setGain func(float64) (float64, error)) {
	f.setGain = setGain
}
