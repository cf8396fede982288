// Package loopback implements an in-memory Radio used for tests and
// examples. It is the in-process analogue of pkg/can/virtual's TCP-backed
// virtual CAN bus in the teacher repository: same role (a Radio/Bus
// backend that needs no hardware), simplified to a mutex-guarded struct
// since samples never cross a process boundary here.
package loopback

import (
	"sync"
	"time"

	"github.com/telcogo/uecore/pkg/radio"
)

func init() {
	radio.Register("loopback", New)
}

// Radio is a deterministic, synchronous Radio backend: while streaming
// (between StartRx and StopRx) RxNow succeeds immediately with zero-filled
// samples and a monotonically advancing timestamp, unless FailNext has been
// armed; when not streaming it reports a miss.
type Radio struct {
	mu        sync.Mutex
	ttiLen    int
	streaming bool
	now       time.Time
	failNext  int
	rxFreq    float64
	txFreq    float64
	rxRate    float64
	txRate    float64
	mclk      float64
	gainDB    float64
}

// New builds a loopback Radio; channel is accepted for interface
// compatibility with radio.NewFunc and ignored.
func New(channel string) (radio.Radio, error) {
	return &Radio{now: time.Unix(0, 0)}, nil
}

// FailNext arms the next n RxNow calls to report a recoverable miss.
func (r *Radio) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *Radio) RxNow(buffers [][]complex64, nsamples int) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return time.Time{}, false, nil
	}
	if r.failNext > 0 {
		r.failNext--
		return time.Time{}, false, nil
	}
	for _, b := range buffers {
		for i := range b {
			if i >= nsamples {
				break
			}
			b[i] = 0
		}
	}
	r.now = r.now.Add(time.Millisecond)
	return r.now, true, nil
}

func (r *Radio) TxOffset(samples int) error { return nil }

func (r *Radio) StartRx() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = true
	return nil
}

func (r *Radio) StopRx() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = false
	return nil
}

func (r *Radio) TxEnd() error { return nil }

func (r *Radio) SetRxFreqHz(hz float64) error { r.mu.Lock(); r.rxFreq = hz; r.mu.Unlock(); return nil }
func (r *Radio) SetTxFreqHz(hz float64) error { r.mu.Lock(); r.txFreq = hz; r.mu.Unlock(); return nil }

func (r *Radio) SetRxSampleRate(hz float64) error {
	r.mu.Lock()
	r.rxRate = hz
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetTxSampleRate(hz float64) error {
	r.mu.Lock()
	r.txRate = hz
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetMasterClockRate(hz float64) error {
	r.mu.Lock()
	r.mclk = hz
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetTTILen(samples int) {
	r.mu.Lock()
	r.ttiLen = samples
	r.mu.Unlock()
}

func (r *Radio) GetTTILen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttiLen
}

func (r *Radio) SetRxGainTh(dB float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gainDB = dB
	return dB, nil
}

// RxFreqHz and MasterClockRateHz expose configured values for assertions
// in tests.
func (r *Radio) RxFreqHz() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxFreq
}

func (r *Radio) MasterClockRateHz() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mclk
}
