package sync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcogo/uecore/pkg/cellid"
	"github.com/telcogo/uecore/pkg/dsp"
	"github.com/telcogo/uecore/pkg/radio/loopback"
	"github.com/telcogo/uecore/pkg/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type recordingNotifier struct {
	mu          chan struct{}
	inSync      int
	outOfSync   int
	cellFoundAt []uint32
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{mu: make(chan struct{}, 1)}
}

func (r *recordingNotifier) InSync() {
	r.inSync++
	select {
	case r.mu <- struct{}{}:
	default:
	}
}
func (r *recordingNotifier) OutOfSync() { r.outOfSync++ }
func (r *recordingNotifier) CellFound(earfcn uint32, cell cellid.Identity, rsrp float64) {
	r.cellFoundAt = append(r.cellFoundAt, earfcn)
}

func waitForState(t *testing.T, e *Engine, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, e.State())
}

// TestSingleEARFCNReachesCampAndInSync is spec.md §8 scenario 1: a single
// EARFCN with cell id 3 at CFO 0 Hz reaches CellCamp and notifies
// rrc.in_sync() within 10 subframes of camping.
func TestSingleEARFCNReachesCampAndInSync(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(2)
	notifier := newRecordingNotifier()

	cell := cellid.Identity{PhysCellID: 3, NofPRB: 50}
	searchGate := make(chan struct{})
	mib := &heldMIB{proceed: make(chan struct{})}
	factory := dsp.NewFakeFactory(dsp.Handles{
		Searcher:  &gatedSearcher{release: searchGate, inner: dsp.NewFakeSearcher(2850, cell, 0, nil)},
		MIB:       mib,
		Fetcher:   dsp.NewFakeFetcher(7680),
		Estimator: &dsp.FakeEstimator{RSRPDbm: -80},
	})

	e := New(r, pool, factory, notifier, discardLogger())
	e.Configure(Config{NofRxAntennas: 1})
	e.SetEARFCNList([]uint32{2850})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.CellSearchStart()

	waitForState(t, e, CellSearch, time.Second)
	close(searchGate)
	waitForState(t, e, CellSelect, time.Second)
	close(mib.proceed)
	waitForState(t, e, CellCamp, time.Second)

	select {
	case <-notifier.mu:
	case <-time.After(time.Second):
		t.Fatal("rrc.in_sync() was never called")
	}
	assert.GreaterOrEqual(t, notifier.inSync, 1)

	cell2, ok := e.CurrentCell()
	require.True(t, ok)
	assert.EqualValues(t, 3, cell2.PhysCellID)
}

// TestEmptyEARFCNListStaysIdle is spec.md §8 scenario 2.
func TestEmptyEARFCNListStaysIdle(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(1)
	e := New(r, pool, dsp.NewFakeFactory(dsp.Handles{}), nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.CellSearchStart()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, e.State())
}

// TestTwoEARFCNsFirstFailsSecondSucceeds is spec.md §8 scenario 3.
func TestTwoEARFCNsFirstFailsSecondSucceeds(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(2)
	notifier := newRecordingNotifier()

	cell := cellid.Identity{PhysCellID: 7, NofPRB: 50}
	lastFreq := func() uint32 {
		hz := r.(*loopback.Radio).RxFreqHz()
		// reverse earfcnToHz for the two candidate EARFCNs in this test
		for _, earfcn := range []uint32{2850, 2851} {
			want, _ := earfcnToHz(earfcn)
			if want == hz {
				return earfcn
			}
		}
		return 0
	}
	factory := dsp.NewFakeFactory(dsp.Handles{
		Searcher:  dsp.NewFakeSearcher(2851, cell, 0, lastFreq),
		MIB:       &dsp.FakeMIB{CallsUntilSync: 1, SFN: 0},
		Fetcher:   dsp.NewFakeFetcher(7680),
		Estimator: &dsp.FakeEstimator{RSRPDbm: -90},
	})

	e := New(r, pool, factory, notifier, discardLogger())
	e.Configure(Config{NofRxAntennas: 1})
	e.SetEARFCNList([]uint32{2850, 2851})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.CellSearchStart()

	waitForState(t, e, CellCamp, 2*time.Second)
	cell2, ok := e.CurrentCell()
	require.True(t, ok)
	assert.EqualValues(t, 2851, cell2.EARFCN)
}

// gatedSearcher blocks in Search until release is closed, holding the
// engine in CellSearch until the test has observed that state.
type gatedSearcher struct {
	release chan struct{}
	inner   dsp.CellSearcher
}

func (g *gatedSearcher) Search() (dsp.SyncResult, cellid.Identity, float64, error) {
	<-g.release
	return g.inner.Search()
}

// heldMIB blocks each DecodeMIB call until the test sends on proceed (or
// closes it), holding the engine in CellSelect until the test has observed
// that state; every released call decodes successfully.
type heldMIB struct{ proceed chan struct{} }

func (m *heldMIB) DecodeMIB() (dsp.SyncResult, uint16, error) {
	<-m.proceed
	return dsp.ResultSuccess, 0, nil
}

// failFirstNFetcher fails its first n calls then succeeds indefinitely,
// so a test can observe exactly one out-of-sync transition followed by a
// stable re-camp rather than an unbounded failure/recovery cycle. Each call
// first waits for hold to be closed, so the test can observe CellCamp
// before the failures start.
type failFirstNFetcher struct {
	n     int
	calls int
	hold  chan struct{}
	inner dsp.SubframeFetcher
}

func (f *failFirstNFetcher) FetchSubframe(buffers [][]complex64) (time.Time, float64, float64, error) {
	<-f.hold
	f.calls++
	if f.calls <= f.n {
		return time.Time{}, 0, 0, errSimulatedFetch
	}
	return f.inner.FetchSubframe(buffers)
}

type simulatedFetchErr string

func (e simulatedFetchErr) Error() string { return string(e) }

const errSimulatedFetch = simulatedFetchErr("simulated subframe fetch failure")

// TestThreeConsecutiveCampFailuresTriggerOutOfSyncOnce is spec.md §8
// scenario 6: three consecutive DSP failures during CellCamp produce
// exactly one out_of_sync() call, then recover to a stable camp.
func TestThreeConsecutiveCampFailuresTriggerOutOfSyncOnce(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(2)
	notifier := newRecordingNotifier()

	cell := cellid.Identity{PhysCellID: 3, NofPRB: 50}
	fetcher := &failFirstNFetcher{n: 3, hold: make(chan struct{}), inner: dsp.NewFakeFetcher(7680)}
	mib := &heldMIB{proceed: make(chan struct{})}
	factory := dsp.NewFakeFactory(dsp.Handles{
		Searcher:  dsp.NewFakeSearcher(2850, cell, 0, nil),
		MIB:       mib,
		Fetcher:   fetcher,
		Estimator: &dsp.FakeEstimator{RSRPDbm: -80},
	})

	e := New(r, pool, factory, notifier, discardLogger())
	e.Configure(Config{NofRxAntennas: 1})
	e.SetEARFCNList([]uint32{2850})

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	e.CellSearchStart()
	waitForState(t, e, CellSelect, time.Second)
	mib.proceed <- struct{}{}
	waitForState(t, e, CellCamp, time.Second)
	close(fetcher.hold)
	waitForState(t, e, CellSelect, time.Second)
	close(mib.proceed)
	waitForState(t, e, CellCamp, time.Second)
	time.Sleep(20 * time.Millisecond)

	e.Stop()
	cancel()
	e.Wait()

	assert.Equal(t, 1, notifier.outOfSync)
	assert.Equal(t, pool.NofWorkers(), len(drainAllWorkers(t, pool)))
}

// drainAllWorkers confirms no worker handle is stuck outstanding by
// successfully acquiring every slot the pool was constructed with.
func drainAllWorkers(t *testing.T, pool *worker.Pool) []int {
	t.Helper()
	var got []int
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for i := 0; i < pool.NofWorkers(); i++ {
		h, err := pool.WaitWorker(ctx, uint32(i))
		if err != nil {
			break
		}
		got = append(got, i)
		pool.StartWorker(ctx, h, func(context.Context, *worker.Worker, uint32) {})
	}
	pool.Wait()
	return got
}

// TestTTICounterWrapsModulo10240 checks the GLOSSARY's TTI modulus
// invariant holds across many CellCamp iterations.
func TestTTICounterWrapsModulo10240(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(4)

	cell := cellid.Identity{PhysCellID: 3, NofPRB: 50}
	factory := dsp.NewFakeFactory(dsp.Handles{
		Searcher:  dsp.NewFakeSearcher(2850, cell, 0, nil),
		MIB:       &dsp.FakeMIB{CallsUntilSync: 1, SFN: 0},
		Fetcher:   dsp.NewFakeFetcher(7680),
		Estimator: &dsp.FakeEstimator{RSRPDbm: -80},
	})

	e := New(r, pool, factory, nil, discardLogger())
	e.Configure(Config{NofRxAntennas: 1})
	e.SetEARFCNList([]uint32{2850})
	// start just short of the modulus so the camp iterations below cross it
	e.tti = ttiModulus - 5

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.CellSearchStart()
	waitForState(t, e, CellCamp, time.Second)

	time.Sleep(30 * time.Millisecond)
	tti := e.CurrentTTI()
	assert.Less(t, tti, uint32(10240))
}

// TestCellSelectDirectBypassesSearchAndMeasure exercises cell_select()
// jumping straight to CellSelect and camping without a RSRP scan, since no
// more than one EARFCN was ever configured for a scan.
func TestCellSelectDirectBypassesSearchAndMeasure(t *testing.T) {
	r, err := loopback.New("")
	require.NoError(t, err)
	pool := worker.New(1)

	cell := cellid.Identity{PhysCellID: 9, NofPRB: 50, EARFCN: 2850}
	factory := dsp.NewFakeFactory(dsp.Handles{
		MIB:       &dsp.FakeMIB{CallsUntilSync: 1, SFN: 0},
		Fetcher:   dsp.NewFakeFetcher(7680),
		Estimator: &dsp.FakeEstimator{RSRPDbm: -80},
	})

	e := New(r, pool, factory, nil, discardLogger())
	e.Configure(Config{NofRxAntennas: 1})
	e.CellSelect(2850, cell)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	waitForState(t, e, CellCamp, time.Second)
}
