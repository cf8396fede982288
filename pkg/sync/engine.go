// Package sync implements the Sync Engine (spec.md §4.1): a single-thread
// state machine {Idle, CellSearch, CellSelect, CellMeasure, CellCamp} that
// drives the radio through cell search, SFN acquisition, RSRP measurement
// and per-subframe worker dispatch. It is grounded on the teacher's
// pkg/nmt.NMT (explicit tagged state + a command-driven setState) and
// pkg/node.NodeProcessor (ticker-driven main loop run on its own
// goroutine, torn down via context cancellation) — generalized from NMT's
// "apply immediately" command handling to "commands are queued and honored
// at the next loop iteration" per spec.md §3.2.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telcogo/uecore"
	"github.com/telcogo/uecore/pkg/cellid"
	"github.com/telcogo/uecore/pkg/dsp"
	"github.com/telcogo/uecore/pkg/radio"
	"github.com/telcogo/uecore/pkg/rrc"
	"github.com/telcogo/uecore/pkg/worker"
)

// State is the Sync Engine's tagged state variant (spec.md §3.2).
type State uint8

const (
	Idle State = iota
	CellSearch
	CellSelect
	CellMeasure
	CellCamp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case CellSearch:
		return "CellSearch"
	case CellSelect:
		return "CellSelect"
	case CellMeasure:
		return "CellMeasure"
	case CellCamp:
		return "CellCamp"
	default:
		return "Unknown"
	}
}

// RateMode mirrors spec.md §3.2's sample-rate mode {None, Find, Camp}.
type RateMode uint8

const (
	RateNone RateMode = iota
	RateFind
	RateCamp
)

const (
	// defaultSyncSFNTimeout is SYNC_SFN_TIMEOUT (spec.md §6.5, §8 boundary
	// property), used when Config.SFNTimeout is left at its zero value.
	defaultSyncSFNTimeout = 1600
	// defaultRSRPMeasureFrames is RSRP_MEASURE_NOF_FRAMES (spec.md §6.5,
	// §8), used when Config.RSRPMeasureFrames is left at its zero value.
	defaultRSRPMeasureFrames = 100
	// inSyncEveryTTIs is the CellCamp cadence for notifying RRC of a
	// healthy camp (spec.md §4.1: "Every 10 TTIs, emit rrc.in_sync()").
	inSyncEveryTTIs = 10
	// ttiModulus bounds the TTI counter (spec.md §3.2, GLOSSARY).
	ttiModulus = 10240
)

// Config bundles the start-time parameters spec.md §4.1's configure()
// accepts, plus the [sync]-section tunables SPEC_FULL.md's Configuration
// section documents (SFN timeout, RSRP frame count). CPUAffinity/Priority
// are recorded for the caller's own OS scheduling setup; this package
// never calls into the OS scheduler directly (kept out of scope, same as
// spec.md §1's non-goals on PHY internals). SFNTimeout/RSRPMeasureFrames
// left at zero fall back to defaultSyncSFNTimeout/defaultRSRPMeasureFrames.
type Config struct {
	NofRxAntennas int
	Priority      int
	CPUAffinity   int

	SFNTimeout        int
	RSRPMeasureFrames int
}

// command is a request queued by a public method and drained once per
// loop iteration (spec.md §3.2: "transitions... honored at the next loop
// iteration").
type command struct {
	kind cmdKind
	// payload fields, only the ones relevant to kind are populated
	earfcn      uint32
	cell        cellid.Identity
	enable      bool
	timeAdvSecs float64
}

type cmdKind uint8

const (
	cmdCellSearchStart cmdKind = iota
	cmdCellSelect
	cmdResyncSFN
	cmdSetAGCEnable
	cmdSetTimeAdv
)

// Engine is the Sync Engine.
type Engine struct {
	logger *slog.Logger
	radio  radio.Radio
	pool   *worker.Pool
	rrcObs rrc.Notifier
	dspNew dsp.Factory

	cfg Config

	cmds chan command

	mu            sync.Mutex
	state         State
	tti           uint32
	sfn           uint16
	sfnTimeout    int
	lastCFO       float64
	rateMode      RateMode
	rsrpMean      float64
	rsrpCount     int
	streaming     bool
	earfcns       []uint32
	earfcnCursor  int
	scanEARFCN    bool // true while walking earfcns looking for CellMeasure targets
	cell          cellid.Identity
	haveCell      bool
	timeAdvSecs   float64
	consecutiveErrs int
	ttisSinceSync int

	handles  dsp.Handles
	haveDSP  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an idle Sync Engine. rrcObs may be nil (defaults to
// rrc.NopNotifier{}).
func New(r radio.Radio, pool *worker.Pool, dspFactory dsp.Factory, rrcObs rrc.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rrcObs == nil {
		rrcObs = rrc.NopNotifier{}
	}
	return &Engine{
		logger: logger.With("service", "[SYNC]"),
		radio:  r,
		pool:   pool,
		rrcObs: rrcObs,
		dspNew: dspFactory,
		cmds:   make(chan command, 8),
		state:  Idle,
	}
}

// Configure records start-time parameters (spec.md §4.1). A zero
// SFNTimeout/RSRPMeasureFrames is filled in with the package defaults
// rather than left at a usable-but-wrong zero.
func (e *Engine) Configure(cfg Config) {
	if cfg.SFNTimeout == 0 {
		cfg.SFNTimeout = defaultSyncSFNTimeout
	}
	if cfg.RSRPMeasureFrames == 0 {
		cfg.RSRPMeasureFrames = defaultRSRPMeasureFrames
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// SetEARFCNList replaces the scan list consulted by CellSearch.
func (e *Engine) SetEARFCNList(list []uint32) {
	e.mu.Lock()
	e.earfcns = append([]uint32{}, list...)
	e.earfcnCursor = 0
	e.mu.Unlock()
}

// CellSearchStart requests a transition into CellSearch at the next loop
// iteration. An empty EARFCN list logs and leaves the engine in Idle
// (spec.md §8 scenario 2).
func (e *Engine) CellSearchStart() {
	e.mu.Lock()
	empty := len(e.earfcns) == 0
	e.mu.Unlock()
	if empty {
		e.logger.Info("Empty EARFCN list")
		return
	}
	e.enqueue(command{kind: cmdCellSearchStart})
}

// CellSelect requests a direct jump to CellSelect against a known cell,
// bypassing CellSearch (used for reselection when the cell is already
// known, e.g. from RRC).
func (e *Engine) CellSelect(earfcn uint32, cell cellid.Identity) {
	e.enqueue(command{kind: cmdCellSelect, earfcn: earfcn, cell: cell})
}

// ResyncSFN requests a return to CellSelect to reacquire SFN without
// tearing down the current cell.
func (e *Engine) ResyncSFN() {
	e.enqueue(command{kind: cmdResyncSFN})
}

// SetAGCEnable requests the AGC be enabled or disabled.
func (e *Engine) SetAGCEnable(enable bool) {
	e.enqueue(command{kind: cmdSetAGCEnable, enable: enable})
}

// SetTimeAdvSeconds requests a new uplink timing-advance value.
func (e *Engine) SetTimeAdvSeconds(secs float64) {
	e.enqueue(command{kind: cmdSetTimeAdv, timeAdvSecs: secs})
}

func (e *Engine) enqueue(c command) {
	select {
	case e.cmds <- c:
	default:
		e.logger.Warn("dropping sync command, queue full", "kind", c.kind)
	}
}

// CurrentTTI returns the TTI observed at the last CellCamp iteration.
func (e *Engine) CurrentTTI() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tti
}

// IsSync reports whether the engine is currently in CellCamp.
func (e *Engine) IsSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == CellCamp
}

// CurrentCell returns the currently acquired cell, if any.
func (e *Engine) CurrentCell() (cellid.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cell, e.haveCell
}

// State returns the engine's current state (for observability/tests).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentSFN returns the last SFN decoded by CellSelect.
func (e *Engine) CurrentSFN() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sfn
}

// CurrentRateMode reports the sample-rate mode last selected by CellSearch.
func (e *Engine) CurrentRateMode() RateMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateMode
}

// Start runs the main loop on its own goroutine until ctx is cancelled or
// Stop is called (spec.md §5: "single OS thread... non-blocking except
// for radio fetch, wait_worker, and a 1ms sleep in Idle").
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
}

// Stop flips the running flag; the loop observes it and tears down at the
// next iteration.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Wait blocks until the main loop has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	e.logger.Info("starting sync engine main loop")
	defer e.logger.Info("sync engine main loop exited")
	for {
		if ctx.Err() != nil {
			return
		}
		e.drainCommands()

		var state State
		e.mu.Lock()
		state = e.state
		e.mu.Unlock()

		switch state {
		case Idle:
			e.stepIdle(ctx)
		case CellSearch:
			e.stepCellSearch(ctx)
		case CellSelect:
			e.stepCellSelect(ctx)
		case CellMeasure:
			e.stepCellMeasure(ctx)
		case CellCamp:
			if !e.stepCellCamp(ctx) {
				return
			}
		}
	}
}

func (e *Engine) drainCommands() {
	for {
		select {
		case c := <-e.cmds:
			e.applyCommand(c)
		default:
			return
		}
	}
}

func (e *Engine) applyCommand(c command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch c.kind {
	case cmdCellSearchStart:
		e.state = CellSearch
		e.sfnTimeout = 0
		// A configured list of more than one EARFCN means cell_search_start
		// is being used to pick the best of several candidates rather than
		// just to camp on the first cell found, so CellSelect routes through
		// CellMeasure's RSRP accumulation before camping.
		e.scanEARFCN = len(e.earfcns) > 1
	case cmdCellSelect:
		e.cell = c.cell
		e.haveCell = true
		e.state = CellSelect
		e.sfnTimeout = 0
		e.scanEARFCN = false
	case cmdResyncSFN:
		e.state = CellSelect
		e.sfnTimeout = 0
	case cmdSetAGCEnable:
		if e.haveDSP && e.handles.AGC != nil {
			e.handles.AGC.SetEnabled(c.enable)
		}
	case cmdSetTimeAdv:
		e.timeAdvSecs = c.timeAdvSecs
	}
}

func (e *Engine) stepIdle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Millisecond):
	}
}

func (e *Engine) stepCellSearch(ctx context.Context) {
	e.mu.Lock()
	earfcn := e.earfcns[e.earfcnCursor]
	e.mu.Unlock()

	hz, err := earfcnToHz(earfcn)
	if err != nil {
		e.logger.Error("invalid earfcn mapping, halting", "earfcn", earfcn, "err", err)
		e.setState(Idle)
		return
	}
	if err := e.radio.SetRxFreqHz(hz); err != nil {
		e.logger.Error("radio tune failed during cell search", "earfcn", earfcn, "reason", uecore.ErrRadioTuneFailed, "err", err)
		e.setState(Idle)
		return
	}

	if !e.haveDSP {
		if err := e.initCellSearchDSP(); err != nil {
			e.logger.Error("dsp init failed during cell search", "reason", uecore.ErrDSPInitFailed, "err", err)
			e.setState(Idle)
			return
		}
	}

	result, cell, cfoHz, err := e.handles.Searcher.Search()
	if err != nil {
		e.logger.Warn("cell search error", "earfcn", earfcn, "err", err)
	}
	if result != dsp.ResultSuccess {
		e.advanceEARFCNCursor()
		return
	}

	cell.EARFCN = earfcn
	e.mu.Lock()
	e.cell = cell
	e.haveCell = true
	e.lastCFO = cfoHz
	e.mu.Unlock()

	mclk := cell.MasterClockRate()
	if err := e.radio.SetMasterClockRate(mclk); err != nil {
		e.logger.Error("radio tune failed setting camping master clock rate", "reason", uecore.ErrRadioTuneFailed, "err", err)
		e.setState(Idle)
		return
	}
	e.radio.SetTTILen(cell.SubframeLenSamples())
	e.mu.Lock()
	e.rateMode = RateCamp
	e.mu.Unlock()
	e.freeCellDSP()
	e.setState(CellSelect)
}

func (e *Engine) advanceEARFCNCursor() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.earfcnCursor = (e.earfcnCursor + 1) % len(e.earfcns)
}

func (e *Engine) initCellSearchDSP() error {
	e.mu.Lock()
	nofAntennas := e.cfg.NofRxAntennas
	e.mu.Unlock()
	if nofAntennas <= 0 {
		nofAntennas = 1
	}
	handles, err := e.dspNew(cellid.Identity{}, nofAntennas)
	if err != nil {
		return err
	}
	e.handles = handles
	e.haveDSP = true
	return nil
}

func (e *Engine) stepCellSelect(ctx context.Context) {
	if !e.streamingOn() {
		if err := e.radio.StartRx(); err != nil {
			e.logger.Error("radio tune failed starting rx stream", "reason", uecore.ErrRadioTuneFailed, "err", err)
			e.setState(Idle)
			return
		}
		e.setStreaming(true)
	}
	if !e.haveDSP {
		e.initCellDSP()
	}

	result, sfn, err := e.handles.MIB.DecodeMIB()
	if err != nil {
		e.logger.Warn("mib decode error", "err", err)
	}
	switch result {
	case dsp.ResultSuccess:
		e.mu.Lock()
		e.sfn = sfn
		e.sfnTimeout = 0
		scanning := e.scanEARFCN
		e.mu.Unlock()
		if scanning {
			e.setState(CellMeasure)
		} else {
			e.setState(CellCamp)
		}
	case dsp.ResultContinue:
		e.mu.Lock()
		e.sfnTimeout++
		timedOut := e.sfnTimeout > e.cfg.SFNTimeout
		e.mu.Unlock()
		if timedOut {
			e.logger.Warn("sfn sync timed out")
			e.radio.StopRx()
			e.setStreaming(false)
			e.mu.Lock()
			e.sfnTimeout = 0
			e.mu.Unlock()
		}
	case dsp.ResultFailed:
		e.logger.Warn("mib decode failed")
	}
}

func (e *Engine) initCellDSP() {
	e.mu.Lock()
	cell := e.cell
	nofAntennas := e.cfg.NofRxAntennas
	lastCFO := e.lastCFO
	e.mu.Unlock()
	if nofAntennas <= 0 {
		nofAntennas = 1
	}
	handles, err := e.dspNew(cell, nofAntennas)
	if err != nil {
		e.logger.Error("dsp init failed acquiring cell handles", "reason", uecore.ErrDSPInitFailed, "err", err)
		e.setState(Idle)
		return
	}
	e.handles = handles
	e.haveDSP = true
	if handles.AGC != nil {
		handles.AGC.SetGainCallback(e.radio.SetRxGainTh)
	}
	// lastCFO is read but not passed on: dsp.Factory takes no CFO argument,
	// so the new handles start without a CFO estimate.
	_ = lastCFO
}

func (e *Engine) streamingOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

func (e *Engine) setStreaming(on bool) {
	e.mu.Lock()
	e.streaming = on
	e.mu.Unlock()
}

func (e *Engine) stepCellMeasure(ctx context.Context) {
	rsrp, err := e.handles.Estimator.MeasureRSRP()
	if err != nil {
		e.logger.Warn("rsrp measurement error, advancing earfcn", "err", err)
		e.advanceEARFCNCursor()
		e.setState(CellSearch)
		return
	}

	// Welford-style incremental mean, matching the original's VEC_CMA
	// helper: avoids accumulating an unbounded sum across
	// RSRPMeasureFrames samples.
	e.mu.Lock()
	e.rsrpCount++
	n := e.rsrpCount
	e.rsrpMean += (rsrp - e.rsrpMean) / float64(n)
	mean := e.rsrpMean
	cell := e.cell
	frames := e.cfg.RSRPMeasureFrames
	e.mu.Unlock()

	if n >= frames {
		e.rrcObs.CellFound(cell.EARFCN, cell, mean)
		e.mu.Lock()
		e.rsrpMean = 0
		e.rsrpCount = 0
		e.mu.Unlock()
		e.setState(CellCamp)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// stepCellCamp runs one CellCamp iteration (spec.md §4.1). It returns false
// if the worker pool has closed, signalling the main loop to exit.
func (e *Engine) stepCellCamp(ctx context.Context) bool {
	e.mu.Lock()
	e.tti = (e.tti + 1) % ttiModulus
	tti := e.tti
	antennas := e.cfg.NofRxAntennas
	e.mu.Unlock()
	if antennas <= 0 {
		antennas = 1
	}

	h, err := e.pool.WaitWorker(ctx, tti)
	if err != nil {
		if err == uecore.ErrPoolClosed {
			e.logger.Info("worker pool closed, stopping sync engine")
			return false
		}
		return true // context cancelled; caller's loop will observe ctx.Err() next iteration
	}

	buffers := make([][]complex64, antennas)
	for i := range buffers {
		buffers[i] = make([]complex64, e.radio.GetTTILen()*3)
	}

	rxTime, sfoHz, cfoHz, err := e.handles.Fetcher.FetchSubframe(buffers)
	if err != nil {
		e.onCampFailure(err)
		e.pool.StartWorker(ctx, h, func(context.Context, *worker.Worker, uint32) {})
		return true
	}
	e.mu.Lock()
	e.consecutiveErrs = 0
	e.ttisSinceSync++
	notifyInSync := e.ttisSinceSync%inSyncEveryTTIs == 0
	timeAdv := e.timeAdvSecs
	e.mu.Unlock()

	_ = sfoHz // neither published nor logged; this package has no shared PHY metrics context
	e.mu.Lock()
	earfcn := e.cell.EARFCN
	e.mu.Unlock()
	workerCFO := ulDlRatio(earfcn) * cfoHz / 15000.0
	txTime := rxTime.Add(4*time.Millisecond - time.Duration(timeAdv*float64(time.Second)))

	if e.handles.PRACH != nil {
		if ready, advanceSF := e.handles.PRACH.Pending(); ready {
			prachTxTime := rxTime.Add(time.Duration(advanceSF) * time.Millisecond)
			e.logger.Debug("submitting prach", "tti", tti, "txTime", prachTxTime)
		}
	}

	e.pool.StartWorker(ctx, h, func(wctx context.Context, w *worker.Worker, wtti uint32) {
		e.logger.Debug("dispatching worker", "tti", wtti, "cfoHz", workerCFO, "txTime", txTime)
		_ = w.CellState
	})

	if notifyInSync {
		e.rrcObs.InSync()
	}
	return true
}

func (e *Engine) onCampFailure(err error) {
	e.logger.Warn("dsp sync failure during cell camp", "err", err)
	e.mu.Lock()
	e.consecutiveErrs++
	consecutive := e.consecutiveErrs
	e.mu.Unlock()
	if consecutive >= 3 {
		e.rrcObs.OutOfSync()
		e.mu.Lock()
		e.consecutiveErrs = 0
		e.mu.Unlock()
		e.freeCellDSP()
		e.setState(CellSelect)
	}
}

// FreeCell transitions to Idle, waits up to 2ms for the loop to observe it,
// then tears down DSP handles (spec.md §4.1, §5 "free_cell is safe from
// any caller").
func (e *Engine) FreeCell() {
	e.setState(Idle)
	time.Sleep(2 * time.Millisecond)
	e.freeCellDSP()
	e.radio.StopRx()
	e.setStreaming(false)
	e.mu.Lock()
	e.haveCell = false
	e.mu.Unlock()
}

func (e *Engine) freeCellDSP() {
	e.haveDSP = false
	e.handles = dsp.Handles{}
}
