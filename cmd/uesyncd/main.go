package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/telcogo/uecore/pkg/cellid"
	"github.com/telcogo/uecore/pkg/config"
	"github.com/telcogo/uecore/pkg/dsp"
	"github.com/telcogo/uecore/pkg/radio"
	_ "github.com/telcogo/uecore/pkg/radio/loopback"
	"github.com/telcogo/uecore/pkg/rlc"
	"github.com/telcogo/uecore/pkg/rrc"
	"github.com/telcogo/uecore/pkg/sync"
	"github.com/telcogo/uecore/pkg/worker"
)

const defaultNofWorkers = 4

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", "", "INI configuration file path")
	nofWorkers := flag.Int("w", defaultNofWorkers, "sync engine worker pool size")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration")
		}
		cfg = loaded
	} else {
		log.Warn("no -c config path given, running with built-in defaults")
		cfg = config.Config{RLC: rlc.DefaultBearerConfig(), RadioBackend: "loopback"}
	}

	log.WithFields(log.Fields{
		"radio_backend": cfg.RadioBackend,
		"earfcn_count":  len(cfg.EARFCN),
	}).Info("starting uesyncd")

	r, err := radio.New(cfg.RadioBackend, cfg.RadioChannel)
	if err != nil {
		log.WithError(err).Fatal("failed to construct radio backend")
	}

	pool := worker.New(*nofWorkers)

	notifier := rrc.NopNotifier{}

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	engine := sync.New(r, pool, dspFactory(), notifier, slogger)
	engine.Configure(cfg.Sync)
	engine.SetEARFCNList(cfg.EARFCN)

	bearer := rlc.NewEntity(cfg.RLC, slogger, discardUpper{}, nil)
	if err := bearer.TX().Configure(cfg.RLC); err != nil {
		log.WithError(err).Fatal("failed to configure rlc bearer")
	}
	bearer.RX().Configure(cfg.RLC)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	engine.CellSearchStart()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	// rlcTick drives Entity.Tick at a much finer grain than the heartbeat so
	// t-Reordering (35ms by default) actually expires close to on time.
	rlcTick := time.NewTicker(10 * time.Millisecond)
	defer rlcTick.Stop()
	for {
		select {
		case <-sig:
			log.Info("shutdown signal received")
			cancel()
			engine.Stop()
			pool.Stop()
			engine.Wait()
			return
		case now := <-rlcTick.C:
			bearer.Tick(now)
		case <-heartbeat.C:
			log.WithFields(log.Fields{
				"state":    engine.State().String(),
				"tti":      engine.CurrentTTI(),
				"in_sync":  engine.IsSync(),
			}).Debug("sync engine heartbeat")
		}
	}
}

// dspFactory wires the in-memory deterministic DSP fakes. A real deployment
// replaces this with a factory backed by actual PSS/SSS/PBCH primitives;
// the Sync Engine never imports a concrete DSP implementation directly.
func dspFactory() dsp.Factory {
	return func(cell cellid.Identity, nofRxAntennas int) (dsp.Handles, error) {
		return dsp.Handles{
			Searcher:  dsp.NewFakeSearcher(cell.EARFCN, cell, 0, nil),
			MIB:       &dsp.FakeMIB{CallsUntilSync: 4, SFN: 0},
			Fetcher:   dsp.NewFakeFetcher(cell.SubframeLenSamples()),
			Estimator: &dsp.FakeEstimator{RSRPDbm: -85},
			AGC:       &dsp.FakeAGC{},
		}, nil
	}
}

// discardUpper is the RLC bearer's upper-layer sink for the standalone
// daemon entrypoint, which has no higher-layer stack wired in yet.
type discardUpper struct{}

func (discardUpper) WriteSDU(b []byte) {}
