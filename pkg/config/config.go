// Package config loads engine and bearer parameters from an INI file
// using gopkg.in/ini.v1, exactly the way pkg/od/parser_v1.go loads EDS
// files: ini.Load, iterate Sections(), read fields via section.Key(...).
//
// [radio]  nof_rx_antennas, priority, cpu_affinity, backend, channel
// [sync]   sfn_timeout, rsrp_measure_frames
// [earfcn] list
// [rlc]    max_tx_queue_sdus, max_tx_queue_bytes, poll_pdu, poll_byte,
//          t_poll_retransmit_ms, t_reordering_ms, t_status_prohibit_ms,
//          max_retx_threshold
package config

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/telcogo/uecore/pkg/rlc"
	"github.com/telcogo/uecore/pkg/sync"
)

// Config is the top-level bundle loaded from an INI file's [radio],
// [sync], [earfcn] and [rlc] sections. Sync.Config's front-end fields
// (NofRxAntennas, Priority, CPUAffinity) are populated from [radio] since
// they're properties of the radio the engine drives, not of the state
// machine itself; [sync] carries the state machine's own tunables
// (SFNTimeout, RSRPMeasureFrames).
type Config struct {
	Sync   sync.Config
	EARFCN []uint32
	RLC    rlc.BearerConfig

	// RadioBackend/RadioChannel select the registered radio.NewFunc and
	// the channel string passed to it (e.g. "loopback", "").
	RadioBackend string
	RadioChannel string
}

// Load parses file (a path, *os.File, or []byte — anything ini.Load
// accepts) into a Config, seeded with rlc.DefaultBearerConfig() and
// zero-value sync.Config so a section that's absent from the file simply
// keeps the default for every key it doesn't mention.
func Load(file any) (Config, error) {
	cfg := Config{RLC: rlc.DefaultBearerConfig(), RadioBackend: "loopback"}

	edsLike, err := ini.Load(file)
	if err != nil {
		return Config{}, err
	}

	if s := edsLike.Section("radio"); s != nil {
		cfg.Sync.NofRxAntennas = keyInt(s, "nof_rx_antennas", 1)
		cfg.Sync.Priority = keyInt(s, "priority", 0)
		cfg.Sync.CPUAffinity = keyInt(s, "cpu_affinity", -1)
		cfg.RadioBackend = keyString(s, "backend", cfg.RadioBackend)
		cfg.RadioChannel = keyString(s, "channel", cfg.RadioChannel)
	}

	if s := edsLike.Section("sync"); s != nil {
		cfg.Sync.SFNTimeout = keyInt(s, "sfn_timeout", 0)
		cfg.Sync.RSRPMeasureFrames = keyInt(s, "rsrp_measure_frames", 0)
	}

	if s := edsLike.Section("earfcn"); s != nil {
		cfg.EARFCN = parseEARFCNList(keyString(s, "list", ""))
	}

	if s := edsLike.Section("rlc"); s != nil {
		if v := keyInt(s, "max_tx_queue_sdus", -1); v >= 0 {
			cfg.RLC.MaxTxQueueSDUs = v
		}
		if v := keyInt(s, "max_tx_queue_bytes", -1); v >= 0 {
			cfg.RLC.MaxTxQueueBytes = v
		}
		if v := keyInt(s, "poll_pdu", -1); v >= 0 {
			cfg.RLC.PollPDU = uint32(v)
		}
		if v := keyInt(s, "poll_byte", -1); v >= 0 {
			cfg.RLC.PollByte = uint32(v)
		}
		if v := keyDurationMs(s, "t_poll_retransmit_ms", -1); v >= 0 {
			cfg.RLC.TPollRetransmit = time.Duration(v) * time.Millisecond
		}
		if v := keyDurationMs(s, "t_reordering_ms", -1); v >= 0 {
			cfg.RLC.TReordering = time.Duration(v) * time.Millisecond
		}
		if v := keyDurationMs(s, "t_status_prohibit_ms", -1); v >= 0 {
			cfg.RLC.TStatusProhibit = time.Duration(v) * time.Millisecond
		}
		if v := keyInt(s, "max_retx_threshold", -1); v >= 0 {
			cfg.RLC.MaxRetxThreshold = v
		}
	}

	return cfg, nil
}

func keyString(s *ini.Section, name, def string) string {
	k := s.Key(name)
	if k.Value() == "" {
		return def
	}
	return k.String()
}

func keyInt(s *ini.Section, name string, def int) int {
	k := s.Key(name)
	if k.Value() == "" {
		return def
	}
	v, err := k.Int()
	if err != nil {
		return def
	}
	return v
}

func keyDurationMs(s *ini.Section, name string, def int) int {
	return keyInt(s, name, def)
}

func parseEARFCNList(raw string) []uint32 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	list := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		list = append(list, uint32(v))
	}
	return list
}
