package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[radio]
nof_rx_antennas = 2
priority = 10
cpu_affinity = 3
backend = loopback
channel = /dev/radio0

[sync]
sfn_timeout = 800
rsrp_measure_frames = 50

[earfcn]
list = 2850, 2851, 1300

[rlc]
poll_pdu = 8
t_reordering_ms = 50
max_retx_threshold = 6
`

func TestLoadPopulatesAllSections(t *testing.T) {
	cfg, err := Load([]byte(sampleINI))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Sync.NofRxAntennas)
	assert.Equal(t, 10, cfg.Sync.Priority)
	assert.Equal(t, 3, cfg.Sync.CPUAffinity)
	assert.Equal(t, 800, cfg.Sync.SFNTimeout)
	assert.Equal(t, 50, cfg.Sync.RSRPMeasureFrames)
	assert.Equal(t, "loopback", cfg.RadioBackend)
	assert.Equal(t, "/dev/radio0", cfg.RadioChannel)

	assert.Equal(t, []uint32{2850, 2851, 1300}, cfg.EARFCN)

	assert.EqualValues(t, 8, cfg.RLC.PollPDU)
	assert.Equal(t, 50*time.Millisecond, cfg.RLC.TReordering)
	assert.Equal(t, 6, cfg.RLC.MaxRetxThreshold)
	// values absent from [rlc] keep rlc.DefaultBearerConfig()'s defaults
	assert.Equal(t, 256, cfg.RLC.MaxTxQueueSDUs)
}

func TestLoadMissingSectionsKeepsDefaults(t *testing.T) {
	cfg, err := Load([]byte("[radio]\nnof_rx_antennas = 1\n"))
	require.NoError(t, err)

	assert.Nil(t, cfg.EARFCN)
	assert.EqualValues(t, 16, cfg.RLC.PollPDU) // rlc.DefaultBearerConfig default
}

func TestLoadRejectsMalformedINI(t *testing.T) {
	_, err := Load([]byte("[radio\nnof_rx_antennas = 1"))
	assert.Error(t, err)
}
