package rlc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingUpper struct {
	mu  sync.Mutex
	got [][]byte
}

func (c *capturingUpper) WriteSDU(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, b)
}

func (c *capturingUpper) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.got))
	copy(out, c.got)
	return out
}

func testConfig() BearerConfig {
	cfg := DefaultBearerConfig()
	cfg.PollPDU = 1 // force a poll on every PDU so status reports are deterministic in tests
	cfg.TStatusProhibit = 0
	cfg.TPollRetransmit = 0
	return cfg
}

func TestRLCPeerLoopbackReordersPDUs(t *testing.T) {
	upperB := &capturingUpper{}
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	b := NewEntity(testConfig(), nil, upperB, nil)
	require.NoError(t, a.TX().Configure(testConfig()))
	b.RX().Configure(testConfig())

	sdus := [][]byte{[]byte("A-sdu"), []byte("B-sdu"), []byte("C-sdu")}
	for _, s := range sdus {
		_, err := a.TX().WriteSDU(s)
		require.NoError(t, err)
	}

	var pdus [][]byte
	for i := 0; i < len(sdus); i++ {
		buf := make([]byte, 64)
		n, err := a.TX().ReadPDU(buf, 64)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		pdus = append(pdus, buf[:n])
	}

	// feed to RX out of order: SN 0, 2, 1 (spec.md §8 scenario 5)
	now := time.Now()
	require.NoError(t, b.RX().HandleDataPDU(pdus[0], now))
	require.NoError(t, b.RX().HandleDataPDU(pdus[2], now))
	require.NoError(t, b.RX().HandleDataPDU(pdus[1], now))

	got := upperB.all()
	require.Len(t, got, 3)
	assert.Equal(t, sdus, got)
}

func TestRLCPeerLoopbackDuplicateNotRedelivered(t *testing.T) {
	upperB := &capturingUpper{}
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	b := NewEntity(testConfig(), nil, upperB, nil)
	require.NoError(t, a.TX().Configure(testConfig()))
	b.RX().Configure(testConfig())

	_, err := a.TX().WriteSDU([]byte("only"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := a.TX().ReadPDU(buf, 64)
	require.NoError(t, err)
	pdu := append([]byte{}, buf[:n]...)

	now := time.Now()
	require.NoError(t, b.RX().HandleDataPDU(pdu, now))
	require.NoError(t, b.RX().HandleDataPDU(pdu, now)) // duplicate

	assert.Equal(t, [][]byte{[]byte("only")}, upperB.all())
}

func TestRLCRetransmissionOnStatusNack(t *testing.T) {
	upperB := &capturingUpper{}
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	b := NewEntity(testConfig(), nil, upperB, nil)
	require.NoError(t, a.TX().Configure(testConfig()))
	b.RX().Configure(testConfig())
	require.NoError(t, b.TX().Configure(testConfig()))

	_, err := a.TX().WriteSDU([]byte("hello"))
	require.NoError(t, err)
	_, err = a.TX().WriteSDU([]byte("world"))
	require.NoError(t, err)

	buf0 := make([]byte, 64)
	n0, err := a.TX().ReadPDU(buf0, 64)
	require.NoError(t, err)
	pdu0 := append([]byte{}, buf0[:n0]...)
	_ = pdu0

	buf1 := make([]byte, 64)
	n1, err := a.TX().ReadPDU(buf1, 64)
	require.NoError(t, err)
	pdu1 := append([]byte{}, buf1[:n1]...)

	now := time.Now()
	// pdu0 ("hello", SN0) is lost on the wire; only pdu1 ("world", SN1) arrives.
	require.NoError(t, b.RX().HandleDataPDU(pdu1, now))
	assert.Empty(t, upperB.all(), "SN1 must not be delivered ahead of missing SN0")

	statusBuf := make([]byte, 64)
	sn, err := b.TX().ReadPDU(statusBuf, 64)
	require.NoError(t, err)
	require.Greater(t, sn, 0)

	require.NoError(t, a.TX().HandleStatusPDU(statusBuf[:sn]))

	retxBuf := make([]byte, 64)
	rn, err := a.TX().ReadPDU(retxBuf, 64)
	require.NoError(t, err)
	require.Greater(t, rn, 0)

	require.NoError(t, b.RX().HandleDataPDU(retxBuf[:rn], now))

	got := upperB.all()
	require.Len(t, got, 2)
	assert.Equal(t, []byte("hello"), got[0])
	assert.Equal(t, []byte("world"), got[1])
}

func TestTXBufferStateDrainsToZero(t *testing.T) {
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	require.NoError(t, a.TX().Configure(testConfig()))

	for _, sdu := range [][]byte{[]byte("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), []byte("BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"), []byte("CCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")} {
		_, err := a.TX().WriteSDU(sdu)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		buf := make([]byte, 60)
		n, err := a.TX().ReadPDU(buf, 60)
		require.NoError(t, err)
		require.Greater(t, n, 0)
	}
	assert.Equal(t, 0, a.TX().BufferedSDUCount())

	bytes, priorityBytes := a.TX().GetBufferState()
	assert.Equal(t, 0, bytes, "spec.md §8 scenario 4: get_buffer_state is 0 once every queued SDU has been read out, even though tx_window still retains them for ARQ")
	assert.Equal(t, 0, priorityBytes)
}

func TestTXDiscardSDU(t *testing.T) {
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	require.NoError(t, a.TX().Configure(testConfig()))

	id, err := a.TX().WriteSDU([]byte("discard-me"))
	require.NoError(t, err)
	assert.True(t, a.TX().DiscardSDU(id))
	assert.False(t, a.TX().DiscardSDU(id))
	assert.Equal(t, 0, a.TX().BufferedSDUCount())
}

func TestRLCReestablishResetsTXAndRX(t *testing.T) {
	a := NewEntity(testConfig(), nil, &capturingUpper{}, nil)
	require.NoError(t, a.TX().Configure(testConfig()))
	_, err := a.TX().WriteSDU([]byte("pending"))
	require.NoError(t, err)

	a.Reestablish()
	assert.Equal(t, 0, a.TX().BufferedSDUCount())
}
