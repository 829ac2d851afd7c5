package ssh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopStream wraps a single bytes.Buffer so writes made by one Stream
// are immediately visible to reads by another, without a goroutine.
type loopStream struct {
	*bytes.Buffer
}

func (loopStream) Close() error { return nil }

func TestStreamPlainRoundTrip(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{}
	cfg.SetDefaults()

	writer := newStream(buf, cfg)
	reader := newStream(buf, cfg)

	payload := []byte{msgIgnore, 'h', 'i'}
	require.NoError(t, writer.writePacket(payload))

	got, err := reader.readPacket()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStreamPeekTypeIsNonDestructive(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{}
	cfg.SetDefaults()

	writer := newStream(buf, cfg)
	reader := newStream(buf, cfg)

	payload := []byte{msgDebug, 'z'}
	require.NoError(t, writer.writePacket(payload))

	typ, err := reader.peekType()
	require.NoError(t, err)
	require.Equal(t, byte(msgDebug), typ)

	// A second peek must not consume a second packet off the wire.
	typ2, err := reader.peekType()
	require.NoError(t, err)
	require.Equal(t, byte(msgDebug), typ2)

	got, err := reader.readPacket()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStreamIsRekeyableByBytesThreshold(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{RekeyThreshold: minRekeyThreshold}
	cfg.SetDefaults()

	s := newStream(buf, cfg)
	require.False(t, s.isRekeyable())

	s.bytesSinceRekey = cfg.RekeyThreshold
	require.True(t, s.isRekeyable())
}

func TestStreamIsRekeyableByPacketsThreshold(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{RekeyPackets: 10}
	cfg.SetDefaults()

	s := newStream(buf, cfg)
	s.packetsSinceRekey = 10
	require.True(t, s.isRekeyable())
}

func TestStreamWithSessionIsFixedOnFirstCall(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{}
	cfg.SetDefaults()
	s := newStream(buf, cfg)

	first := s.withSession([]byte("first-hash"))
	second := s.withSession([]byte("second-hash"))
	require.Equal(t, first, second)
	require.Equal(t, []byte("first-hash"), second)
}

func TestStreamInstallTransportPairResetsCounters(t *testing.T) {
	buf := &loopStream{Buffer: new(bytes.Buffer)}
	cfg := &Config{}
	cfg.SetDefaults()
	s := newStream(buf, cfg)
	s.bytesSinceRekey = 1000
	s.packetsSinceRekey = 100

	s.installTransportPair(plainTransportPair())
	require.Zero(t, s.bytesSinceRekey)
	require.Zero(t, s.packetsSinceRekey)
}
