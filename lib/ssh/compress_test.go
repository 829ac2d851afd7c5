package ssh

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZlibRoundTripSinglePacket(t *testing.T) {
	c := newZlibCompressor()
	d := newZlibDecompressor()

	payload := []byte("ssh-userauth request payload, compressed end to end")
	compressed, err := c.compress(payload)
	require.NoError(t, err)

	got, err := d.decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestZlibRoundTripMultiplePackets drives several packets through one
// compressor/decompressor pair, proving the decompressor survives past
// the first sync-flush boundary instead of latching a terminal error
// after the first call.
func TestZlibRoundTripMultiplePackets(t *testing.T) {
	c := newZlibCompressor()
	d := newZlibDecompressor()

	packets := [][]byte{
		[]byte("KEXINIT cookie and algorithm name-lists"),
		[]byte("a"),
		bytes.Repeat([]byte("repeated content compresses well "), 200),
		[]byte(""),
		[]byte("USERAUTH_REQUEST alice ssh-connection publickey"),
	}

	for i, want := range packets {
		compressed, err := c.compress(want)
		require.NoErrorf(t, err, "compress packet %d", i)

		got, err := d.decompress(compressed)
		require.NoErrorf(t, err, "decompress packet %d", i)
		require.Equalf(t, want, got, "packet %d mismatch", i)
	}
}

// TestZlibRoundTripRandomPackets exercises many packets of varying,
// non-repeating content so DEFLATE back-references frequently cross
// the dictionary window maintained across decompress calls.
func TestZlibRoundTripRandomPackets(t *testing.T) {
	c := newZlibCompressor()
	d := newZlibDecompressor()

	for i := 0; i < 50; i++ {
		want := make([]byte, 37*(i+1)%997+1)
		_, err := rand.Read(want)
		require.NoError(t, err)

		compressed, err := c.compress(want)
		require.NoError(t, err)

		got, err := d.decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
