package ssh

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamPacketCipherRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	macKey := make([]byte, 32)
	io.ReadFull(rand.Reader, key)
	io.ReadFull(rand.Reader, iv)
	io.ReadFull(rand.Reader, macKey)

	writer, err := newPacketCipher(cipherAES128CTR, macHMACSHA256, "none", key, iv, macKey, true)
	require.NoError(t, err)
	reader, err := newPacketCipher(cipherAES128CTR, macHMACSHA256, "none", key, iv, macKey, false)
	require.NoError(t, err)

	payload := []byte{msgIgnore, 'h', 'e', 'l', 'l', 'o'}
	var buf bytes.Buffer
	require.NoError(t, writer.writePacket(0, &buf, rand.Reader, payload))

	got, err := reader.readPacket(0, &buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStreamPacketCipherRejectsTamperedMAC(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	macKey := make([]byte, 32)
	io.ReadFull(rand.Reader, key)
	io.ReadFull(rand.Reader, iv)
	io.ReadFull(rand.Reader, macKey)

	writer, err := newPacketCipher(cipherAES128CTR, macHMACSHA256, "none", key, iv, macKey, true)
	require.NoError(t, err)
	reader, err := newPacketCipher(cipherAES128CTR, macHMACSHA256, "none", key, iv, macKey, false)
	require.NoError(t, err)

	payload := []byte{msgIgnore, 'h', 'i'}
	var buf bytes.Buffer
	require.NoError(t, writer.writePacket(0, &buf, rand.Reader, payload))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	_, err = reader.readPacket(0, bytes.NewReader(corrupted))
	require.ErrorIs(t, err, ErrMacMismatch)
}

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	key := make([]byte, 64)
	io.ReadFull(rand.Reader, key)

	writer, err := newPacketCipher(cipherChaCha20Poly1305, "", "none", key, nil, nil, true)
	require.NoError(t, err)
	reader, err := newPacketCipher(cipherChaCha20Poly1305, "", "none", key, nil, nil, false)
	require.NoError(t, err)

	payload := []byte{msgDebug, 'x', 'y', 'z'}
	var buf bytes.Buffer
	require.NoError(t, writer.writePacket(3, &buf, rand.Reader, payload))

	got, err := reader.readPacket(3, &buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestChaCha20Poly1305RejectsTamperedTag(t *testing.T) {
	key := make([]byte, 64)
	io.ReadFull(rand.Reader, key)

	writer, err := newPacketCipher(cipherChaCha20Poly1305, "", "none", key, nil, nil, true)
	require.NoError(t, err)
	reader, err := newPacketCipher(cipherChaCha20Poly1305, "", "none", key, nil, nil, false)
	require.NoError(t, err)

	payload := []byte{msgDebug, 'x', 'y', 'z'}
	var buf bytes.Buffer
	require.NoError(t, writer.writePacket(0, &buf, rand.Reader, payload))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	_, err = reader.readPacket(0, bytes.NewReader(corrupted))
	require.ErrorIs(t, err, ErrMacMismatch)
}

func TestPlainCipherRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := plainCipher{}
	payload := []byte{msgServiceRequest, 's', 's', 'h'}
	require.NoError(t, c.writePacket(0, &buf, rand.Reader, payload))

	got, err := c.readPacket(0, &buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
