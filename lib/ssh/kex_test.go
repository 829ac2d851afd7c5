package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// pipeKexIO connects a client and server runClientKex/runServerKex pair
// in-process without any Stream/packet-cipher framing, matching kexIO's
// minimal raw-packet contract.
type pipeKexIO struct {
	in, out chan []byte
}

func newPipeKexIOPair() (client, server *pipeKexIO) {
	a, b := make(chan []byte, 4), make(chan []byte, 4)
	return &pipeKexIO{in: b, out: a}, &pipeKexIO{in: a, out: b}
}

func (p *pipeKexIO) readRawPacket() ([]byte, error) { return <-p.in, nil }
func (p *pipeKexIO) writeRawPacket(payload []byte) error {
	p.out <- append([]byte(nil), payload...)
	return nil
}

func TestKexEndToEnd(t *testing.T) {
	clientIO, serverIO := newPipeKexIOPair()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey := NewSignerFromKey(priv)

	magics := &handshakeMagics{
		clientVersion: []byte("SSH-2.0-client"),
		serverVersion: []byte("SSH-2.0-server"),
		clientKexInit: []byte("client-kexinit"),
		serverKexInit: []byte("server-kexinit"),
	}

	clientResult := make(chan *kexResult, 1)
	clientErr := make(chan error, 1)
	go func() {
		r, err := runClientKex(clientIO, rand.Reader, magics, nil)
		clientResult <- r
		clientErr <- err
	}()

	serverResultVal, serverErr := runServerKex(serverIO, rand.Reader, magics, hostKey)
	require.NoError(t, serverErr)

	require.NoError(t, <-clientErr)
	c := <-clientResult
	require.NotNil(t, c)

	require.Equal(t, serverResultVal.H, c.H)
	require.Equal(t, serverResultVal.K, c.K)
}

// tamperingKexIO wraps a pipeKexIO and flips the last byte of the Nth
// packet it writes, simulating a corrupted KEX_ECDH_REPLY in flight.
type tamperingKexIO struct {
	*pipeKexIO
	tamperIndex int
	writes      int
}

func (t *tamperingKexIO) writeRawPacket(payload []byte) error {
	if t.writes == t.tamperIndex {
		payload = append([]byte(nil), payload...)
		payload[len(payload)-1] ^= 0xff
	}
	t.writes++
	return t.pipeKexIO.writeRawPacket(payload)
}

func TestKexRejectsForgedHostKeySignature(t *testing.T) {
	clientIO, serverIO := newPipeKexIOPair()
	tampered := &tamperingKexIO{pipeKexIO: serverIO, tamperIndex: 0}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey := NewSignerFromKey(priv)

	magics := &handshakeMagics{
		clientVersion: []byte("SSH-2.0-client"),
		serverVersion: []byte("SSH-2.0-server"),
		clientKexInit: []byte("client-kexinit"),
		serverKexInit: []byte("server-kexinit"),
	}

	clientErr := make(chan error, 1)
	go func() {
		_, err := runClientKex(clientIO, rand.Reader, magics, nil)
		clientErr <- err
	}()

	_, err = runServerKex(tampered, rand.Reader, magics, hostKey)
	require.NoError(t, err)

	require.Error(t, <-clientErr)
}
