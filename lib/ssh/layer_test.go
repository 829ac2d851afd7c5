package ssh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLayer struct {
	name    string
	calls   *[]string
	consume bool
	kexErr  error
	recvErr error
}

func (l *recordingLayer) onKex(*Session) error {
	*l.calls = append(*l.calls, l.name+":kex")
	return l.kexErr
}

func (l *recordingLayer) onRecv(*Session, []byte) (bool, error) {
	*l.calls = append(*l.calls, l.name+":recv")
	return l.consume, l.recvErr
}

func TestChainLayersRunsInOrder(t *testing.T) {
	var calls []string
	first := &recordingLayer{name: "first", calls: &calls}
	second := &recordingLayer{name: "second", calls: &calls}

	chain := chainLayers(first, second)
	require.NoError(t, chain.onKex(nil))
	require.Equal(t, []string{"first:kex", "second:kex"}, calls)

	calls = nil
	consumed, err := chain.onRecv(nil, []byte{msgUnimplemented})
	require.NoError(t, err)
	require.False(t, consumed)
	require.Equal(t, []string{"first:recv", "second:recv"}, calls)
}

func TestChainLayersStopsOnConsume(t *testing.T) {
	var calls []string
	first := &recordingLayer{name: "first", calls: &calls, consume: true}
	second := &recordingLayer{name: "second", calls: &calls}

	chain := chainLayers(first, second)
	consumed, err := chain.onRecv(nil, []byte{msgUnimplemented})
	require.NoError(t, err)
	require.True(t, consumed)
	require.Equal(t, []string{"first:recv"}, calls)
}

func TestChainLayersStopsOnKexError(t *testing.T) {
	var calls []string
	wantErr := errors.New("boom")
	first := &recordingLayer{name: "first", calls: &calls, kexErr: wantErr}
	second := &recordingLayer{name: "second", calls: &calls}

	chain := chainLayers(first, second)
	err := chain.onKex(nil)
	require.Equal(t, wantErr, err)
	require.Equal(t, []string{"first:kex"}, calls)
}

func TestChainLayersEmptyIsIdentity(t *testing.T) {
	chain := chainLayers()
	require.NoError(t, chain.onKex(nil))
	consumed, err := chain.onRecv(nil, []byte{msgUnimplemented})
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestChainLayersSingleReturnsThatLayer(t *testing.T) {
	var calls []string
	only := &recordingLayer{name: "only", calls: &calls}
	chain := chainLayers(only)
	require.Same(t, Layer(only), chain)
}
