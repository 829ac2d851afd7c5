// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "github.com/sirupsen/logrus"

// Layer is a user-injectable hook run by Session around key exchange
// and packet delivery. The client authentication state machine in
// userauth_client.go is installed as a Layer, but its handshake is
// driven explicitly by NewAuthenticatedClientSession, since a Layer can
// only be installed (Session.Use) after the first key exchange.
type Layer interface {
	// onKex is called immediately after each successful key exchange
	// that completes while the layer is installed. The first key
	// exchange runs inside NewClientSession/NewServerSession, before
	// Use can install a layer, so it reaches only the identity layer.
	onKex(s *Session) error

	// onRecv is called with every packet before it is surfaced to the
	// caller of Session.recv. It may consume the packet (returning
	// consumed=true) or let it pass through unchanged.
	onRecv(s *Session, packet []byte) (consumed bool, err error)
}

// identityLayer does nothing; it is the unit of layer composition, so
// a Session can always be given a non-nil Layer even with no
// extensions installed.
type identityLayer struct{}

func (identityLayer) onKex(*Session) error { return nil }

func (identityLayer) onRecv(*Session, []byte) (bool, error) { return false, nil }

// layerChain composes two layers right-associatively: first runs
// before second, for both hooks.
type layerChain struct {
	first, second Layer
}

// chainLayers builds a right-associative chain over layers in order;
// an empty list yields the identity layer.
func chainLayers(layers ...Layer) Layer {
	if len(layers) == 0 {
		return identityLayer{}
	}
	chain := layers[len(layers)-1]
	for i := len(layers) - 2; i >= 0; i-- {
		chain = &layerChain{first: layers[i], second: chain}
	}
	return chain
}

func (l *layerChain) onKex(s *Session) error {
	if err := l.first.onKex(s); err != nil {
		return err
	}
	return l.second.onKex(s)
}

func (l *layerChain) onRecv(s *Session, packet []byte) (bool, error) {
	consumed, err := l.first.onRecv(s, packet)
	if err != nil || consumed {
		return consumed, err
	}
	return l.second.onRecv(s, packet)
}

// debugLayer logs, at debug level, every key exchange after it is
// installed (rekeys) and every packet Session.recv hands to its layer,
// without consuming anything. It is meant
// to run ahead of whichever layer actually drives the session, composed
// with it through chainLayers.
type debugLayer struct{}

func (debugLayer) onKex(s *Session) error {
	if algs := s.Algorithms(); algs != nil {
		s.log.WithField("kex", algs.Kex).WithField("host-key", algs.HostKey).Debug("layer: key exchange observed")
	}
	return nil
}

func (debugLayer) onRecv(s *Session, packet []byte) (bool, error) {
	if len(packet) > 0 {
		s.log.WithField("msg", packet[0]).Debug("layer: packet observed")
	}
	return false, nil
}
