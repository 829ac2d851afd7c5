// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"io"

	"github.com/sirupsen/logrus"
)

// AuthMethod is one authentication method a client offers. The
// mandatory leading "none" attempt is not configurable and is always
// sent first.
type AuthMethod interface {
	method() string
}

type passwordAuthMethod struct {
	password string
}

// Password returns an AuthMethod that authenticates with a fixed
// password. Only the last Password method configured is ever used;
// password authentication is single-shot.
func Password(password string) AuthMethod { return &passwordAuthMethod{password: password} }

func (*passwordAuthMethod) method() string { return "password" }

type publickeyAuthMethod struct {
	signer Signer
}

// PublicKeyAuth returns an AuthMethod that authenticates by proving
// possession of signer's private key.
func PublicKeyAuth(signer Signer) AuthMethod { return &publickeyAuthMethod{signer: signer} }

func (*publickeyAuthMethod) method() string { return "publickey" }

// orderedMethods returns the last configured password method followed
// by every publickey method, regardless of configuration order.
func orderedMethods(methods []AuthMethod) []AuthMethod {
	var pw, pk []AuthMethod
	for _, m := range methods {
		switch m.method() {
		case "password":
			pw = []AuthMethod{m}
		case "publickey":
			pk = append(pk, m)
		}
	}
	return append(pw, pk...)
}

// NewAuthenticatedClientSession builds a Session and drives it through
// the ssh-userauth handshake as the initiator, returning once
// authentication succeeds and the session is ready to request the
// upper-layer service (e.g. "ssh-connection").
func NewAuthenticatedClientSession(conn io.ReadWriter, config *ClientConfig) (*Session, error) {
	layer := &clientAuthLayer{config: config, remaining: orderedMethods(config.Auth)}
	s, err := NewClientSession(conn, config)
	if err != nil {
		return nil, err
	}
	s.Use(chainLayers(debugLayer{}, layer))
	// The first key exchange already ran inside NewClientSession, before
	// Use installed the auth layer, so drive the handshake explicitly
	// here rather than waiting for a rekey to re-trigger onKex.
	if err := layer.run(s); err != nil {
		return nil, err
	}
	return s, nil
}

// clientAuthLayer is the client-side ssh-userauth state machine. It is
// installed as the Session's Layer so that later packets pass through
// unchanged once authorized; the handshake
// itself is driven once, explicitly, by NewAuthenticatedClientSession
// rather than from onKex, since the first key exchange has already
// completed by the time a Layer can be installed on a Session.
type clientAuthLayer struct {
	config     *ClientConfig
	remaining  []AuthMethod
	pendingKey *publickeyAuthMethod
	authorized bool
}

func (l *clientAuthLayer) onKex(s *Session) error { return nil }

func (l *clientAuthLayer) onRecv(s *Session, packet []byte) (bool, error) { return false, nil }

// run performs SERVICE_REQUEST "ssh-userauth", then iterates the
// configured methods until USERAUTH_SUCCESS or all of them are
// exhausted.
func (l *clientAuthLayer) run(s *Session) error {
	return s.request(serviceUserAuth, func(s *Session) error {
		if err := s.send(&userAuthRequestMsg{User: l.config.User, Service: serviceSSH, Method: "none"}); err != nil {
			return err
		}
		for {
			packet, err := s.recv()
			if err != nil {
				return err
			}
			switch packet[0] {
			case msgUserAuthSuccess:
				l.authorized = true
				return nil
			case msgUserAuthBanner:
				var b userAuthBannerMsg
				if err := Unmarshal(packet, &b); err == nil {
					logrus.WithField("banner", b.Message).Info("ssh-userauth banner")
				}
			case msgUserAuthFailure:
				var f userAuthFailureMsg
				if err := Unmarshal(packet, &f); err != nil {
					return s.fatal(unexpectedMessageError(msgUserAuthFailure, packet[0]))
				}
				if err := l.attemptNext(s, f.Methods); err != nil {
					return err
				}
			case msgUserAuthPubKeyOK:
				if l.pendingKey == nil {
					return s.fatal(unexpectedMessageError(msgUserAuthRequest, packet[0]))
				}
				if err := l.sendSignedPublickey(s, l.pendingKey); err != nil {
					return err
				}
				l.pendingKey = nil
			default:
				return s.fatal(unexpectedMessageError(msgUserAuthFailure, packet[0]))
			}
		}
	})
}

// attemptNext pops the next configured method that also appears in
// continueWith (the server's current allowed set) and sends it.
// Exhausting every configured method is fatal with ErrUserauthFailed.
func (l *clientAuthLayer) attemptNext(s *Session, continueWith []string) error {
	for len(l.remaining) > 0 {
		m := l.remaining[0]
		l.remaining = l.remaining[1:]
		if !contains(continueWith, m.method()) {
			continue
		}
		switch method := m.(type) {
		case *passwordAuthMethod:
			return l.sendPassword(s, method)
		case *publickeyAuthMethod:
			return l.sendPublickeyQuery(s, method)
		}
	}
	return s.fatal(ErrUserauthFailed)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func (l *clientAuthLayer) sendPassword(s *Session, method *passwordAuthMethod) error {
	var payload []byte
	payload = appendBool(payload, false)
	payload = appendString(payload, method.password)
	return s.send(&userAuthRequestMsg{User: l.config.User, Service: serviceSSH, Method: "password", Payload: payload})
}

func (l *clientAuthLayer) sendPublickeyQuery(s *Session, method *publickeyAuthMethod) error {
	l.pendingKey = method
	var payload []byte
	payload = appendBool(payload, false)
	payload = appendString(payload, method.signer.PublicKey().Type())
	payload = appendBytes(payload, method.signer.PublicKey().Marshal())
	return s.send(&userAuthRequestMsg{User: l.config.User, Service: serviceSSH, Method: "publickey", Payload: payload})
}

// sendSignedPublickey signs PublickeySignature{session_id, username,
// service_name, algorithm, blob} and sends the signed publickey
// request.
func (l *clientAuthLayer) sendSignedPublickey(s *Session, method *publickeyAuthMethod) error {
	algo := method.signer.PublicKey().Type()
	blob := method.signer.PublicKey().Marshal()

	req := userAuthRequestMsg{User: l.config.User, Service: serviceSSH, Method: "publickey"}
	signedData := buildDataSignedForAuth(s.stream.sessionID, req, []byte(algo), blob)
	sig, err := method.signer.Sign(signedData)
	if err != nil {
		return s.fatal(err)
	}

	var payload []byte
	payload = appendBool(payload, true)
	payload = appendString(payload, algo)
	payload = appendBytes(payload, blob)
	payload = appendBytes(payload, sig)
	return s.send(&userAuthRequestMsg{User: l.config.User, Service: serviceSSH, Method: "publickey", Payload: payload})
}
