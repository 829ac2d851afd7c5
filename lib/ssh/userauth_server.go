// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Nurrl/assh/internal/metrics"
)

// PasswordResult is the outcome of a PasswordHandler call.
type PasswordResult int

const (
	PasswordReject PasswordResult = iota
	PasswordAccept
	PasswordExpired
)

// PasswordOutcome is the full result of a PasswordHandler call; Prompt
// is sent in PASSWD_CHANGEREQ when Result is PasswordExpired.
type PasswordOutcome struct {
	Result PasswordResult
	Prompt string
}

// NoneHandler decides whether to accept the "none" method.
type NoneHandler func(username string) (accept bool, err error)

// PasswordHandler decides the outcome of a password attempt. newPassword
// is non-nil only for a password-change submission.
type PasswordHandler func(username, password string, newPassword *string) (PasswordOutcome, error)

// PublickeyHandler decides whether to accept a verified publickey
// signature. It is only invoked once signature verification (against
// the fixed session identifier) has already succeeded.
type PublickeyHandler func(username string, key PublicKey) (accept bool, err error)

// ServerAuth configures the ssh-userauth responder. A nil method
// handler rejects every attempt of that method. "password" and
// "publickey" are offered in continue_with only if the corresponding
// handler is non-nil; "none" is always offered initially.
type ServerAuth struct {
	// Banner, if non-empty, is sent once via USERAUTH_BANNER before the
	// first USERAUTH_REQUEST is read.
	Banner string

	None      NoneHandler
	Password  PasswordHandler
	Publickey PublickeyHandler

	// MaxAttempts caps the number of USERAUTH_REQUESTs accepted before
	// the session is disconnected, as a brute-force mitigation policy
	// hook (0 means unlimited).
	MaxAttempts int
}

// methodSet is the ordered-insertion set over {none, password,
// publickey}: "none" is present initially, each dispatch removes the
// attempted method, and a Continue outcome restores it.
type methodSet struct {
	order []string
}

func newMethodSet(auth *ServerAuth) *methodSet {
	m := &methodSet{order: []string{"none"}}
	if auth.Password != nil {
		m.order = append(m.order, "password")
	}
	if auth.Publickey != nil {
		m.order = append(m.order, "publickey")
	}
	return m
}

func (m *methodSet) contains(name string) bool {
	for _, v := range m.order {
		if v == name {
			return true
		}
	}
	return false
}

func (m *methodSet) remove(name string) {
	for i, v := range m.order {
		if v == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *methodSet) add(name string) {
	if !m.contains(name) {
		m.order = append(m.order, name)
	}
}

func (m *methodSet) names() []string { return append([]string(nil), m.order...) }

// ServeUserAuth drives the ssh-userauth responder to completion: on
// success it returns the service name embedded in the winning
// USERAUTH_REQUEST (e.g. "ssh-connection"), ready to be dispatched to
// the upper-layer service registry.
func ServeUserAuth(s *Session, auth *ServerAuth) (string, error) {
	if auth.Banner != "" {
		if err := s.send(&userAuthBannerMsg{Message: auth.Banner}); err != nil {
			return "", err
		}
	}

	methods := newMethodSet(auth)
	attempts := 0

	for {
		packet, err := s.recv()
		if err != nil {
			return "", err
		}
		if packet[0] != msgUserAuthRequest {
			return "", s.fatal(unexpectedMessageError(msgUserAuthRequest, packet[0]))
		}
		var req userAuthRequestMsg
		if err := Unmarshal(packet, &req); err != nil {
			return "", s.fatal(err)
		}

		if auth.MaxAttempts > 0 {
			attempts++
			if attempts > auth.MaxAttempts {
				return "", s.fatal(fmt.Errorf("%w: exceeded %d attempts", ErrUserauthFailed, auth.MaxAttempts))
			}
		}

		if !methods.contains(req.Method) {
			if err := sendAuthFailure(s, methods); err != nil {
				return "", err
			}
			continue
		}
		methods.remove(req.Method)

		var done bool
		done, err = dispatchMethod(s, auth, methods, &req)
		if err != nil {
			return "", err
		}
		if done {
			return req.Service, nil
		}
	}
}

func sendAuthFailure(s *Session, methods *methodSet) error {
	return s.send(&userAuthFailureMsg{Methods: methods.names(), PartialSuccess: false})
}

// dispatchMethod runs one method's handler and reports whether
// authentication has now succeeded.
func dispatchMethod(s *Session, auth *ServerAuth, methods *methodSet, req *userAuthRequestMsg) (bool, error) {
	switch req.Method {
	case "none":
		accept, err := callNone(auth, req.User)
		if err != nil {
			return false, s.fatal(err)
		}
		if accept {
			metrics.AuthAttempts.WithLabelValues("none", "success").Inc()
			return true, s.send(&userAuthSuccessMsg{})
		}
		metrics.AuthAttempts.WithLabelValues("none", "failure").Inc()
		return false, sendAuthFailure(s, methods)

	case "password":
		password, newPassword, ok := parsePasswordPayload(req.Payload)
		if !ok {
			return false, s.fatal(ErrMalformedPacket)
		}
		if auth.Password == nil {
			metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
			return false, sendAuthFailure(s, methods)
		}
		outcome, err := auth.Password(req.User, password, newPassword)
		if err != nil {
			return false, s.fatal(err)
		}
		switch outcome.Result {
		case PasswordAccept:
			metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
			return true, s.send(&userAuthSuccessMsg{})
		case PasswordExpired:
			methods.add("password")
			metrics.AuthAttempts.WithLabelValues("password", "continue").Inc()
			return false, s.send(&userAuthPasswdChangeReqMsg{Prompt: outcome.Prompt})
		default:
			metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
			return false, sendAuthFailure(s, methods)
		}

	case "publickey":
		signed, algo, blob, sig, ok := parsePublickeyPayload(req.Payload)
		if !ok {
			return false, s.fatal(ErrMalformedPacket)
		}
		key, err := ParsePublicKey(blob)
		if err != nil {
			// Parse failure is a rejection, not a protocol error.
			metrics.AuthAttempts.WithLabelValues("publickey", "failure").Inc()
			return false, sendAuthFailure(s, methods)
		}
		if !signed {
			methods.add("publickey")
			metrics.AuthAttempts.WithLabelValues("publickey", "continue").Inc()
			return false, s.send(&userAuthPubKeyOKMsg{Algo: algo, PubKey: blob})
		}

		unsigned := userAuthRequestMsg{User: req.User, Service: req.Service, Method: "publickey"}
		signedData := buildDataSignedForAuth(s.stream.sessionID, unsigned, []byte(algo), blob)
		if err := key.Verify(signedData, sig); err != nil {
			// Treated as an ordinary failed attempt rather than a fatal
			// disconnect, so it's subject to the same MaxAttempts policy
			// as any other rejected method.
			logrus.WithField("user", req.User).Debug("publickey signature verification failed")
			metrics.AuthAttempts.WithLabelValues("publickey", "failure").Inc()
			return false, sendAuthFailure(s, methods)
		}
		if auth.Publickey == nil {
			metrics.AuthAttempts.WithLabelValues("publickey", "failure").Inc()
			return false, sendAuthFailure(s, methods)
		}
		accept, err := auth.Publickey(req.User, key)
		if err != nil {
			return false, s.fatal(err)
		}
		if accept {
			metrics.AuthAttempts.WithLabelValues("publickey", "success").Inc()
			return true, s.send(&userAuthSuccessMsg{})
		}
		metrics.AuthAttempts.WithLabelValues("publickey", "failure").Inc()
		return false, sendAuthFailure(s, methods)

	default:
		metrics.AuthAttempts.WithLabelValues(req.Method, "failure").Inc()
		return false, sendAuthFailure(s, methods)
	}
}

func callNone(auth *ServerAuth, user string) (bool, error) {
	if auth.None == nil {
		return false, nil
	}
	return auth.None(user)
}

func parsePasswordPayload(payload []byte) (password string, newPassword *string, ok bool) {
	if len(payload) < 1 {
		return "", nil, false
	}
	changeFlag := payload[0] != 0
	rest := payload[1:]
	pw, rest, ok := parseString(rest)
	if !ok {
		return "", nil, false
	}
	if !changeFlag {
		return string(pw), nil, true
	}
	np, _, ok := parseString(rest)
	if !ok {
		return "", nil, false
	}
	s := string(np)
	return string(pw), &s, true
}

func parsePublickeyPayload(payload []byte) (signed bool, algo string, blob, sig []byte, ok bool) {
	if len(payload) < 1 {
		return false, "", nil, nil, false
	}
	signed = payload[0] != 0
	rest := payload[1:]
	a, rest, ok := parseString(rest)
	if !ok {
		return false, "", nil, nil, false
	}
	b, rest, ok := parseString(rest)
	if !ok {
		return false, "", nil, nil, false
	}
	if !signed {
		return false, string(a), append([]byte(nil), b...), nil, true
	}
	s, _, ok := parseString(rest)
	if !ok {
		return false, "", nil, nil, false
	}
	return true, string(a), append([]byte(nil), b...), append([]byte(nil), s...), true
}
