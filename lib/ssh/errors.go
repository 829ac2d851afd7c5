// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
)

// Disconnect reasons, RFC 4253 section 11.1.
const (
	DisconnectProtocolError             = 3
	DisconnectKeyExchangeFailed         = 4
	DisconnectMacError                  = 5
	DisconnectServiceNotAvailable       = 7
	DisconnectProtocolVersionNotSupport = 4
	DisconnectByApplication             = 11
)

// Sentinel error kinds. Session and Stream operations wrap one of these
// so callers can use errors.Is/errors.As instead of string matching.
var (
	ErrMacMismatch          = errors.New("ssh: MAC mismatch")
	ErrNoCommonKex          = errors.New("ssh: no common key exchange algorithm")
	ErrNoCommonCipher       = errors.New("ssh: no common cipher")
	ErrNoCommonMAC          = errors.New("ssh: no common MAC")
	ErrNoCommonCompression  = errors.New("ssh: no common compression")
	ErrNoCommonHostKey      = errors.New("ssh: no common host key algorithm")
	ErrUserauthFailed       = errors.New("ssh: all configured authentication methods failed")
	ErrTimeout              = errors.New("ssh: timed out")
	ErrMalformedPacket      = errors.New("ssh: malformed packet")
	ErrServiceNotAvailable  = errors.New("ssh: requested service not available")
	ErrUnexpectedMessage    = errors.New("ssh: unexpected message")
)

// UnexpectedMessageError results when the SSH message that we received
// didn't match what we wanted, and carries DisconnectProtocolError.
type UnexpectedMessageError struct {
	Expected, Got byte
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("ssh: unexpected message type %d (expected %d)", e.Got, e.Expected)
}

func (e *UnexpectedMessageError) Unwrap() error { return ErrUnexpectedMessage }

func unexpectedMessageError(expected, got byte) error {
	return &UnexpectedMessageError{Expected: expected, Got: got}
}

func parseError(tag byte) error {
	return fmt.Errorf("%w: message type %d", ErrMalformedPacket, tag)
}

// KeyExchangeError wraps a failure during key exchange (bad point, bad
// signature, parse error, or a negotiation dead-end). It is always fatal
// with DisconnectKeyExchangeFailed.
type KeyExchangeError struct {
	Err error
}

func (e *KeyExchangeError) Error() string { return "ssh: key exchange failed: " + e.Err.Error() }
func (e *KeyExchangeError) Unwrap() error { return e.Err }

func keyExchangeError(err error) error {
	return &KeyExchangeError{Err: err}
}

// Who identifies which side of a session originated a disconnect.
type Who int

const (
	Us Who = iota
	Them
)

func (w Who) String() string {
	if w == Us {
		return "us"
	}
	return "them"
}

// DisconnectedError is the sticky terminal state of a Session: once a
// Session observes one, every subsequent operation returns the same
// value.
type DisconnectedError struct {
	By          Who
	Reason      uint32
	Description string
	// Cause is set when By == Us and the disconnect was triggered by a
	// local error rather than a peer DISCONNECT message.
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ssh: disconnected by %s (reason %d, %q): %v", e.By, e.Reason, e.Description, e.Cause)
	}
	return fmt.Sprintf("ssh: disconnected by %s (reason %d, %q)", e.By, e.Reason, e.Description)
}

func (e *DisconnectedError) Unwrap() error { return e.Cause }

func disconnectedByUs(reason uint32, description string, cause error) *DisconnectedError {
	return &DisconnectedError{By: Us, Reason: reason, Description: description, Cause: cause}
}

func disconnectedByThem(reason uint32, description string) *DisconnectedError {
	return &DisconnectedError{By: Them, Reason: reason, Description: description}
}
