// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// KeyAlgoED25519 is the only host/user key algorithm this core requires
// (RFC 8709). Parsing concrete key file formats (OpenSSH/PKCS#8) is
// out of scope; this package consumes already-parsed PublicKey/Signer
// values.
const KeyAlgoED25519 = "ssh-ed25519"

// PublicKey is the minimal surface this core needs from a host or user
// key: its algorithm name, its wire-format blob, and the ability to
// verify a signature produced by the matching private key.
type PublicKey interface {
	Type() string
	Marshal() []byte
	Verify(data []byte, sig []byte) error
}

// Signer produces signatures over arbitrary data using a private key
// whose format and storage are external to this package (files, agents,
// HSMs).
type Signer interface {
	PublicKey() PublicKey
	Sign(data []byte) ([]byte, error)
}

type ed25519PublicKey struct {
	key ed25519.PublicKey
}

func (k *ed25519PublicKey) Type() string { return KeyAlgoED25519 }

func (k *ed25519PublicKey) Marshal() []byte {
	var buf []byte
	buf = appendString(buf, KeyAlgoED25519)
	buf = appendBytes(buf, k.key)
	return buf
}

func (k *ed25519PublicKey) Verify(data, sig []byte) error {
	algo, rest, ok := parseString(sig)
	if !ok {
		return errors.New("ssh: malformed signature")
	}
	if string(algo) != KeyAlgoED25519 {
		return fmt.Errorf("ssh: signature algorithm %q does not match key type %q", algo, KeyAlgoED25519)
	}
	blob, _, ok := parseString(rest)
	if !ok {
		return errors.New("ssh: malformed signature")
	}
	if !ed25519.Verify(k.key, data, blob) {
		return errors.New("ssh: signature verification failed")
	}
	return nil
}

// NewPublicKey wraps a raw ed25519 public key.
func NewPublicKey(key ed25519.PublicKey) PublicKey {
	return &ed25519PublicKey{key: key}
}

// ParsePublicKey parses a wire-format public key blob, as produced by
// PublicKey.Marshal or received in a KEX_ECDH_REPLY / PK_OK message.
func ParsePublicKey(blob []byte) (PublicKey, error) {
	algo, rest, ok := parseString(blob)
	if !ok {
		return nil, errors.New("ssh: malformed public key blob")
	}
	switch string(algo) {
	case KeyAlgoED25519:
		key, _, ok := parseString(rest)
		if !ok || len(key) != ed25519.PublicKeySize {
			return nil, errors.New("ssh: malformed ed25519 public key")
		}
		return &ed25519PublicKey{key: ed25519.PublicKey(key)}, nil
	default:
		return nil, fmt.Errorf("ssh: unsupported public key algorithm %q", algo)
	}
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewSignerFromKey wraps a raw ed25519 private key as a Signer.
func NewSignerFromKey(priv ed25519.PrivateKey) Signer {
	return &ed25519Signer{priv: priv, pub: NewPublicKey(priv.Public().(ed25519.PublicKey))}
}

func (s *ed25519Signer) PublicKey() PublicKey { return s.pub }

func (s *ed25519Signer) Sign(data []byte) ([]byte, error) {
	sig := ed25519.Sign(s.priv, data)
	var buf []byte
	buf = appendString(buf, KeyAlgoED25519)
	buf = appendBytes(buf, sig)
	return buf, nil
}
