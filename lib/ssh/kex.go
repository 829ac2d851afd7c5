// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// Key exchange algorithm names. Only Curve25519-SHA256 (RFC 8731) and
// its pre-standard libssh alias are implemented; legacy Diffie-Hellman
// group exchanges are out of scope.
const (
	kexAlgoCurve25519SHA256        = "curve25519-sha256"
	kexAlgoCurve25519SHA256LibSSH  = "curve25519-sha256@libssh.org"
)

var defaultKexAlgos = []string{kexAlgoCurve25519SHA256, kexAlgoCurve25519SHA256LibSSH}

// handshakeMagics is the set of verbatim byte strings the exchange-hash
// transcript is built from. They must be captured before any further
// negotiation mutates state.
type handshakeMagics struct {
	clientVersion []byte
	serverVersion []byte
	clientKexInit []byte
	serverKexInit []byte
}

func (m *handshakeMagics) transcript(hostKey, clientPub, serverPub []byte, k *big.Int) []byte {
	var buf []byte
	buf = appendBytes(buf, m.clientVersion)
	buf = appendBytes(buf, m.serverVersion)
	buf = appendBytes(buf, m.clientKexInit)
	buf = appendBytes(buf, m.serverKexInit)
	buf = appendBytes(buf, hostKey)
	buf = appendBytes(buf, clientPub)
	buf = appendBytes(buf, serverPub)
	buf = appendMPInt(buf, k)
	return buf
}

// kexResult is the pure output of one key-exchange run: an exchange
// hash H, the shared secret K, the host key and its signature over H.
// SessionID is filled in by the caller (Stream.withSession): it equals H
// for the first exchange and is left untouched on every later rekey.
type kexResult struct {
	H         []byte
	K         *big.Int
	HostKey   []byte
	Signature []byte
	SessionID []byte
}

// kexIO is the minimal raw packet interface key exchange needs from the
// Stream it runs inside: send/receive one packet at a time, without
// going through Stream's higher-level transparent-message dispatch
// (which would otherwise try to re-enter key exchange recursively).
type kexIO interface {
	readRawPacket() ([]byte, error)
	writeRawPacket(payload []byte) error
}

// runClientKex drives the initiator side of curve25519-sha256: generate
// an ephemeral keypair, send KEX_ECDH_INIT, receive KEX_ECDH_REPLY,
// verify the host key signature against the computed exchange hash.
func runClientKex(conn kexIO, rand io.Reader, magics *handshakeMagics, hostKeyVerify func(PublicKey) error) (*kexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand, priv[:]); err != nil {
		return nil, keyExchangeError(err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, keyExchangeError(err)
	}

	if err := conn.writeRawPacket(Marshal(&kexECDHInitMsg{ClientPubKey: pub})); err != nil {
		return nil, keyExchangeError(err)
	}

	packet, err := conn.readRawPacket()
	if err != nil {
		return nil, keyExchangeError(err)
	}
	var reply kexECDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, keyExchangeError(err)
	}

	secret, err := curve25519.X25519(priv[:], reply.ServerPubKey)
	if err != nil {
		return nil, keyExchangeError(errors.New("invalid server ephemeral public key"))
	}
	k := new(big.Int).SetBytes(secret)

	h := sha256.Sum256(magics.transcript(reply.HostKey, pub, reply.ServerPubKey, k))

	hostKey, err := ParsePublicKey(reply.HostKey)
	if err != nil {
		return nil, keyExchangeError(err)
	}
	if err := hostKey.Verify(h[:], reply.Signature); err != nil {
		return nil, keyExchangeError(err)
	}
	if hostKeyVerify != nil {
		if err := hostKeyVerify(hostKey); err != nil {
			return nil, keyExchangeError(err)
		}
	}

	return &kexResult{H: h[:], K: k, HostKey: reply.HostKey, Signature: reply.Signature}, nil
}

// runServerKex drives the responder side: receive KEX_ECDH_INIT, generate
// an ephemeral keypair, sign the exchange hash with hostKey, reply.
func runServerKex(conn kexIO, rand io.Reader, magics *handshakeMagics, hostKey Signer) (*kexResult, error) {
	packet, err := conn.readRawPacket()
	if err != nil {
		return nil, keyExchangeError(err)
	}
	var init kexECDHInitMsg
	if err := Unmarshal(packet, &init); err != nil {
		return nil, keyExchangeError(err)
	}
	if len(init.ClientPubKey) != 32 {
		return nil, keyExchangeError(errors.New("invalid client ephemeral public key"))
	}

	var priv [32]byte
	if _, err := io.ReadFull(rand, priv[:]); err != nil {
		return nil, keyExchangeError(err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, keyExchangeError(err)
	}

	secret, err := curve25519.X25519(priv[:], init.ClientPubKey)
	if err != nil {
		return nil, keyExchangeError(errors.New("invalid client ephemeral public key"))
	}
	k := new(big.Int).SetBytes(secret)

	hostKeyBlob := hostKey.PublicKey().Marshal()
	h := sha256.Sum256(magics.transcript(hostKeyBlob, init.ClientPubKey, pub, k))

	sig, err := hostKey.Sign(h[:])
	if err != nil {
		return nil, keyExchangeError(err)
	}

	reply := &kexECDHReplyMsg{HostKey: hostKeyBlob, ServerPubKey: pub, Signature: sig}
	if err := conn.writeRawPacket(Marshal(reply)); err != nil {
		return nil, keyExchangeError(err)
	}

	return &kexResult{H: h[:], K: k, HostKey: hostKeyBlob, Signature: sig}, nil
}

