// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
)

// maxPacketLength is the largest packet_length this core will accept,
// per RFC 4253 section 6.1.
const maxPacketLength = 35000

// packetCipher is the per-direction codec installed on a Transport. Each
// concrete implementation owns whatever CipherState it needs (an AEAD
// nonce counter, a running cipher.Stream) between calls; readPacket and
// writePacket are the only operations a Stream needs.
//
// The spec's per-operation table (decrypt/open/decompress and
// pad/encrypt/seal) is realised differently depending on the cipher
// family: a stream cipher + detached MAC keeps those steps separate
// (see streamPacketCipher below); an AEAD collapses decrypt+open and
// pad+encrypt+seal into one authenticated operation, since it is not
// safe to expose unauthenticated plaintext in between.
type packetCipher interface {
	// readPacket reads, decrypts, verifies and decompresses one packet
	// from r, returning its payload (message number + body, padding
	// stripped).
	readPacket(seq uint32, r io.Reader) ([]byte, error)
	// writePacket compresses, pads, encrypts and MACs payload and
	// writes the resulting packet to w.
	writePacket(seq uint32, w io.Writer, rand io.Reader, payload []byte) error
}

// Transport bundles one direction's packetCipher with the negotiated
// algorithm names, for logging and metrics.
type Transport struct {
	Cipher      packetCipher
	CipherName  string
	MACName     string
	Compression string
}

// TransportPair is always replaced atomically on a Stream: the new pair
// is built in full before the swap, and the old pair (including its key
// material) is dropped only afterwards.
type TransportPair struct {
	Read  *Transport
	Write *Transport
}

// plainTransportPair is installed before the first key exchange
// completes: no cipher, no MAC, no compression.
func plainTransportPair() *TransportPair {
	p := &Transport{Cipher: &plainCipher{}, CipherName: "none", MACName: "none", Compression: "none"}
	return &TransportPair{Read: p, Write: p}
}

// KeyChain holds the six directional key-schedule strings derived at the
// end of a key exchange. The session identifier (see Stream.withSession)
// is an input to every one of them and is immutable for the session.
type KeyChain struct {
	IVClientToServer  []byte
	IVServerToClient  []byte
	KeyClientToServer []byte
	KeyServerToClient []byte
	MACKeyClientToServer []byte
	MACKeyServerToClient []byte
}

// kdf implements the RFC 4253 section 7.2 key-derivation function:
// HASH(K || H || label || session_id), extended by iterated hashing of
// HASH(K || H || prefix) until at least size bytes are available.
func kdf(k *big.Int, h []byte, label byte, sessionID []byte, size int) []byte {
	var kBytes []byte
	kBytes = appendMPInt(kBytes, k)

	out := make([]byte, 0, size+sha256.Size)
	hasher := sha256.New()
	hasher.Write(kBytes)
	hasher.Write(h)
	hasher.Write([]byte{label})
	hasher.Write(sessionID)
	out = hasher.Sum(out)

	for len(out) < size {
		hasher.Reset()
		hasher.Write(kBytes)
		hasher.Write(h)
		hasher.Write(out)
		out = hasher.Sum(out)
	}
	return out[:size]
}

// deriveKeys runs the six-way kdf for the negotiated algorithms.
func deriveKeys(k *big.Int, h []byte, sessionID []byte, algs *Algorithms) (*KeyChain, error) {
	cs, ok := cipherModes[algs.W.Cipher]
	if !ok {
		return nil, fmt.Errorf("ssh: unknown cipher %q", algs.W.Cipher)
	}
	rs, ok := cipherModes[algs.R.Cipher]
	if !ok {
		return nil, fmt.Errorf("ssh: unknown cipher %q", algs.R.Cipher)
	}
	// AEAD ciphers negotiate no MAC, so their MAC key is empty.
	var wMACSize, rMACSize int
	if m := macModes[algs.W.MAC]; m != nil {
		wMACSize = m.keySize
	}
	if m := macModes[algs.R.MAC]; m != nil {
		rMACSize = m.keySize
	}

	kc := &KeyChain{
		IVClientToServer:     kdf(k, h, 'A', sessionID, cs.ivSize),
		IVServerToClient:     kdf(k, h, 'B', sessionID, rs.ivSize),
		KeyClientToServer:    kdf(k, h, 'C', sessionID, cs.keySize),
		KeyServerToClient:    kdf(k, h, 'D', sessionID, rs.keySize),
		MACKeyClientToServer: kdf(k, h, 'E', sessionID, wMACSize),
		MACKeyServerToClient: kdf(k, h, 'F', sessionID, rMACSize),
	}
	return kc, nil
}

// newTransportPair builds the post-kex TransportPair for one side. isClient
// selects which half of the KeyChain ("client to server" vs "server to
// client"), and which of algs.W/algs.R, is read vs written.
func newTransportPair(algs *Algorithms, kc *KeyChain, isClient bool) (*TransportPair, error) {
	var writeKey, writeIV, writeMACKey []byte
	var readKey, readIV, readMACKey []byte
	wAlg, rAlg := algs.W, algs.R
	if isClient {
		writeKey, writeIV, writeMACKey = kc.KeyClientToServer, kc.IVClientToServer, kc.MACKeyClientToServer
		readKey, readIV, readMACKey = kc.KeyServerToClient, kc.IVServerToClient, kc.MACKeyServerToClient
	} else {
		writeKey, writeIV, writeMACKey = kc.KeyServerToClient, kc.IVServerToClient, kc.MACKeyServerToClient
		readKey, readIV, readMACKey = kc.KeyClientToServer, kc.IVClientToServer, kc.MACKeyClientToServer
		wAlg, rAlg = algs.R, algs.W
	}

	writeCipher, err := newPacketCipher(wAlg.Cipher, wAlg.MAC, wAlg.Compression, writeKey, writeIV, writeMACKey, true)
	if err != nil {
		return nil, err
	}
	readCipher, err := newPacketCipher(rAlg.Cipher, rAlg.MAC, rAlg.Compression, readKey, readIV, readMACKey, false)
	if err != nil {
		return nil, err
	}

	return &TransportPair{
		Read:  &Transport{Cipher: readCipher, CipherName: rAlg.Cipher, MACName: rAlg.MAC, Compression: rAlg.Compression},
		Write: &Transport{Cipher: writeCipher, CipherName: wAlg.Cipher, MACName: wAlg.MAC, Compression: wAlg.Compression},
	}, nil
}
