// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

func findCommon(what string, client []string, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("ssh: no common algorithm for %s; client offered: %v, server offered: %v", what, client, server)
}

// DirectionAlgorithms is the negotiated {cipher, MAC, compression} triple
// for one direction of traffic.
type DirectionAlgorithms struct {
	Cipher      string `json:"cipher"`
	MAC         string `json:"mac"`
	Compression string `json:"compression"`
}

// Algorithms is the full result of negotiating one KEXINIT exchange: one
// kex algorithm, one host-key algorithm, and a DirectionAlgorithms for
// each of the two directions.
type Algorithms struct {
	Kex     string
	HostKey string
	W       DirectionAlgorithms
	R       DirectionAlgorithms
}

func (alg *Algorithms) MarshalJSON() ([]byte, error) {
	aux := struct {
		Kex     string              `json:"kex_algorithm"`
		HostKey string              `json:"host_key_algorithm"`
		W       DirectionAlgorithms `json:"client_to_server"`
		R       DirectionAlgorithms `json:"server_to_client"`
	}{alg.Kex, alg.HostKey, alg.W, alg.R}
	return json.Marshal(aux)
}

// findAgreedAlgorithms picks, independently for every negotiation slot,
// the first client-preferred algorithm that also appears in the
// server's list. Absence of a common choice in any slot is fatal.
func findAgreedAlgorithms(clientInit, serverInit *KexInitMsg) (*Algorithms, error) {
	result := &Algorithms{}
	var err error

	if result.Kex, err = findCommon("key exchange", clientInit.KexAlgos, serverInit.KexAlgos); err != nil {
		return nil, ErrNoCommonKex
	}
	if result.HostKey, err = findCommon("host key", clientInit.ServerHostKeyAlgos, serverInit.ServerHostKeyAlgos); err != nil {
		return nil, ErrNoCommonHostKey
	}
	if result.W.Cipher, err = findCommon("client to server cipher", clientInit.CiphersClientServer, serverInit.CiphersClientServer); err != nil {
		return nil, ErrNoCommonCipher
	}
	if result.R.Cipher, err = findCommon("server to client cipher", clientInit.CiphersServerClient, serverInit.CiphersServerClient); err != nil {
		return nil, ErrNoCommonCipher
	}
	if aead := cipherModes[result.W.Cipher]; aead == nil || !aead.aead {
		if result.W.MAC, err = findCommon("client to server MAC", clientInit.MACsClientServer, serverInit.MACsClientServer); err != nil {
			return nil, ErrNoCommonMAC
		}
	}
	if aead := cipherModes[result.R.Cipher]; aead == nil || !aead.aead {
		if result.R.MAC, err = findCommon("server to client MAC", clientInit.MACsServerClient, serverInit.MACsServerClient); err != nil {
			return nil, ErrNoCommonMAC
		}
	}
	if result.W.Compression, err = findCommon("client to server compression", clientInit.CompressionClientServer, serverInit.CompressionClientServer); err != nil {
		return nil, ErrNoCommonCompression
	}
	if result.R.Compression, err = findCommon("server to client compression", clientInit.CompressionServerClient, serverInit.CompressionServerClient); err != nil {
		return nil, ErrNoCommonCompression
	}

	return result, nil
}

// minRekeyThreshold is the smallest byte threshold that still lets a
// session make forward progress between rekeys.
const minRekeyThreshold uint64 = 256

// Config holds the negotiation and rekey policy shared by both sides of
// a Session.
type Config struct {
	// Rand provides entropy for nonces, padding and ephemeral keys. A
	// nil Rand uses crypto/rand.Reader.
	Rand io.Reader

	// RekeyThreshold is the number of bytes sent or received after
	// which a new key exchange is triggered. Must be >= 256; 0 means
	// the RFC 4253 section 9 suggested default of 1 GiB.
	RekeyThreshold uint64

	// RekeyPackets is the number of packets sent or received after
	// which a new key exchange is triggered. 0 means 2^30.
	RekeyPackets uint64

	// RekeyInterval is the wall-clock duration after which a new key
	// exchange is triggered regardless of byte/packet counts. 0 means
	// one hour; use a negative value to disable the wall-clock trigger.
	RekeyInterval time.Duration

	// KeyExchanges lists the allowed key-exchange algorithms in
	// preference order. Defaults to defaultKexAlgos.
	KeyExchanges []string

	// Ciphers lists the allowed ciphers in preference order. Defaults
	// to defaultCiphers.
	Ciphers []string

	// MACs lists the allowed MAC algorithms in preference order.
	// Defaults to defaultMACs.
	MACs []string

	// Compressions lists the allowed compression methods in preference
	// order. Defaults to defaultCompressions.
	Compressions []string

	// Timeout, on a connection that supports SetDeadline, bounds session
	// setup as a whole: the identification-string exchange and the first
	// key exchange. Packet reads after setup are not bounded by it.
	Timeout time.Duration
}

// SetDefaults fills unset fields with the package defaults.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}
	if c.MACs == nil {
		c.MACs = defaultMACs
	}
	if c.Compressions == nil {
		c.Compressions = defaultCompressions
	}
	if c.RekeyThreshold == 0 {
		c.RekeyThreshold = 1 << 30
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}
	if c.RekeyPackets == 0 {
		c.RekeyPackets = 1 << 30
	}
	if c.RekeyInterval == 0 {
		c.RekeyInterval = time.Hour
	}
}

// buildDataSignedForAuth returns the data signed to prove possession of
// a private key during publickey authentication (RFC 4252 section 7):
// the session identifier followed by the fields of the request that are
// covered by the signature.
func buildDataSignedForAuth(sessionID []byte, req userAuthRequestMsg, algo, pubKey []byte) []byte {
	var buf []byte
	buf = appendBytes(buf, sessionID)
	buf = append(buf, msgUserAuthRequest)
	buf = appendString(buf, req.User)
	buf = appendString(buf, req.Service)
	buf = appendString(buf, req.Method)
	buf = appendBool(buf, true)
	buf = appendBytes(buf, algo)
	buf = appendBytes(buf, pubKey)
	return buf
}
