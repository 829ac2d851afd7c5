// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"io"
	"time"

	"github.com/Nurrl/assh/internal/metrics"
)

// Stream is the framing engine: buffered byte I/O on one side, packet
// I/O on the other. It owns the current TransportPair, the
// receive/transmit sequence counters, the rekey thresholds and the
// session identifier. It is not safe for concurrent use: exactly one
// Session owns a Stream at a time, and neither readPacket nor
// writePacket is cancel-safe: a partial read or write leaves the
// stream mid-packet and the caller must drop it.
type Stream struct {
	r *bufio.Reader
	w *bufio.Writer

	config *Config

	pair *TransportPair

	rxSeq, txSeq                       uint32
	bytesSinceRekey, packetsSinceRekey uint64
	rekeyDeadline                      time.Time

	// sessionID is nil until the first key exchange completes, then
	// frozen for the lifetime of the Stream.
	sessionID []byte

	// queued holds one packet read ahead of the caller by peekType,
	// so peekType is non-destructive: the next readPacket drains it
	// instead of reading fresh bytes.
	queued []byte
}

func newStream(rw io.ReadWriter, config *Config) *Stream {
	return &Stream{
		r:      bufio.NewReader(rw),
		w:      bufio.NewWriter(rw),
		config: config,
		pair:   plainTransportPair(),
	}
}

// installTransportPair atomically replaces the Stream's TransportPair.
// The new pair is built in full by the caller (key exchange) before
// this is invoked, so there is never a half-installed pair visible to
// readPacket/writePacket. Sequence numbers are untouched; only the
// since-rekey counters and deadline reset.
func (s *Stream) installTransportPair(pair *TransportPair) {
	s.pair = pair
	s.bytesSinceRekey = 0
	s.packetsSinceRekey = 0
	if s.config.RekeyInterval > 0 {
		s.rekeyDeadline = time.Now().Add(s.config.RekeyInterval)
	}
}

// withSession fixes the session identifier on the first call and
// leaves it untouched on every subsequent one: the session identifier
// is the exchange hash of the first key exchange and is immutable for
// the session's lifetime.
func (s *Stream) withSession(hash []byte) []byte {
	if s.sessionID == nil {
		s.sessionID = hash
	}
	return s.sessionID
}

// isRekeyable reports whether this side should itself initiate a new
// key exchange.
func (s *Stream) isRekeyable() bool {
	if s.bytesSinceRekey >= s.config.RekeyThreshold {
		return true
	}
	if s.packetsSinceRekey >= s.config.RekeyPackets {
		return true
	}
	if s.config.RekeyInterval > 0 && !s.rekeyDeadline.IsZero() && !time.Now().Before(s.rekeyDeadline) {
		return true
	}
	return false
}

// readRawPacket and writeRawPacket satisfy kexIO: the minimal raw
// packet contract key exchange needs, bypassing peekType's read-ahead
// buffer. They still advance rxSeq/txSeq and the since-rekey counters
// exactly as readPacket/writePacket do, since the sequence numbers
// they feed into the MAC/AEAD must stay monotone across key exchange:
// the first packet sent or received under a newly installed
// TransportPair continues the same counter, never restarting at 0.
func (s *Stream) readRawPacket() ([]byte, error) {
	p, err := s.pair.Read.Cipher.readPacket(s.rxSeq, s.r)
	if err != nil {
		return nil, err
	}
	s.rxSeq++
	s.bytesSinceRekey += uint64(len(p))
	s.packetsSinceRekey++
	return p, nil
}

func (s *Stream) writeRawPacket(payload []byte) error {
	if err := s.pair.Write.Cipher.writePacket(s.txSeq, s.w, s.config.Rand, payload); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.txSeq++
	s.bytesSinceRekey += uint64(len(payload))
	s.packetsSinceRekey++
	return nil
}

// readPacket reads one full packet, advancing rxSeq and the since-rekey
// counters. A packet previously buffered by peekType is drained first.
func (s *Stream) readPacket() ([]byte, error) {
	if s.queued != nil {
		p := s.queued
		s.queued = nil
		return p, nil
	}
	p, err := s.pair.Read.Cipher.readPacket(s.rxSeq, s.r)
	if err != nil {
		return nil, err
	}
	s.rxSeq++
	s.bytesSinceRekey += uint64(len(p))
	s.packetsSinceRekey++
	metrics.BytesTransferred.WithLabelValues("rx").Add(float64(len(p)))
	metrics.PacketsTransferred.WithLabelValues("rx").Inc()
	return p, nil
}

// writePacket compresses, pads, encrypts and MACs payload, advancing
// txSeq and the since-rekey counters.
func (s *Stream) writePacket(payload []byte) error {
	if err := s.pair.Write.Cipher.writePacket(s.txSeq, s.w, s.config.Rand, payload); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.txSeq++
	s.bytesSinceRekey += uint64(len(payload))
	s.packetsSinceRekey++
	metrics.BytesTransferred.WithLabelValues("tx").Add(float64(len(payload)))
	metrics.PacketsTransferred.WithLabelValues("tx").Inc()
	return nil
}

// peekType returns the message number of the next packet without
// consuming it, buffering the packet itself for the following
// readPacket call.
func (s *Stream) peekType() (byte, error) {
	if s.queued == nil {
		p, err := s.pair.Read.Cipher.readPacket(s.rxSeq, s.r)
		if err != nil {
			return 0, err
		}
		s.rxSeq++
		s.bytesSinceRekey += uint64(len(p))
		s.packetsSinceRekey++
		s.queued = p
	}
	if len(s.queued) == 0 {
		return 0, ErrMalformedPacket
	}
	return s.queued[0], nil
}
