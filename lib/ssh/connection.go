// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "github.com/sirupsen/logrus"

// ConnectionService is a minimal stand-in for the ssh-connection
// service, included only as a demonstration consumer of the
// authenticated session handoff. It accepts exactly one channel per
// CHANNEL_OPEN and exposes a write-only Channel; there is no
// flow-control window accounting, no pty, no exec, no port forwarding.
type ConnectionService struct {
	log *logrus.Entry
}

// NewConnectionService constructs a ConnectionService whose logger is
// tagged with the ssh-connection service name.
func NewConnectionService() *ConnectionService {
	return &ConnectionService{log: logrus.WithField("service", serviceSSH)}
}

// Channel is a write-only handle to one accepted ssh-connection
// channel, sufficient to push CHANNEL_DATA after a successful open.
type Channel struct {
	session *Session
	peersID uint32
}

// Write sends buf as a single CHANNEL_DATA packet. It always writes
// the whole buffer in one packet; callers needing fragmentation or
// flow control must do so themselves, since that bookkeeping belongs
// to the full channel layer this stub does not implement.
func (c *Channel) Write(buf []byte) (int, error) {
	msg := &channelDataMsg{PeersID: c.peersID, Length: uint32(len(buf)), Rest: buf}
	if err := c.session.send(msg); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Serve waits for one CHANNEL_OPEN, confirms it, and hands the
// resulting Channel to onOpen.
func (cs *ConnectionService) Serve(s *Session, onOpen func(*Channel) error) error {
	packet, err := s.recv()
	if err != nil {
		return err
	}
	if packet[0] != msgChannelOpen {
		return s.fatal(unexpectedMessageError(msgChannelOpen, packet[0]))
	}
	var open channelOpenMsg
	if err := Unmarshal(packet, &open); err != nil {
		return s.fatal(err)
	}

	const localWindow = 1 << 20
	confirm := &channelOpenConfirmMsg{
		PeersID:       open.PeersID,
		MyID:          0,
		MyWindow:      localWindow,
		MaxPacketSize: maxPacketLength,
	}
	if err := s.send(confirm); err != nil {
		return err
	}

	cs.log.WithField("channel_type", open.ChanType).Debug("channel opened")
	return onOpen(&Channel{session: s, peersID: open.PeersID})
}
