// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nurrl/assh/internal/metrics"
)

// deadliner is implemented by net.Conn; when conn supports it, Timeout
// is applied as one deadline covering session setup (the
// identification-string exchange and the first key exchange). Packet
// reads after setup are not bounded by Timeout.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// ClientConfig configures a Session acting as the key-exchange and
// authentication initiator.
type ClientConfig struct {
	Config

	// User is the username sent in every USERAUTH_REQUEST.
	User string

	// Auth lists the authentication methods to try, in the order
	// password then publickey, after the mandatory leading "none"
	// attempt.
	Auth []AuthMethod

	// HostKeyCallback is invoked with the server's host key once the
	// exchange hash signature has been verified cryptographically. A
	// nil callback accepts any host key.
	HostKeyCallback func(key PublicKey) error
}

// ServerConfig configures a Session acting as the key-exchange and
// authentication responder.
type ServerConfig struct {
	Config

	// HostKeys are searched, in order, for the first key whose algorithm
	// matches the negotiated host-key algorithm; that key signs the
	// exchange hash. KEXINIT always advertises ssh-ed25519 only,
	// whatever keys are listed here.
	HostKeys []Signer

	// Auth holds the ssh-userauth responder settings for the caller to
	// pass to ServeUserAuth (userauth_server.go). Session itself does not
	// read it.
	Auth *ServerAuth
}

// Session is the top-level protocol machine: a Stream plus
// side-specific configuration. Once dead, it is sticky: every
// subsequent operation returns the same DisconnectedError.
type Session struct {
	stream   *Stream
	isClient bool

	clientConfig *ClientConfig
	serverConfig *ServerConfig

	peerID []byte

	algorithms *Algorithms

	layer Layer

	log *logrus.Entry

	dead *DisconnectedError
}

// NewClientSession performs the identification-string exchange and the
// first key exchange over conn, then returns a live Session ready for
// Session.request or Session.recv/send.
func NewClientSession(conn io.ReadWriter, config *ClientConfig) (*Session, error) {
	cfg := *config
	cfg.SetDefaults()
	s := &Session{
		isClient:     true,
		clientConfig: &cfg,
		layer:        identityLayer{},
		log:          logrus.WithField("side", "client"),
	}
	if err := s.init(conn, &cfg.Config); err != nil {
		return nil, err
	}
	return s, nil
}

// NewServerSession is the responder-side equivalent of NewClientSession.
func NewServerSession(conn io.ReadWriter, config *ServerConfig) (*Session, error) {
	cfg := *config
	cfg.SetDefaults()
	s := &Session{
		isClient:     false,
		serverConfig: &cfg,
		layer:        identityLayer{},
		log:          logrus.WithField("side", "server"),
	}
	if err := s.init(conn, &cfg.Config); err != nil {
		return nil, err
	}
	return s, nil
}

// Use installs the Layer run around key exchange and packet delivery.
// It must be called before the first recv/send; the client userauth
// layer is installed this way by NewAuthenticatedClientSession.
func (s *Session) Use(layer Layer) { s.layer = layer }

func (s *Session) init(conn io.ReadWriter, config *Config) (err error) {
	s.stream = newStream(conn, config)

	if d, ok := conn.(deadliner); ok && config.Timeout > 0 {
		_ = d.SetDeadline(time.Now().Add(config.Timeout))
		defer d.SetDeadline(time.Time{})
	}

	if err = writeVersion(s.stream.w, []byte(packageVersion)); err != nil {
		return fmt.Errorf("ssh: writing identification string: %w", err)
	}
	s.peerID, err = readVersion(s.stream.r)
	if err != nil {
		return fmt.Errorf("ssh: reading identification string: %w", err)
	}

	if err := s.doKex(); err != nil {
		return err
	}
	return nil
}

// doKex runs one key exchange (the first, or a rekey) over the Stream
// and installs the resulting TransportPair.
func (s *Session) doKex() error {
	localInit := newKexInitMsg(s.config())
	localPacket := Marshal(localInit)
	localPacketCopy := append([]byte(nil), localPacket...)

	if err := s.stream.writeRawPacket(localPacketCopy); err != nil {
		return s.fatal(keyExchangeError(err))
	}
	var peerPacket []byte
	var err error
	if q := s.stream.queued; len(q) > 0 && q[0] == msgKexInit {
		// recv already read the peer's KEXINIT ahead through peekType.
		peerPacket, s.stream.queued = q, nil
	} else if peerPacket, err = s.stream.readRawPacket(); err != nil {
		return s.fatal(keyExchangeError(err))
	}
	peerInit := &KexInitMsg{}
	if err := Unmarshal(peerPacket, peerInit); err != nil {
		return s.fatal(keyExchangeError(err))
	}

	var clientInit, serverInit *KexInitMsg
	var clientPacket, serverPacket []byte
	if s.isClient {
		clientInit, serverInit = localInit, peerInit
		clientPacket, serverPacket = localPacket, peerPacket
	} else {
		clientInit, serverInit = peerInit, localInit
		clientPacket, serverPacket = peerPacket, localPacket
	}

	algs, err := findAgreedAlgorithms(clientInit, serverInit)
	if err != nil {
		return s.fatal(keyExchangeError(err))
	}

	magics := &handshakeMagics{
		clientVersion: s.clientVersion(),
		serverVersion: s.serverVersion(),
		clientKexInit: clientPacket,
		serverKexInit: serverPacket,
	}

	var result *kexResult
	if s.isClient {
		var verify func(PublicKey) error
		if s.clientConfig != nil {
			verify = s.clientConfig.HostKeyCallback
		}
		result, err = runClientKex(s.stream, s.config().Rand, magics, verify)
	} else {
		hostKey := s.selectHostKey(algs.HostKey)
		if hostKey == nil {
			return s.fatal(keyExchangeError(fmt.Errorf("no host key for algorithm %q", algs.HostKey)))
		}
		result, err = runServerKex(s.stream, s.config().Rand, magics, hostKey)
	}
	if err != nil {
		return s.fatal(err)
	}

	sessionID := s.stream.withSession(result.H)
	result.SessionID = sessionID

	keys, err := deriveKeys(result.K, result.H, sessionID, algs)
	if err != nil {
		return s.fatal(keyExchangeError(err))
	}
	pair, err := newTransportPair(algs, keys, s.isClient)
	if err != nil {
		return s.fatal(keyExchangeError(err))
	}

	if err := s.stream.writeRawPacket([]byte{msgNewKeys}); err != nil {
		return s.fatal(keyExchangeError(err))
	}
	reply, err := s.stream.readRawPacket()
	if err != nil {
		return s.fatal(keyExchangeError(err))
	}
	if len(reply) == 0 || reply[0] != msgNewKeys {
		return s.fatal(keyExchangeError(unexpectedMessageError(msgNewKeys, firstByte(reply))))
	}

	s.stream.installTransportPair(pair)
	s.algorithms = algs
	s.log.WithField("kex", algs.Kex).WithField("cipher", algs.W.Cipher).Debug("key exchange complete")
	if s.isClient {
		metrics.Rekeys.WithLabelValues("client").Inc()
	} else {
		metrics.Rekeys.WithLabelValues("server").Inc()
	}

	if s.layer != nil {
		if err := s.layer.onKex(s); err != nil {
			return s.fatal(err)
		}
	}
	return nil
}

// PeerIdentification returns the version-exchange identification string
// received from the peer.
func (s *Session) PeerIdentification() []byte { return s.peerID }

// SessionID returns the session identifier fixed by the first key
// exchange, or nil before it has completed.
func (s *Session) SessionID() []byte { return s.stream.sessionID }

// Algorithms returns the negotiated algorithm set from the most recent
// key exchange, or nil before the first one has completed.
func (s *Session) Algorithms() *Algorithms { return s.algorithms }

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (s *Session) clientVersion() []byte {
	if s.isClient {
		return []byte(packageVersion)
	}
	return s.peerID
}

func (s *Session) serverVersion() []byte {
	if s.isClient {
		return s.peerID
	}
	return []byte(packageVersion)
}

func (s *Session) config() *Config {
	if s.isClient {
		return &s.clientConfig.Config
	}
	return &s.serverConfig.Config
}

func (s *Session) selectHostKey(algo string) Signer {
	for _, k := range s.serverConfig.HostKeys {
		if k.PublicKey().Type() == algo {
			return k
		}
	}
	return nil
}

func newKexInitMsg(config *Config) *KexInitMsg {
	msg := &KexInitMsg{
		KexAlgos:                config.KeyExchanges,
		ServerHostKeyAlgos:      []string{KeyAlgoED25519},
		CiphersClientServer:     config.Ciphers,
		CiphersServerClient:     config.Ciphers,
		MACsClientServer:        config.MACs,
		MACsServerClient:        config.MACs,
		CompressionClientServer: config.Compressions,
		CompressionServerClient: config.Compressions,
	}
	io.ReadFull(config.Rand, msg.Cookie[:])
	return msg
}

// recv opportunistically rekeys, skips transparent messages, and
// surfaces the first non-transparent packet. Not cancel-safe: a
// caller that abandons a call mid-read leaves the Stream's framing
// state undefined for any later call.
func (s *Session) recv() ([]byte, error) {
	if s.dead != nil {
		return nil, s.dead
	}
	for {
		typ, err := s.stream.peekType()
		if err != nil {
			return nil, s.fatal(err)
		}
		if s.stream.isRekeyable() || typ == msgKexInit {
			if err := s.doKex(); err != nil {
				return nil, err
			}
			continue
		}

		packet, err := s.stream.readPacket()
		if err != nil {
			return nil, s.fatal(err)
		}

		switch packet[0] {
		case msgDisconnect:
			var d disconnectMsg
			if err := Unmarshal(packet, &d); err == nil {
				return nil, s.terminate(disconnectedByThem(d.Reason, d.Message))
			}
			return nil, s.terminate(disconnectedByThem(DisconnectProtocolError, "malformed disconnect"))
		case msgIgnore, msgDebug, msgUnimplemented:
			if decoded, err := decode(packet); err == nil {
				s.log.WithField("message", decoded).Trace("transparent message")
			} else {
				s.log.WithField("type", packet[0]).Trace("transparent message")
			}
			continue
		}

		if s.layer != nil {
			consumed, err := s.layer.onRecv(s, packet)
			if err != nil {
				return nil, s.fatal(err)
			}
			if consumed {
				continue
			}
		}
		return packet, nil
	}
}

// send opportunistically rekeys, then transmits msg.
func (s *Session) send(msg message) error {
	if s.dead != nil {
		return s.dead
	}
	if s.stream.isRekeyable() {
		if err := s.doKex(); err != nil {
			return err
		}
	}
	if err := s.stream.writePacket(Marshal(msg)); err != nil {
		return s.fatal(err)
	}
	return nil
}

// disconnect best-effort sends a DISCONNECT, then moves the session to
// the terminated state.
func (s *Session) disconnect(reason uint32, description string) error {
	if s.dead != nil {
		return s.dead
	}
	_ = s.stream.writePacket(Marshal(&disconnectMsg{Reason: reason, Message: description}))
	return s.terminate(disconnectedByUs(reason, description, nil))
}

// fatal maps a non-Disconnected error to a best-effort DISCONNECT and
// moves the session to terminated.
func (s *Session) fatal(err error) error {
	if d, ok := err.(*DisconnectedError); ok {
		return s.terminate(d)
	}
	reason := reasonFor(err)
	_ = s.stream.writePacket(Marshal(&disconnectMsg{Reason: reason, Message: err.Error()}))
	return s.terminate(disconnectedByUs(reason, err.Error(), err))
}

func (s *Session) terminate(d *DisconnectedError) error {
	if s.dead == nil {
		s.dead = d
		s.log.WithField("by", d.By).WithField("reason", d.Reason).Warn("session disconnected")
		by := "them"
		if d.By == Us {
			by = "us"
		}
		metrics.Disconnects.WithLabelValues(by, strconv.Itoa(int(d.Reason))).Inc()
	}
	return s.dead
}

func reasonFor(err error) uint32 {
	switch {
	case isKind(err, ErrMacMismatch):
		return DisconnectMacError
	case isKind(err, ErrNoCommonKex), isKind(err, ErrNoCommonCipher), isKind(err, ErrNoCommonMAC),
		isKind(err, ErrNoCommonCompression), isKind(err, ErrNoCommonHostKey):
		return DisconnectKeyExchangeFailed
	case isKind(err, ErrServiceNotAvailable):
		return DisconnectServiceNotAvailable
	default:
		if _, ok := err.(*KeyExchangeError); ok {
			return DisconnectKeyExchangeFailed
		}
		return DisconnectProtocolError
	}
}

func isKind(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// request sends a SERVICE_REQUEST naming name and, on SERVICE_ACCEPT,
// hands the session to onAccept.
func (s *Session) request(name string, onAccept func(*Session) error) error {
	if err := s.send(&serviceRequestMsg{Service: name}); err != nil {
		return err
	}
	packet, err := s.recv()
	if err != nil {
		return err
	}
	var accept serviceAcceptMsg
	if err := Unmarshal(packet, &accept); err != nil || accept.Service != name {
		return s.fatal(fmt.Errorf("%w: expected service accept for %q", ErrServiceNotAvailable, name))
	}
	return onAccept(s)
}

// handle waits for a SERVICE_REQUEST naming name, accepts it, and runs
// onRequest; otherwise disconnects with ServiceNotAvailable.
func (s *Session) handle(name string, onRequest func(*Session) error) error {
	packet, err := s.recv()
	if err != nil {
		return err
	}
	var req serviceRequestMsg
	if err := Unmarshal(packet, &req); err != nil || req.Service != name {
		_ = s.disconnect(DisconnectServiceNotAvailable, fmt.Sprintf("service %q not available", name))
		return s.dead
	}
	if err := s.send(&serviceAcceptMsg{Service: name}); err != nil {
		return err
	}
	return onRequest(s)
}
