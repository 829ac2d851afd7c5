// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"math/big"
	"reflect"
)

// Message numbers, RFC 4253/4252 plus RFC 8731 (curve25519 reuses the
// generic KEX_ECDH numbers).
const (
	msgDisconnect   = 1
	msgIgnore       = 2
	msgUnimplemented = 3
	msgDebug        = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit  = 20
	msgNewKeys  = 21

	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53

	msgUserAuthPubKeyOK        = 60
	msgUserAuthPasswdChangeReq = 60

	msgChannelOpen             = 90
	msgChannelOpenConfirmation = 91
	msgChannelOpenFailure      = 92
	msgChannelData             = 94
)

// message is implemented by every typed wire message; msgNum reports the
// first byte of the encoded packet.
type message interface {
	msgNum() byte
}

type disconnectMsg struct {
	Reason      uint32
	Message     string
	Language    string `ssh:"rest"`
}

func (disconnectMsg) msgNum() byte { return msgDisconnect }

type ignoreMsg struct {
	Data string
}

func (ignoreMsg) msgNum() byte { return msgIgnore }

type debugMsg struct {
	AlwaysDisplay bool
	Message       string
	Language      string
}

func (debugMsg) msgNum() byte { return msgDebug }

type unimplementedMsg struct {
	SeqNum uint32
}

func (unimplementedMsg) msgNum() byte { return msgUnimplemented }

type serviceRequestMsg struct {
	Service string
}

func (serviceRequestMsg) msgNum() byte { return msgServiceRequest }

type serviceAcceptMsg struct {
	Service string
}

func (serviceAcceptMsg) msgNum() byte { return msgServiceAccept }

// KexInitMsg lists each side's preferred algorithms. Every field except
// Cookie is used for negotiation; the raw packet bytes (not this struct)
// are what feed the exchange-hash transcript, since re-marshalling could
// reorder or normalise fields.
type KexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

func (*KexInitMsg) msgNum() byte { return msgKexInit }

type newKeysMsg struct{}

func (newKeysMsg) msgNum() byte { return msgNewKeys }

type kexECDHInitMsg struct {
	ClientPubKey []byte
}

func (kexECDHInitMsg) msgNum() byte { return msgKexECDHInit }

type kexECDHReplyMsg struct {
	HostKey   []byte
	ServerPubKey []byte
	Signature []byte
}

func (kexECDHReplyMsg) msgNum() byte { return msgKexECDHReply }

type userAuthRequestMsg struct {
	User    string
	Service string
	Method  string
	Payload []byte `ssh:"rest"`
}

func (userAuthRequestMsg) msgNum() byte { return msgUserAuthRequest }

type userAuthFailureMsg struct {
	Methods        []string
	PartialSuccess bool
}

func (userAuthFailureMsg) msgNum() byte { return msgUserAuthFailure }

type userAuthSuccessMsg struct{}

func (userAuthSuccessMsg) msgNum() byte { return msgUserAuthSuccess }

type userAuthBannerMsg struct {
	Message  string
	Language string
}

func (userAuthBannerMsg) msgNum() byte { return msgUserAuthBanner }

type userAuthPubKeyOKMsg struct {
	Algo   string
	PubKey []byte
}

func (userAuthPubKeyOKMsg) msgNum() byte { return msgUserAuthPubKeyOK }

type userAuthPasswdChangeReqMsg struct {
	Prompt   string
	Language string
}

func (userAuthPasswdChangeReqMsg) msgNum() byte { return msgUserAuthPasswdChangeReq }

type channelOpenMsg struct {
	ChanType         string
	PeersID          uint32
	PeersWindow      uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh:"rest"`
}

func (channelOpenMsg) msgNum() byte { return msgChannelOpen }

type channelOpenConfirmMsg struct {
	PeersID       uint32
	MyID          uint32
	MyWindow      uint32
	MaxPacketSize uint32
}

func (channelOpenConfirmMsg) msgNum() byte { return msgChannelOpenConfirmation }

type channelOpenFailureMsg struct {
	PeersID  uint32
	Reason   uint32
	Message  string
	Language string
}

func (channelOpenFailureMsg) msgNum() byte { return msgChannelOpenFailure }

type channelDataMsg struct {
	PeersID uint32
	Length  uint32
	Rest    []byte `ssh:"rest"`
}

func (channelDataMsg) msgNum() byte { return msgChannelData }

// --- wire encoding helpers -------------------------------------------------

func appendU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendU64(buf []byte, n uint64) []byte {
	return append(buf,
		byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
		byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendNameList(buf []byte, names []string) []byte {
	length := 0
	for i, n := range names {
		if i != 0 {
			length++
		}
		length += len(n)
	}
	buf = appendU32(buf, uint32(length))
	for i, n := range names {
		if i != 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, n...)
	}
	return buf
}

// appendMPInt appends k as a two's-complement, minimal-length, big-endian
// mpint per RFC 4251 section 5 (used for the shared secret K fed into the
// exchange hash transcript).
func appendMPInt(buf []byte, k *big.Int) []byte {
	needsPad := k.Sign() > 0 && k.Bit(k.BitLen()-1) == 1
	length := (k.BitLen() + 7) / 8
	if needsPad {
		length++
	}
	buf = appendU32(buf, uint32(length))
	if needsPad {
		buf = append(buf, 0)
	}
	return append(buf, k.Bytes()...)
}

// Marshal serialises msg (first byte = msg.msgNum(), remaining exported
// fields in declaration order) into the SSH wire format.
func Marshal(msg message) []byte {
	out := []byte{msg.msgNum()}
	v := reflect.Indirect(reflect.ValueOf(msg))
	return marshalStruct(out, v)
}

func marshalStruct(out []byte, v reflect.Value) []byte {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("ssh")
		switch field.Kind() {
		case reflect.Bool:
			out = appendBool(out, field.Bool())
		case reflect.Uint32:
			out = appendU32(out, uint32(field.Uint()))
		case reflect.Uint64:
			out = appendU64(out, field.Uint())
		case reflect.String:
			out = appendString(out, field.String())
		case reflect.Slice:
			switch field.Type().Elem().Kind() {
			case reflect.Uint8:
				if tag == "rest" {
					out = append(out, field.Bytes()...)
				} else {
					out = appendBytes(out, field.Bytes())
				}
			case reflect.String:
				out = appendNameList(out, field.Interface().([]string))
			default:
				panic(fmt.Sprintf("ssh: unsupported slice field %s", t.Field(i).Name))
			}
		case reflect.Array:
			if field.Type().Elem().Kind() == reflect.Uint8 {
				for j := 0; j < field.Len(); j++ {
					out = append(out, byte(field.Index(j).Uint()))
				}
			} else {
				panic(fmt.Sprintf("ssh: unsupported array field %s", t.Field(i).Name))
			}
		case reflect.Ptr:
			if bi, ok := field.Interface().(*big.Int); ok {
				out = appendMPInt(out, bi)
			} else {
				panic(fmt.Sprintf("ssh: unsupported pointer field %s", t.Field(i).Name))
			}
		default:
			panic(fmt.Sprintf("ssh: unsupported field kind %s on %s", field.Kind(), t.Field(i).Name))
		}
	}
	return out
}

// Unmarshal decodes data (including its leading message-number byte, which
// is checked against msg.msgNum()) into msg's exported fields.
func Unmarshal(data []byte, msg message) error {
	if len(data) == 0 || data[0] != msg.msgNum() {
		got := byte(0)
		if len(data) > 0 {
			got = data[0]
		}
		return unexpectedMessageError(msg.msgNum(), got)
	}
	rest := data[1:]
	v := reflect.Indirect(reflect.ValueOf(msg))
	return unmarshalStruct(rest, v, msg.msgNum())
}

func unmarshalStruct(rest []byte, v reflect.Value, tag byte) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		fieldTag := t.Field(i).Tag.Get("ssh")
		switch field.Kind() {
		case reflect.Bool:
			if len(rest) < 1 {
				return parseError(tag)
			}
			field.SetBool(rest[0] != 0)
			rest = rest[1:]
		case reflect.Uint32:
			if len(rest) < 4 {
				return parseError(tag)
			}
			field.SetUint(uint64(rest[0])<<24 | uint64(rest[1])<<16 | uint64(rest[2])<<8 | uint64(rest[3]))
			rest = rest[4:]
		case reflect.Uint64:
			if len(rest) < 8 {
				return parseError(tag)
			}
			var n uint64
			for j := 0; j < 8; j++ {
				n = n<<8 | uint64(rest[j])
			}
			field.SetUint(n)
			rest = rest[8:]
		case reflect.String:
			s, r, ok := parseString(rest)
			if !ok {
				return parseError(tag)
			}
			field.SetString(string(s))
			rest = r
		case reflect.Slice:
			switch field.Type().Elem().Kind() {
			case reflect.Uint8:
				if fieldTag == "rest" {
					field.SetBytes(append([]byte{}, rest...))
					rest = nil
				} else {
					b, r, ok := parseString(rest)
					if !ok {
						return parseError(tag)
					}
					field.SetBytes(append([]byte{}, b...))
					rest = r
				}
			case reflect.String:
				list, r, ok := parseNameList(rest)
				if !ok {
					return parseError(tag)
				}
				field.Set(reflect.ValueOf(list))
				rest = r
			default:
				return parseError(tag)
			}
		case reflect.Array:
			if field.Type().Elem().Kind() == reflect.Uint8 {
				n := field.Len()
				if len(rest) < n {
					return parseError(tag)
				}
				for j := 0; j < n; j++ {
					field.Index(j).SetUint(uint64(rest[j]))
				}
				rest = rest[n:]
			} else {
				return parseError(tag)
			}
		case reflect.Ptr:
			bi, r, ok := parseMPInt(rest)
			if !ok {
				return parseError(tag)
			}
			field.Set(reflect.ValueOf(bi))
			rest = r
		default:
			return parseError(tag)
		}
	}
	return nil
}

func parseString(in []byte) (out, rest []byte, ok bool) {
	if len(in) < 4 {
		return nil, nil, false
	}
	length := uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3])
	in = in[4:]
	if uint32(len(in)) < length {
		return nil, nil, false
	}
	return in[:length], in[length:], true
}

func parseNameList(in []byte) (out []string, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	if len(contents) == 0 {
		return nil, rest, true
	}
	start := 0
	for i, c := range contents {
		if c == ',' {
			out = append(out, string(contents[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(contents[start:]))
	return out, rest, true
}

func parseMPInt(in []byte) (out *big.Int, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	out = new(big.Int)
	if len(contents) > 0 && contents[0]&0x80 != 0 {
		// negative mpints never occur in this protocol subset (shared
		// secrets and signatures are always positive); reject rather
		// than silently mis-decode.
		return nil, nil, false
	}
	out.SetBytes(contents)
	return out, rest, true
}

// decode dispatches a raw payload to its typed message, for logging of
// transparent messages (ignore/debug/unimplemented).
func decode(packet []byte) (interface{}, error) {
	if len(packet) == 0 {
		return nil, parseError(0)
	}
	var msg message
	switch packet[0] {
	case msgDisconnect:
		msg = new(disconnectMsg)
	case msgIgnore:
		msg = new(ignoreMsg)
	case msgDebug:
		msg = new(debugMsg)
	case msgUnimplemented:
		msg = new(unimplementedMsg)
	case msgServiceRequest:
		msg = new(serviceRequestMsg)
	case msgServiceAccept:
		msg = new(serviceAcceptMsg)
	case msgKexInit:
		msg = new(KexInitMsg)
	case msgNewKeys:
		msg = new(newKeysMsg)
	case msgUserAuthRequest:
		msg = new(userAuthRequestMsg)
	case msgUserAuthFailure:
		msg = new(userAuthFailureMsg)
	case msgUserAuthSuccess:
		msg = new(userAuthSuccessMsg)
	case msgUserAuthBanner:
		msg = new(userAuthBannerMsg)
	default:
		return nil, fmt.Errorf("ssh: unknown message type %d", packet[0])
	}
	if err := Unmarshal(packet, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
