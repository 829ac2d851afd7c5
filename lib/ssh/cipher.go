// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

const (
	cipherAES128CTR      = "aes128-ctr"
	cipherAES256CTR      = "aes256-ctr"
	cipherChaCha20Poly1305 = "chacha20-poly1305@openssh.com"
)

const (
	macHMACSHA256 = "hmac-sha2-256"
	macHMACSHA512 = "hmac-sha2-512"
)

type cipherModeInfo struct {
	keySize int
	ivSize  int
	aead    bool
}

// cipherModes lists the cipher suites this core negotiates.
var cipherModes = map[string]*cipherModeInfo{
	cipherAES128CTR:        {keySize: 16, ivSize: aes.BlockSize},
	cipherAES256CTR:        {keySize: 32, ivSize: aes.BlockSize},
	cipherChaCha20Poly1305: {keySize: 64, ivSize: 0, aead: true},
}

type macModeInfo struct {
	keySize int
	new     func() hash.Hash
}

var macModes = map[string]*macModeInfo{
	macHMACSHA256: {keySize: 32, new: sha256.New},
	macHMACSHA512: {keySize: 64, new: sha512.New},
}

// defaultCiphers and defaultMACs list the preference-ordered defaults
// advertised in KEXINIT, limited to the algorithms this package
// actually implements.
var defaultCiphers = []string{cipherChaCha20Poly1305, cipherAES256CTR, cipherAES128CTR}
var defaultMACs = []string{macHMACSHA256, macHMACSHA512}
var defaultCompressions = []string{"none", "zlib"}

// newPacketCipher builds the packetCipher for one direction from its
// negotiated cipher/MAC/compression names and derived key material.
// macName and macKey are ignored for AEAD ciphers, which authenticate
// internally.
func newPacketCipher(cipherName, macName, compressionName string, key, iv, macKey []byte, forWrite bool) (packetCipher, error) {
	mode, ok := cipherModes[cipherName]
	if !ok {
		return nil, ErrNoCommonCipher
	}

	if mode.aead {
		switch cipherName {
		case cipherChaCha20Poly1305:
			c, err := newChaCha20Poly1305Cipher(key)
			if err != nil {
				return nil, err
			}
			if err := wireCompression(&c.compress, &c.decompress, compressionName, forWrite); err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	macMode, ok := macModes[macName]
	if !ok {
		return nil, ErrNoCommonMAC
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, iv)

	c := &streamPacketCipher{
		cipher:    stream,
		mac:       hmac.New(macMode.new, macKey),
		macSize:   macMode.new().Size(),
		blockSize: aes.BlockSize,
	}
	if err := wireCompression(&c.compress, &c.decompress, compressionName, forWrite); err != nil {
		return nil, err
	}
	return c, nil
}

// wireCompression installs a compressor on the write side of a
// direction's cipher, or a decompressor on the read side; exactly one of
// the two pointers is ever populated for a given instance.
func wireCompression(compress *compressor, decompress *decompressor, name string, forWrite bool) error {
	if forWrite {
		c, err := newCompressor(name)
		if err != nil {
			return err
		}
		*compress = c
		return nil
	}
	d, err := newDecompressor(name)
	if err != nil {
		return err
	}
	*decompress = d
	return nil
}

// ---- plaintext pre-kex cipher ---------------------------------------------

// plainCipher is installed before the first key exchange completes: no
// cipher, no MAC, no compression. Block size is RFC 4253's minimum of 8.
type plainCipher struct{}

func (plainCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 || length > maxPacketLength {
		return nil, ErrMalformedPacket
	}
	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}
	padLen := int(packet[0])
	if padLen < 4 || padLen > len(packet)-1 {
		return nil, ErrMalformedPacket
	}
	return packet[1 : len(packet)-padLen], nil
}

func (plainCipher) writePacket(seq uint32, w io.Writer, rand io.Reader, payload []byte) error {
	packet, err := padPacket(payload, 8, rand)
	if err != nil {
		return err
	}
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(packet)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(packet)
	return err
}

// padPacket produces [padding_length] || payload || random(padding_length)
// with padding_length >= 4 and the total length a multiple of blockSize,
// per RFC 4253 section 6.
func padPacket(payload []byte, blockSize int, rand io.Reader) ([]byte, error) {
	padLen := blockSize - (1+len(payload))%blockSize
	if padLen < 4 {
		padLen += blockSize
	}
	if 1+len(payload)+padLen > 255+len(payload) {
		// never happens for sane blockSize, kept as a defensive bound
		padLen = 255 - len(payload)
	}
	packet := make([]byte, 1+len(payload)+padLen)
	packet[0] = byte(padLen)
	copy(packet[1:], payload)
	if _, err := io.ReadFull(rand, packet[1+len(payload):]); err != nil {
		return nil, err
	}
	return packet, nil
}

// ---- aes*-ctr + hmac-sha2 ---------------------------------------------------

// streamPacketCipher implements the detached stream-cipher + MAC family.
// The cipher.Stream is the CipherState: it runs continuously across
// packets and across the lifetime of one TransportPair, never reset
// except by a rekey swapping in a brand new streamPacketCipher.
type streamPacketCipher struct {
	cipher      cipher.Stream
	mac         hash.Hash
	macSize     int
	blockSize   int
	compress    compressor
	decompress  decompressor
}

func (c *streamPacketCipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	c.cipher.XORKeyStream(lengthBuf[:], lengthBuf[:])
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 || length > maxPacketLength {
		return nil, ErrMalformedPacket
	}

	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}

	var macTag []byte
	if c.macSize > 0 {
		macTag = make([]byte, c.macSize)
		if _, err := io.ReadFull(r, macTag); err != nil {
			return nil, err
		}
	}

	c.cipher.XORKeyStream(packet, packet)

	if c.macSize > 0 {
		c.mac.Reset()
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], seq)
		c.mac.Write(seqBuf[:])
		c.mac.Write(lengthBuf[:])
		c.mac.Write(packet)
		expected := c.mac.Sum(nil)
		if !hmac.Equal(expected, macTag) {
			return nil, ErrMacMismatch
		}
	}

	padLen := int(packet[0])
	if padLen < 4 || padLen > len(packet)-1 {
		return nil, ErrMalformedPacket
	}
	payload := packet[1 : len(packet)-padLen]
	if c.decompress != nil {
		return c.decompress.decompress(payload)
	}
	return payload, nil
}

func (c *streamPacketCipher) writePacket(seq uint32, w io.Writer, rand io.Reader, payload []byte) error {
	var err error
	if c.compress != nil {
		payload, err = c.compress.compress(payload)
		if err != nil {
			return err
		}
	}
	packet, err := padPacket(payload, c.blockSize, rand)
	if err != nil {
		return err
	}
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(packet)))

	var macTag []byte
	if c.macSize > 0 {
		c.mac.Reset()
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], seq)
		c.mac.Write(seqBuf[:])
		c.mac.Write(lengthBuf[:])
		c.mac.Write(packet)
		macTag = c.mac.Sum(nil)
	}

	c.cipher.XORKeyStream(lengthBuf[:], lengthBuf[:])
	c.cipher.XORKeyStream(packet, packet)

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return err
	}
	if macTag != nil {
		if _, err := w.Write(macTag); err != nil {
			return err
		}
	}
	return nil
}

// ---- chacha20-poly1305@openssh.com -----------------------------------------

// chaCha20Poly1305Cipher implements the OpenSSH variant: a 64-byte key
// schedule splits into a 32-byte header key (encrypts only the 4-byte
// length field) and a 32-byte main key (generates a one-time Poly1305
// key from keystream block 0, then encrypts the payload from block 1
// onward). Compression, if any, runs on the plaintext payload exactly
// as for the detached-MAC family.
type chaCha20Poly1305Cipher struct {
	mainKey    [32]byte
	headerKey  [32]byte
	compress   compressor
	decompress decompressor
}

func newChaCha20Poly1305Cipher(key []byte) (*chaCha20Poly1305Cipher, error) {
	if len(key) != 64 {
		return nil, ErrMalformedPacket
	}
	c := &chaCha20Poly1305Cipher{}
	copy(c.mainKey[:], key[:32])
	copy(c.headerKey[:], key[32:64])
	return c, nil
}

func chachaNonce(seq uint32) []byte {
	nonce := make([]byte, chacha20.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], uint64(seq))
	return nonce
}

func (c *chaCha20Poly1305Cipher) readPacket(seq uint32, r io.Reader) ([]byte, error) {
	nonce := chachaNonce(seq)

	headerCS, err := chacha20.NewUnauthenticatedCipher(c.headerKey[:], nonce)
	if err != nil {
		return nil, err
	}
	var lengthCipher [4]byte
	if _, err := io.ReadFull(r, lengthCipher[:]); err != nil {
		return nil, err
	}
	var lengthBuf [4]byte
	headerCS.XORKeyStream(lengthBuf[:], lengthCipher[:])
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 || length > maxPacketLength {
		return nil, ErrMalformedPacket
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var tag [poly1305.TagSize]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}

	mainCS, err := chacha20.NewUnauthenticatedCipher(c.mainKey[:], nonce)
	if err != nil {
		return nil, err
	}
	var polyKey [32]byte
	mainCS.XORKeyStream(polyKey[:], polyKey[:])

	var authenticated bytes4AndBody
	authenticated.set(lengthCipher[:], body)
	if !poly1305.Verify(&tag, authenticated.bytes(), &polyKey) {
		return nil, ErrMacMismatch
	}

	mainCS.SetCounter(1)
	mainCS.XORKeyStream(body, body)

	padLen := int(body[0])
	if padLen < 4 || padLen > len(body)-1 {
		return nil, ErrMalformedPacket
	}
	payload := body[1 : len(body)-padLen]
	if c.decompress != nil {
		return c.decompress.decompress(payload)
	}
	return payload, nil
}

func (c *chaCha20Poly1305Cipher) writePacket(seq uint32, w io.Writer, rand io.Reader, payload []byte) error {
	var err error
	if c.compress != nil {
		payload, err = c.compress.compress(payload)
		if err != nil {
			return err
		}
	}
	body, err := padPacket(payload, 8, rand)
	if err != nil {
		return err
	}

	nonce := chachaNonce(seq)

	mainCS, err := chacha20.NewUnauthenticatedCipher(c.mainKey[:], nonce)
	if err != nil {
		return err
	}
	var polyKey [32]byte
	mainCS.XORKeyStream(polyKey[:], polyKey[:])
	mainCS.SetCounter(1)
	mainCS.XORKeyStream(body, body)

	headerCS, err := chacha20.NewUnauthenticatedCipher(c.headerKey[:], nonce)
	if err != nil {
		return err
	}
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(body)))
	headerCS.XORKeyStream(lengthBuf[:], lengthBuf[:])

	var authenticated bytes4AndBody
	authenticated.set(lengthBuf[:], body)
	var tag [poly1305.TagSize]byte
	poly1305.Sum(&tag, authenticated.bytes(), &polyKey)

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err = w.Write(tag[:])
	return err
}

// bytes4AndBody avoids an extra allocation+copy for the common case of
// authenticating "4 header bytes followed by the packet body".
type bytes4AndBody struct {
	buf []byte
}

func (b *bytes4AndBody) set(header, body []byte) {
	b.buf = append(b.buf[:0], header...)
	b.buf = append(b.buf, body...)
}

func (b *bytes4AndBody) bytes() []byte { return b.buf }
