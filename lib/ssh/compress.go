// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"
)

// zlibHeaderLen is the two-byte RFC 1950 CMF/FLG header zlib.Writer
// emits exactly once, at the start of the stream; every later
// sync-flushed chunk is header-free raw DEFLATE.
const zlibHeaderLen = 2

// deflateWindow is the maximum DEFLATE back-reference distance; kept as
// a trailing dictionary across packets so a Reset can resume decoding a
// flush-separated chunk without the corrupted byte history it would
// otherwise lose.
const deflateWindow = 32768

// compressor and decompressor are the forward/inverse halves of a
// packet's payload compression. They are separate interfaces because
// the "zlib" method keeps independent, non-symmetric stream state on
// each side.
type compressor interface {
	compress(in []byte) ([]byte, error)
}

type decompressor interface {
	decompress(in []byte) ([]byte, error)
}

type noneCompressor struct{}

func (noneCompressor) compress(in []byte) ([]byte, error)   { return in, nil }
func (noneCompressor) decompress(in []byte) ([]byte, error) { return in, nil }

// zlibCompressor implements the RFC 4253 section 6.2 "zlib" method: one
// continuous deflate stream per direction, flushed after every packet so
// each packet's compressed bytes are independently decodable as soon as
// they arrive.
type zlibCompressor struct {
	out *bytes.Buffer
	zw  *zlib.Writer
}

func newZlibCompressor() *zlibCompressor {
	out := new(bytes.Buffer)
	return &zlibCompressor{out: out, zw: zlib.NewWriter(out)}
}

func (c *zlibCompressor) compress(in []byte) ([]byte, error) {
	if _, err := c.zw.Write(in); err != nil {
		return nil, err
	}
	if err := c.zw.Flush(); err != nil {
		return nil, err
	}
	out := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return out, nil
}

// zlibDecompressor inflates one packet payload per call against a
// single continuing DEFLATE stream. compress/flate's Reader latches a
// terminal error the moment a sync-flush boundary starves it of more
// input, so the same Reader can never be fed a second packet directly:
// each call instead hands a fresh bytes.Reader over just that packet's
// bytes to flate.Resetter.Reset, carrying forward a trailing window of
// previously decompressed output as the dictionary so DEFLATE
// back-references spanning packet boundaries still resolve.
type zlibDecompressor struct {
	fr        io.ReadCloser
	dict      []byte
	gotHeader bool
}

func newZlibDecompressor() *zlibDecompressor {
	return &zlibDecompressor{}
}

func (d *zlibDecompressor) decompress(in []byte) ([]byte, error) {
	if !d.gotHeader {
		if len(in) < zlibHeaderLen {
			return nil, fmt.Errorf("ssh: zlib: packet shorter than header")
		}
		in = in[zlibHeaderLen:]
		d.gotHeader = true
	}

	r := bytes.NewReader(in)
	if d.fr == nil {
		d.fr = flate.NewReader(r)
	} else if err := d.fr.(flate.Resetter).Reset(r, d.dict); err != nil {
		return nil, fmt.Errorf("ssh: zlib: %w", err)
	}

	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := d.fr.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ssh: zlib: %w", err)
		}
		if n == 0 {
			break
		}
	}

	d.dict = appendWindow(d.dict, out.Bytes())
	if out.Len() == 0 {
		return []byte{}, nil
	}
	return out.Bytes(), nil
}

// appendWindow grows dict by add, keeping only the trailing
// deflateWindow bytes DEFLATE back-references could ever reach.
func appendWindow(dict, add []byte) []byte {
	dict = append(dict, add...)
	if len(dict) > deflateWindow {
		dict = dict[len(dict)-deflateWindow:]
	}
	return dict
}

func newCompressor(name string) (compressor, error) {
	switch name {
	case "none", "":
		return noneCompressor{}, nil
	case "zlib":
		return newZlibCompressor(), nil
	default:
		return nil, fmt.Errorf("ssh: unsupported compression %q", name)
	}
}

func newDecompressor(name string) (decompressor, error) {
	switch name {
	case "none", "":
		return noneCompressor{}, nil
	case "zlib":
		return newZlibDecompressor(), nil
	default:
		return nil, fmt.Errorf("ssh: unsupported compression %q", name)
	}
}
