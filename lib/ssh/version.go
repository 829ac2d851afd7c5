// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// packageVersion is the local identification string this core sends.
// RFC 4253 section 4.2 allows free-form text after the protocol and
// software version fields.
const packageVersion = "SSH-2.0-assh_1.0"

// maxIdLength bounds the identification string, per RFC 4253 section
// 4.2 ("SHOULD NOT exceed 255 characters").
const maxIdLength = 255

// writeVersion writes id followed by CRLF and flushes w.
func writeVersion(w *bufio.Writer, id []byte) error {
	if _, err := w.Write(id); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return err
	}
	return w.Flush()
}

// readVersion reads the peer's identification line. Lines not starting
// with "SSH-" are skipped, per RFC 4253 section 4.2's allowance for a
// server banner preceding the identification string; a bound on the
// number of such lines avoids spinning on a misbehaving peer.
func readVersion(r *bufio.Reader) ([]byte, error) {
	for i := 0; i < 50; i++ {
		line, err := r.ReadSlice('\n')
		if err != nil {
			return nil, fmt.Errorf("ssh: reading identification string: %w", err)
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > maxIdLength {
			return nil, fmt.Errorf("ssh: identification string too long (%d bytes)", len(line))
		}
		if bytes.HasPrefix(line, []byte("SSH-")) {
			out := make([]byte, len(line))
			copy(out, line)
			return out, nil
		}
	}
	return nil, io.ErrNoProgress
}
