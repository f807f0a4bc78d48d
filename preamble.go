// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"strconv"
	"strings"
)

// The large-message preamble is a private convention between two Conn
// peers: a text frame of the exact form "nextmessage: size=<decimal>"
// announcing the length of the payload frame that immediately follows.
// It is advisory only; a peer that does not implement the convention
// sees it as an ordinary, if odd, text message.
const preamblePrefix = "nextmessage: size="

func formatPreamble(size int) []byte {
	return []byte(preamblePrefix + strconv.Itoa(size))
}

// ParsePreamble reports whether p is a large-message announcement and,
// if so, the announced payload size. Receivers can use it to allocate a
// reassembly buffer before the payload frame arrives.
func ParsePreamble(p []byte) (size int, ok bool) {
	s := string(p)
	if !strings.HasPrefix(s, preamblePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(s[len(preamblePrefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
