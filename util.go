// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	originHeader     = "Origin"
	protocolHeader   = "Sec-Websocket-Protocol"
	websocketVersion = "13"
)

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

func computeAcceptKey(challengeKey string) string {
	h := sha1.New()
	h.Write([]byte(challengeKey))
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func computeAcceptKeyByte(challengeKey []byte) string {
	h := sha1.New()
	h.Write(challengeKey)
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func generateChallengeKey() (string, error) {
	p := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p), nil
}

// Octet types from RFC 2616.
//
// OCTET      = <any 8-bit sequence of data>
// CHAR       = <any US-ASCII character (octets 0 - 127)>
// CTL        = <any US-ASCII control character (octets 0 - 31) and DEL (127)>
// CR         = <US-ASCII CR, carriage return (13)>
// LF         = <US-ASCII LF, linefeed (10)>
// SP         = <US-ASCII SP, space (32)>
// HT         = <US-ASCII HT, horizontal-tab (9)>
// <">        = <US-ASCII double-quote mark (34)>
// CRLF       = CR LF
// LWS        = [CRLF] 1*( SP | HT )
// TEXT       = <any OCTET except CTLs, but including LWS>
// separators = "(" | ")" | "<" | ">" | "@" | "," | ";" | ":" | "\" | <">
//              | "/" | "[" | "]" | "?" | "=" | "{" | "}" | SP | HT
// token      = 1*<any CHAR except CTLs or separators>
// qdtext     = <any TEXT except <">>

func skipSpace(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return s[i:]
		}
	}
	return ""
}

func nextToken(s string) (token, rest string) {
	i := 0
loop:
	for ; i < len(s); i++ {
		c := s[i]
		if c <= 31 || c >= 127 { // control characters & non-ascii are not token octets
			break
		}
		switch c { //separators are not token octets
		case ' ', '\t', '"', '(', ')', ',', '/', ':', ';', '<',
			'=', '>', '?', '@', '[', ']', '\\', '{', '}':
			break loop
		}
	}
	return s[:i], s[i:]
}

// equalASCIIFold returns true if s is equal to t with ASCII case folding.
func equalASCIIFold(s, t string) bool {
	for s != "" && t != "" {
		// get first rune from both strings
		var sr, tr rune
		if s[0] < utf8.RuneSelf {
			sr, s = rune(s[0]), s[1:]
		} else {
			r, size := utf8.DecodeRuneInString(s)
			sr, s = r, s[size:]
		}
		if t[0] < utf8.RuneSelf {
			tr, t = rune(t[0]), t[1:]
		} else {
			r, size := utf8.DecodeRuneInString(t)
			tr, t = r, t[size:]
		}

		// compare runes
		switch {
		case sr == tr:
		case 'A' <= sr && sr <= 'Z':
			if sr+'a'-'A' != tr {
				return false
			}
		case 'A' <= tr && tr <= 'Z':
			if tr+'a'-'A' != sr {
				return false
			}
		default:
			return false
		}
	}

	return s == t
}

// tokenListContainsValue returns true if the 1#token header with the given
// name contains a token equal to value with ASCII case folding.
func tokenListContainsValue(header http.Header, name string, value string) bool {
	for _, s := range header[name] {
		if tokenContainsValue(s, value) {
			return true
		}
	}
	return false
}

// tokenContainsValue returns true if the 1#token header value contains a
// token equal to value with ASCII case folding.
func tokenContainsValue(s string, value string) bool {
	for {
		var t string
		t, s = nextToken(skipSpace(s))
		if t == "" {
			return false
		}
		s = skipSpace(s)
		if s != "" && s[0] != ',' {
			return false
		}
		if equalASCIIFold(t, value) {
			return true
		}
		if s == "" {
			return false
		}
		s = s[1:]
	}
}

// subprotocolsFromHeader parses a Sec-Websocket-Protocol header value
// into the individual requested subprotocols.
func subprotocolsFromHeader(h string) []string {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil
	}
	protocols := strings.Split(h, ",")
	for i := range protocols {
		protocols[i] = strings.TrimSpace(protocols[i])
	}
	return protocols
}

// matchSubprotocol picks the first of the client's subprotocols that the
// server supports, or "" when there is no overlap.
func matchSubprotocol(clientProtocols, serverProtocols []string) string {
	for _, c := range clientProtocols {
		for _, s := range serverProtocols {
			if c == s {
				return c
			}
		}
	}
	return ""
}

// checkSameOriginFromHeaderAndHost returns true if the Origin header
// value names the same host as the request, or is absent.
func checkSameOriginFromHeaderAndHost(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return equalASCIIFold(u.Host, host)
}

func checkSameOrigin(r *http.Request) bool {
	return checkSameOriginFromHeaderAndHost(r.Header.Get(originHeader), r.Host)
}
