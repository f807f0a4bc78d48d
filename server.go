// Copyright 2013 Gary Burd. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"errors"
	"log"
	"net/http"
	"time"
)

// HandshakeError describes an error with the handshake from the peer.
type HandshakeError struct {
	message string
}

func (e HandshakeError) Error() string { return e.message }

const (
	DEFAULT_READ_BUFFER_SIZE  = 4096
	DEFAULT_WRITE_BUFFER_SIZE = 4096
)

// An Upgrader turns an inbound HTTP request into a server-side Conn. The
// handshake itself is plain delegation: once the 101 response is on the
// wire the returned Conn is ready for framed I/O.
type Upgrader struct {
	// HandshakeTimeout specifies the duration for the handshake to complete.
	HandshakeTimeout time.Duration

	// Input and output buffer sizes. If the buffer size is zero, then
	// default values will be used.
	ReadBufferSize, WriteBufferSize int

	// Subprotocols specifies the server's supported protocols. If Subprotocols
	// is nil, then Upgrade does not negotiate a subprotocol.
	Subprotocols []string

	// Error specifies the function for generating HTTP error responses. If Error
	// is nil, then http.Error is used to generate the HTTP response.
	Error func(w http.ResponseWriter, r *http.Request, status int, reason error)

	// CheckOrigin returns true if the request Origin header is acceptable.
	// If CheckOrigin is nil, a same-origin policy is applied: an absent
	// Origin header is allowed, anything else must match the request host.
	CheckOrigin func(r *http.Request) bool

	// LargeMessageSize sets the Conn's preamble threshold. Zero selects
	// the default, a negative value disables preambles.
	LargeMessageSize int

	// PollTimeout sets the Conn's receive poll quantum. Zero selects the
	// default.
	PollTimeout time.Duration

	// Delay is installed on the Conn as an injected receive/send delay.
	Delay DelayFunc

	// ErrorLog is installed on the Conn for partial-transmission warnings.
	ErrorLog *log.Logger
}

// Return an error depending on settings on the Upgrader
func (u *Upgrader) returnError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if u.Error != nil {
		u.Error(w, r, status, reason)
	} else {
		http.Error(w, reason.Error(), status)
	}
}

// Check if the passed subprotocol is supported by the server
func (u *Upgrader) hasSubprotocol(subprotocol string) bool {
	if u.Subprotocols == nil {
		return false
	}

	for _, s := range u.Subprotocols {
		if s == subprotocol {
			return true
		}
	}

	return false
}

// configure copies the Upgrader's Conn settings onto a freshly built
// connection. The Dialer has an identical helper.
func (u *Upgrader) configure(c *Conn) {
	c.SetLargeMessageSize(u.LargeMessageSize)
	c.SetPollTimeout(u.PollTimeout)
	c.SetDelay(u.Delay)
	c.SetErrorLog(u.ErrorLog)
}

// Upgrade upgrades the HTTP server connection to the WebSocket protocol.
//
// The responseHeader is included in the response to the client's upgrade
// request. Use the responseHeader to specify cookies (Set-Cookie).
//
// If the request is not a valid WebSocket handshake, then Upgrade returns an
// error of type HandshakeError. Depending on settings on the Upgrader,
// an error message already has been returned to the caller.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Conn, error) {
	if r.Method != http.MethodGet {
		err := HandshakeError{"wsframe: request method is not GET"}
		u.returnError(w, r, http.StatusMethodNotAllowed, err)
		return nil, err
	}

	if values := r.Header["Sec-Websocket-Version"]; len(values) == 0 || values[0] != websocketVersion {
		err := HandshakeError{"wsframe: version != 13"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Connection", "upgrade") {
		err := HandshakeError{"wsframe: connection header != upgrade"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Upgrade", "websocket") {
		err := HandshakeError{"wsframe: upgrade != websocket"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	checkOrigin := u.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOrigin
	}
	if !checkOrigin(r) {
		err := HandshakeError{"wsframe: origin not allowed"}
		u.returnError(w, r, http.StatusForbidden, err)
		return nil, err
	}

	var challengeKey string
	values := r.Header["Sec-Websocket-Key"]
	if len(values) == 0 || values[0] == "" {
		err := HandshakeError{"wsframe: key missing or blank"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}
	challengeKey = values[0]

	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.New("wsframe: response does not implement http.Hijacker")
	}
	netConn, rw, err := h.Hijack()
	if err != nil {
		return nil, err
	}

	if rw.Reader.Buffered() > 0 {
		netConn.Close()
		return nil, errors.New("wsframe: client sent data before handshake is complete")
	}

	c := NewConn(netConn, false, u.ReadBufferSize, u.WriteBufferSize)
	u.configure(c)

	var subprotocol string
	if u.Subprotocols != nil {
		for _, proto := range Subprotocols(r) {
			if u.hasSubprotocol(proto) {
				subprotocol = proto
				break
			}
		}
	} else if responseHeader != nil {
		subprotocol = responseHeader.Get(protocolHeader)
	}

	p := make([]byte, 0, 512)
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(challengeKey)...)
	p = append(p, "\r\n"...)
	if subprotocol != "" {
		p = append(p, "Sec-Websocket-Protocol: "...)
		p = append(p, subprotocol...)
		p = append(p, "\r\n"...)
	}
	for k, vs := range responseHeader {
		if k == protocolHeader {
			continue
		}
		for _, v := range vs {
			p = append(p, k...)
			p = append(p, ": "...)
			for i := 0; i < len(v); i++ {
				b := v[i]
				if b <= 31 {
					// prevent response splitting.
					b = ' '
				}
				p = append(p, b)
			}
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Now().Add(u.HandshakeTimeout))
	}
	if _, err = netConn.Write(p); err != nil {
		netConn.Close()
		return nil, err
	}
	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Time{})
	}

	return c, nil
}

// Upgrade upgrades the HTTP server connection to the WebSocket protocol.
//
// Deprecated: Use wsframe.Upgrader instead.
func Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header, readBufSize, writeBufSize int) (*Conn, error) {
	u := Upgrader{ReadBufferSize: readBufSize, WriteBufferSize: writeBufSize}
	u.Error = func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		// don't return errors to maintain backwards compatibility
	}
	u.CheckOrigin = func(r *http.Request) bool {
		// allow all connections by default
		return true
	}
	return u.Upgrade(w, r, responseHeader)
}

// Subprotocols returns the subprotocols requested by the client in the
// Sec-Websocket-Protocol header.
func Subprotocols(r *http.Request) []string {
	return subprotocolsFromHeader(r.Header.Get(protocolHeader))
}

// IsWebSocketUpgrade returns true if the client requested upgrade to the
// WebSocket protocol.
func IsWebSocketUpgrade(r *http.Request) bool {
	return tokenListContainsValue(r.Header, "Connection", "upgrade") &&
		tokenListContainsValue(r.Header, "Upgrade", "websocket")
}
