// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

var subprotocolTests = []struct {
	h         string
	protocols []string
}{
	{"", nil},
	{"foo", []string{"foo"}},
	{"foo,bar", []string{"foo", "bar"}},
	{"foo, bar", []string{"foo", "bar"}},
	{" foo, bar", []string{"foo", "bar"}},
	{" foo, bar ", []string{"foo", "bar"}},
}

func TestSubprotocols(t *testing.T) {
	for _, st := range subprotocolTests {
		r := http.Request{Header: http.Header{"Sec-Websocket-Protocol": {st.h}}}
		protocols := Subprotocols(&r)
		if !reflect.DeepEqual(st.protocols, protocols) {
			t.Errorf("SubProtocols(%q) returned %#v, want %#v", st.h, protocols, st.protocols)
		}
	}
}

var isWebSocketUpgradeTests = []struct {
	ok bool
	h  http.Header
}{
	{false, http.Header{"Upgrade": {"websocket"}}},
	{false, http.Header{"Connection": {"upgrade"}}},
	{true, http.Header{"Connection": {"upgRade"}, "Upgrade": {"WebSocket"}}},
}

func TestIsWebSocketUpgrade(t *testing.T) {
	for _, tt := range isWebSocketUpgradeTests {
		ok := IsWebSocketUpgrade(&http.Request{Header: tt.h})
		if tt.ok != ok {
			t.Errorf("IsWebSocketUpgrade(%v) returned %v, want %v", tt.h, ok, tt.ok)
		}
	}
}

var checkSameOriginTests = []struct {
	ok bool
	r  *http.Request
}{
	{false, &http.Request{Host: "example.org", Header: map[string][]string{"Origin": {"https://other.org"}}}},
	{true, &http.Request{Host: "example.org", Header: map[string][]string{"Origin": {"https://example.org"}}}},
	{true, &http.Request{Host: "Example.org", Header: map[string][]string{"Origin": {"https://example.org"}}}},
	{true, &http.Request{Host: "example.org", Header: map[string][]string{}}},
}

func TestCheckSameOrigin(t *testing.T) {
	for _, tt := range checkSameOriginTests {
		ok := checkSameOrigin(tt.r)
		if tt.ok != ok {
			t.Errorf("checkSameOrigin(%+v) returned %v, want %v", tt.r, ok, tt.ok)
		}
	}
}

var upgradeErrorTests = []struct {
	name   string
	mutate func(r *http.Request)
	status int
}{
	{"bad method", func(r *http.Request) { r.Method = http.MethodPost }, http.StatusMethodNotAllowed},
	{"bad version", func(r *http.Request) { r.Header.Set("Sec-Websocket-Version", "12") }, http.StatusBadRequest},
	{"missing connection", func(r *http.Request) { r.Header.Del("Connection") }, http.StatusBadRequest},
	{"missing upgrade", func(r *http.Request) { r.Header.Del("Upgrade") }, http.StatusBadRequest},
	{"missing key", func(r *http.Request) { r.Header.Del("Sec-Websocket-Key") }, http.StatusBadRequest},
	{"bad origin", func(r *http.Request) { r.Header.Set("Origin", "https://other.org") }, http.StatusForbidden},
}

func newUpgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	r.Header.Set("Connection", "upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-Websocket-Version", "13")
	r.Header.Set("Sec-Websocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return r
}

func TestUpgradeRejectsBadHandshakes(t *testing.T) {
	var u Upgrader
	for _, tt := range upgradeErrorTests {
		r := newUpgradeRequest()
		tt.mutate(r)
		w := httptest.NewRecorder()
		_, err := u.Upgrade(w, r, nil)
		if _, ok := err.(HandshakeError); !ok {
			t.Errorf("%s: Upgrade returned %T (%v), want HandshakeError", tt.name, err, err)
		}
		if w.Code != tt.status {
			t.Errorf("%s: response status = %d, want %d", tt.name, w.Code, tt.status)
		}
	}
}

func TestUpgradeWithoutHijacker(t *testing.T) {
	var u Upgrader
	r := newUpgradeRequest()
	w := httptest.NewRecorder() // does not implement http.Hijacker
	if _, err := u.Upgrade(w, r, nil); err == nil || !strings.Contains(err.Error(), "Hijacker") {
		t.Fatalf("Upgrade returned %v, want hijack error", err)
	}
}

// recordingHijackConn is a write-only net.Conn capturing the handshake
// response bytes.
type recordingHijackConn struct {
	written []byte
}

func (c *recordingHijackConn) Write(p []byte) (int, error) {
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *recordingHijackConn) Read(p []byte) (int, error) { return 0, nil }

func (c *recordingHijackConn) Close() error { return nil }

func (c *recordingHijackConn) LocalAddr() net.Addr { return nil }

func (c *recordingHijackConn) RemoteAddr() net.Addr { return nil }

func (c *recordingHijackConn) SetDeadline(time.Time) error { return nil }

func (c *recordingHijackConn) SetReadDeadline(time.Time) error { return nil }

func (c *recordingHijackConn) SetWriteDeadline(time.Time) error { return nil }

// hijackRecorder is an http.ResponseWriter whose Hijack hands out the
// recording connection.
type hijackRecorder struct {
	httptest.ResponseRecorder
	conn *recordingHijackConn
}

func (w *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(w.conn), bufio.NewWriter(w.conn))
	return w.conn, rw, nil
}

func TestUpgradeResponseSplittingGuard(t *testing.T) {
	// Header values with control characters must not break the
	// handcrafted 101 response apart.
	conn := &recordingHijackConn{}
	w := &hijackRecorder{conn: conn}
	r := newUpgradeRequest()

	var u Upgrader
	if _, err := u.Upgrade(w, r, http.Header{"X-Note": {"a\r\nInjected: yes"}}); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	response := string(conn.written)
	if !strings.HasPrefix(response, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("unexpected response: %q", response)
	}
	if strings.Contains(response, "Injected:") {
		t.Errorf("response splitting not prevented: %q", response)
	}
	if !strings.Contains(response, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("accept key missing or wrong: %q", response)
	}
}
