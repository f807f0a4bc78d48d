// Copyright 2013 Gary Burd. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wsframe provides a thread-safe framing layer over a raw
// WebSocket frame transport.
//
// Overview
//
// The Conn type decorates a FrameTransport with two operations,
// ReceiveFrame and SendFrame, that any number of goroutines may call
// concurrently on the same connection. Conn answers keepalive PING
// frames and discards PONG frames transparently, so the application only
// ever sees data frames, and it announces oversized payloads to the peer
// with a small preamble frame so the receiving side can size its buffers
// ahead of time.
//
// A server application obtains a Conn from an Upgrader:
//
//	var upgrader = wsframe.Upgrader{}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    conn, err := upgrader.Upgrade(w, r, nil)
//	    if err != nil {
//	        log.Println(err)
//	        return
//	    }
//	    ... Use conn to send and receive frames.
//	}
//
// A client application obtains one from a Dialer:
//
//	conn, resp, err := wsframe.DefaultDialer.Dial("ws://example.com/", nil)
//
// An already-connected socket is wrapped with NewConn, and any custom
// frame source can be wrapped with New by implementing FrameTransport.
//
// Concurrency
//
// The read path and the write path are guarded by separate mutexes, so a
// receiver blocked waiting for a frame never delays senders and vice
// versa. Concurrent SendFrame calls are totally ordered: a frame (and
// its preamble, if any) is never interleaved with another caller's
// frame. ReceiveFrame waits in bounded poll quanta and returns
// ErrNotReady when nothing arrived in time; callers retry at their own
// pace rather than parking forever in one call.
//
// Large messages
//
// A payload whose length reaches the large-message threshold is preceded
// by a text frame of the form
//
//	nextmessage: size=<decimal length>
//
// The preamble is advisory: this layer does not reassemble fragmented
// messages, and a peer that ignores the convention simply sees one odd
// text message before the payload. ParsePreamble recognizes the
// announcement on the receiving side.
//
// Control messages
//
// ReceiveFrame never returns PING or PONG frames. A PING is answered
// with a PONG carrying the same payload before polling continues; a PONG
// is dropped. Close frames are not interpreted by this layer and are
// returned to the caller like data, with the opcode in the returned
// flags.
package wsframe
