// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Frame flags mirror the first byte of a wire frame: the opcode occupies
// the low nibble and the FIN bit is 0x80. ReadFrame and WriteFrame pass
// these values through unchanged, so callers can test opcodes with
// flags&OpMask and finality with flags&FlagFin.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xA

	OpMask  = 0x0F
	FlagFin = 0x80

	// FrameText and FrameBinary are the flags for an ordinary
	// single-frame data message.
	FrameText   = FlagFin | OpText
	FrameBinary = FlagFin | OpBinary
)

const (
	// Frame header: 2 fixed bytes, up to 8 extended length bytes and a
	// 4 byte masking key.
	maxFrameHeaderSize = 2 + 8 + 4

	// RFC 6455 caps control frame payloads at 125 bytes.
	maxControlFramePayload = 125

	maskBit = 0x80
)

// ErrFrameTooLarge is returned by ReadFrame when the next frame's payload
// does not fit in the caller's buffer. The frame header has already been
// consumed when this is reported, so the connection is no longer usable
// for framed reads.
var ErrFrameTooLarge = errors.New("wsframe: frame payload larger than read buffer")

var errControlPayloadTooBig = errors.New("wsframe: control frame payload exceeds 125 bytes")

func isControlOp(opcode int) bool { return opcode >= OpClose }

// A FrameTransport is the raw frame-oriented collaborator a Conn
// decorates. Implementations read and write exactly one frame per call
// and keep no hidden buffering of whole frames across calls.
//
// Poll reports whether a call to ReadFrame can make progress, waiting at
// most the given timeout. A transport that has reached end of file
// reports ready so that ReadFrame can surface the condition.
//
// ReadFrame fills p with the payload of the next frame and returns the
// payload length together with the frame's flags.
//
// WriteFrame writes one frame carrying p and returns the number of
// payload bytes transmitted. Callers must serialize WriteFrame calls;
// Conn does this with its write mutex.
type FrameTransport interface {
	Poll(timeout time.Duration) (ready bool, err error)
	ReadFrame(p []byte) (n int, flags int, err error)
	WriteFrame(p []byte, flags int) (n int, err error)
}

// netTransport is the built-in FrameTransport over a net.Conn. The
// client flag selects the masking direction: clients mask every outgoing
// frame with a fresh random key, servers send frames unmasked.
//
// Poll and ReadFrame serialize on an internal mutex because they share
// the buffered reader; Poll holds it for at most the poll timeout.
type netTransport struct {
	conn   net.Conn
	client bool

	mu sync.Mutex
	br *bufio.Reader

	writeBuf []byte
}

func newNetTransport(conn net.Conn, client bool, readBufSize, writeBufSize int) *netTransport {
	if readBufSize == 0 {
		readBufSize = DEFAULT_READ_BUFFER_SIZE
	}
	if writeBufSize == 0 {
		writeBufSize = DEFAULT_WRITE_BUFFER_SIZE
	}
	return &netTransport{
		conn:     conn,
		client:   client,
		br:       bufio.NewReaderSize(conn, readBufSize),
		writeBuf: make([]byte, 0, writeBufSize+maxFrameHeaderSize),
	}
}

// Poll waits until a frame read can make progress or the timeout
// elapses. Buffered bytes count as readable. End of file counts as
// readable too, the way select(2) reports a closed peer; the subsequent
// ReadFrame surfaces the error.
func (t *netTransport) Poll(timeout time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.br.Buffered() > 0 {
		return true, nil
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	_, err := t.br.Peek(1)
	if derr := t.conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
		return false, derr
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	// nil, io.EOF or any other read error: let ReadFrame report it.
	return true, nil
}

// ReadFrame reads exactly one frame into p. The returned flags carry the
// FIN bit and the opcode; reserved bits are dropped. Masked payloads are
// unmasked in place.
func (t *netTransport) ReadFrame(p []byte) (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var hdr [2]byte
	if _, err := io.ReadFull(t.br, hdr[:]); err != nil {
		return 0, 0, err
	}
	flags := int(hdr[0]) & (FlagFin | OpMask)
	masked := hdr[1]&maskBit != 0

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(t.br, ext[:]); err != nil {
			return 0, flags, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(t.br, ext[:]); err != nil {
			return 0, flags, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > uint64(len(p)) {
		return 0, flags, ErrFrameTooLarge
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(t.br, key[:]); err != nil {
			return 0, flags, err
		}
	}

	n := int(length)
	if _, err := io.ReadFull(t.br, p[:n]); err != nil {
		return 0, flags, err
	}
	if masked {
		maskBytes(key, 0, p[:n])
	}
	return n, flags, nil
}

// WriteFrame writes one frame carrying p with the given flags. The whole
// frame is assembled in a reused buffer and written with a single Write
// so a frame is never split across two syscalls. The caller's payload is
// never modified, even when masking.
func (t *netTransport) WriteFrame(p []byte, flags int) (int, error) {
	if isControlOp(flags&OpMask) && len(p) > maxControlFramePayload {
		return 0, errControlPayloadTooBig
	}

	buf := t.writeBuf
	if need := maxFrameHeaderSize + len(p); cap(buf) < need {
		buf = make([]byte, 0, need)
		t.writeBuf = buf
	}
	buf = buf[:0]

	b1 := byte(0)
	if t.client {
		b1 = maskBit
	}
	buf = append(buf, byte(flags&(FlagFin|OpMask)))
	switch {
	case len(p) < 126:
		buf = append(buf, b1|byte(len(p)))
	case len(p) < 1<<16:
		buf = append(buf, b1|126, 0, 0)
		binary.BigEndian.PutUint16(buf[len(buf)-2:], uint16(len(p)))
	default:
		buf = append(buf, b1|127, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(buf[len(buf)-8:], uint64(len(p)))
	}

	if t.client {
		var key [4]byte
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			return 0, err
		}
		buf = append(buf, key[:]...)
		headerLen := len(buf)
		buf = append(buf, p...)
		maskBytes(key, 0, buf[headerLen:])
		return t.writePayload(buf, headerLen)
	}

	headerLen := len(buf)
	buf = append(buf, p...)
	return t.writePayload(buf, headerLen)
}

// Close closes the underlying network connection.
func (t *netTransport) Close() error { return t.conn.Close() }

// writePayload writes the assembled frame and translates the connection's
// byte count into payload bytes, which is what the framing contract
// reports.
func (t *netTransport) writePayload(frame []byte, headerLen int) (int, error) {
	nn, err := t.conn.Write(frame)
	sent := nn - headerLen
	if sent < 0 {
		sent = 0
	}
	return sent, err
}
