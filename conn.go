// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// DefaultLargeMessageSize is the payload length at or above which
	// SendFrame announces the payload with a preamble frame.
	DefaultLargeMessageSize = 128 * 1024

	// DefaultPollTimeout is the wait quantum for one iteration of the
	// ReceiveFrame poll loop.
	DefaultPollTimeout = 64 * time.Millisecond
)

// ErrNotReady is returned by ReceiveFrame when no frame became readable
// within the poll timeout. It is a retryable condition, not a failure.
var ErrNotReady = errors.New("wsframe: no frame ready for read")

// ErrPongNotSent is returned by ReceiveFrame when the automatic reply to
// a PING frame could not be fully transmitted.
var ErrPongNotSent = errors.New("wsframe: pong reply not fully sent")

// ErrPreambleNotSent is returned by SendFrame when the large-message
// preamble could not be fully transmitted. The payload frame is not
// attempted: the peer would otherwise decode the announced size against
// a truncated follow-up.
var ErrPreambleNotSent = errors.New("wsframe: large message preamble not fully sent")

// DelayFunc is an injected delay executed at the top of ReceiveFrame and
// SendFrame. It exists for latency and jitter experiments in tests; a
// nil DelayFunc costs nothing.
type DelayFunc func()

// Conn is a thread-safe framing layer over a FrameTransport.
//
// Any number of goroutines may call SendFrame and ReceiveFrame on the
// same Conn. The read path and the write path are guarded by separate
// mutexes so a blocked reader never stalls writers or vice versa. Each
// mutex is held only for the single transport call it protects; poll
// waits and control-frame inspection happen unlocked. The read mutex is
// never held while the write mutex is taken.
//
// Conn never closes the transport on its own; Close tears down the
// underlying connection when the transport exposes one.
type Conn struct {
	transport FrameTransport

	muRead  sync.Mutex
	muWrite sync.Mutex

	largeMessageSize int
	pollTimeout      time.Duration
	delay            DelayFunc
	errorLog         *log.Logger
}

// New returns a Conn over the given transport with default settings.
func New(t FrameTransport) *Conn {
	return &Conn{
		transport:        t,
		largeMessageSize: DefaultLargeMessageSize,
		pollTimeout:      DefaultPollTimeout,
	}
}

// NewConn returns a Conn over an already-connected network connection,
// using the built-in frame transport. The connection must have completed
// its opening handshake. Set client to true on the dialing side so that
// outgoing frames are masked. A buffer size of zero selects the default.
func NewConn(netConn net.Conn, client bool, readBufSize, writeBufSize int) *Conn {
	return New(newNetTransport(netConn, client, readBufSize, writeBufSize))
}

// SetLargeMessageSize sets the payload length at or above which SendFrame
// emits a preamble frame. A negative value disables preambles.
func (c *Conn) SetLargeMessageSize(n int) {
	if n == 0 {
		n = DefaultLargeMessageSize
	}
	c.largeMessageSize = n
}

// SetPollTimeout sets the wait quantum for one iteration of the
// ReceiveFrame poll loop. A zero value selects the default.
func (c *Conn) SetPollTimeout(d time.Duration) {
	if d == 0 {
		d = DefaultPollTimeout
	}
	c.pollTimeout = d
}

// SetDelay installs an injected delay executed on entry to ReceiveFrame
// and SendFrame. A nil DelayFunc removes it.
func (c *Conn) SetDelay(d DelayFunc) { c.delay = d }

// SetErrorLog sets the destination for warnings about partial
// transmissions. If nil, the log package's standard logger is used.
func (c *Conn) SetErrorLog(l *log.Logger) { c.errorLog = l }

// Close closes the transport's underlying connection without sending a
// close frame. Transports that hold no closable resource make this a
// no-op.
func (c *Conn) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// UnderlyingConn returns the network connection behind the built-in
// transport, or nil when the Conn was built over a custom transport.
func (c *Conn) UnderlyingConn() net.Conn {
	if t, ok := c.transport.(*netTransport); ok {
		return t.conn
	}
	return nil
}

func (c *Conn) logf(format string, args ...interface{}) {
	if c.errorLog != nil {
		c.errorLog.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// ReceiveFrame reads the next data frame's payload into p and returns
// the payload length and the frame's flags.
//
// ReceiveFrame polls the transport with a fixed wait quantum and returns
// ErrNotReady if nothing became readable in time; callers are expected
// to retry. PING frames are answered transparently with a PONG carrying
// the same payload, and PONG frames are discarded, in both cases without
// returning to the caller. A read that yields no bytes or an error is
// propagated as-is with no control-frame interpretation.
//
// Fragmented messages are not reassembled: each call returns exactly
// what one underlying frame read yields.
func (c *Conn) ReceiveFrame(p []byte) (int, int, error) {
	if c.delay != nil {
		c.delay()
	}
	for {
		ready, err := c.transport.Poll(c.pollTimeout)
		if err != nil {
			return 0, 0, err
		}
		if !ready {
			return 0, 0, ErrNotReady
		}

		c.muRead.Lock()
		n, flags, err := c.transport.ReadFrame(p)
		c.muRead.Unlock()

		if err != nil || n <= 0 {
			return n, flags, err
		}

		switch flags & OpMask {
		case OpPing:
			// Echo the ping payload back. The read mutex is already
			// released; only the write mutex is held here.
			c.muWrite.Lock()
			wn, werr := c.transport.WriteFrame(p[:n], FlagFin|OpPong)
			c.muWrite.Unlock()
			if werr != nil || wn != n {
				c.logf("wsframe: pong reply sent %d of %d bytes: %v", wn, n, werr)
				return 0, 0, ErrPongNotSent
			}
		case OpPong:
			// In case we start sending pings ourselves.
		default:
			return n, flags, nil
		}
	}
}

// SendFrame writes p as one frame with the given flags and returns the
// transport's reported payload byte count.
//
// When len(p) is at or above the large-message threshold, a preamble
// frame of the form "nextmessage: size=<len>" is sent first so the peer
// can size its reassembly buffer; an incomplete preamble aborts the call
// with ErrPreambleNotSent before the payload is attempted. The preamble
// and the payload are written under one write mutex acquisition, so no
// other frame can slip between them.
//
// A short payload write is not an error at this layer: it is logged as a
// warning and the lesser count is returned for the caller to judge.
func (c *Conn) SendFrame(p []byte, flags int) (int, error) {
	if c.delay != nil {
		c.delay()
	}

	c.muWrite.Lock()
	if c.largeMessageSize > 0 && len(p) >= c.largeMessageSize {
		preamble := formatPreamble(len(p))
		n, err := c.transport.WriteFrame(preamble, FrameText)
		if err != nil || n != len(preamble) {
			c.muWrite.Unlock()
			c.logf("wsframe: preamble sent %d of %d bytes: %v", n, len(preamble), err)
			if err == nil {
				err = ErrPreambleNotSent
			}
			return 0, err
		}
	}
	n, err := c.transport.WriteFrame(p, flags)
	c.muWrite.Unlock()

	if err == nil && n != len(p) {
		c.logf("wsframe: sent incomplete frame, expected %d bytes but sent %d", len(p), n)
	}
	return n, err
}
