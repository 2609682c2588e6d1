// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package tcp provides the bottom link of the transport chain: a
// single OS connection with buffered I/O, and the pump that decodes
// inbound frames on one reader goroutine while serialising outbound
// writes on the callers' goroutines.
package tcp

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/core/worker"
	"github.com/apexmq/apexmq/internal/instrument"
	"github.com/apexmq/apexmq/transport"
)

// Config carries the per-URI socket options.
type Config struct {
	ConnectTimeout      time.Duration
	SoLinger            int
	SoKeepAlive         bool
	SoReceiveBufferSize int
	SoSendBufferSize    int
	TCPNoDelay          bool
	InputBufferSize     int
	OutputBufferSize    int
	Trace               bool
}

// DefaultConfig returns the defaults applied absent URI options.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:   30 * time.Second,
		SoLinger:         -1,
		TCPNoDelay:       true,
		InputBufferSize:  8192,
		OutputBufferSize: 8192,
	}
}

// ParseConfig folds URI query options into a Config. Options outside
// the socket option set are ignored; they belong to other layers.
func ParseConfig(opts map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	for k, v := range opts {
		var err error
		switch k {
		case "connectTimeout":
			var ms int64
			ms, err = strconv.ParseInt(v, 10, 64)
			cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
		case "soLinger":
			cfg.SoLinger, err = strconv.Atoi(v)
		case "soKeepAlive":
			cfg.SoKeepAlive, err = parseBool(v)
		case "soReceiveBufferSize":
			cfg.SoReceiveBufferSize, err = strconv.Atoi(v)
		case "soSendBufferSize":
			cfg.SoSendBufferSize, err = strconv.Atoi(v)
		case "tcpNoDelay":
			cfg.TCPNoDelay, err = parseBool(v)
		case "inputBufferSize":
			cfg.InputBufferSize, err = strconv.Atoi(v)
		case "outputBufferSize":
			cfg.OutputBufferSize, err = strconv.Atoi(v)
		case "trace":
			cfg.Trace, err = parseBool(v)
		}
		if err != nil {
			return nil, fmt.Errorf("tcp: bad value for %s: %w", k, err)
		}
	}
	return cfg, nil
}

func parseBool(v string) (bool, error) {
	switch v {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// Transport owns one OS connection and runs the I/O pump over it.
type Transport struct {
	worker.Worker

	log    *log.Logger
	conn   net.Conn
	format *wire.Format
	cfg    *Config

	br *bufio.Reader

	// writeMu serialises frame writes; it is never held across a
	// callback up the chain.
	writeMu sync.Mutex
	bw      *bufio.Writer

	stateMu   sync.Mutex
	listener  transport.Listener
	started   bool
	closeOnce sync.Once
	closed    bool
}

// Connect dials addr with the configured timeout and socket options
// and returns an unstarted transport over the connection.
func Connect(addr string, format *wire.Format, cfg *Config) (*Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, transport.NewIOError(err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := applySocketOptions(tc, cfg); err != nil {
			conn.Close()
			return nil, transport.NewIOError(err)
		}
	}
	return NewTransport(conn, format, cfg), nil
}

func applySocketOptions(tc *net.TCPConn, cfg *Config) error {
	if err := tc.SetNoDelay(cfg.TCPNoDelay); err != nil {
		return err
	}
	if cfg.SoLinger >= 0 {
		if err := tc.SetLinger(cfg.SoLinger); err != nil {
			return err
		}
	}
	if err := tc.SetKeepAlive(cfg.SoKeepAlive); err != nil {
		return err
	}
	if cfg.SoReceiveBufferSize > 0 {
		if err := tc.SetReadBuffer(cfg.SoReceiveBufferSize); err != nil {
			return err
		}
	}
	if cfg.SoSendBufferSize > 0 {
		if err := tc.SetWriteBuffer(cfg.SoSendBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// NewTransport wraps an established connection. Tests hand it one side
// of a net.Pipe.
func NewTransport(conn net.Conn, format *wire.Format, cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	t := &Transport{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "transport/tcp",
		}),
		conn:   conn,
		format: format,
		cfg:    cfg,
		br:     bufio.NewReaderSize(conn, cfg.InputBufferSize),
		bw:     bufio.NewWriterSize(conn, cfg.OutputBufferSize),
	}
	return t
}

// Format returns the codec bound to this link.
func (t *Transport) Format() *wire.Format { return t.format }

// RemoteAddr returns the peer address.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Start spawns the reader. A listener must be installed first.
func (t *Transport) Start() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.listener == nil {
		return fmt.Errorf("tcp: %w: no listener installed", transport.ErrNotStarted)
	}
	if t.started {
		return nil
	}
	t.started = true
	t.Go(t.readWorker)
	return nil
}

// Stop halts the pump without closing the connection.
func (t *Transport) Stop() error {
	t.stateMu.Lock()
	t.started = false
	t.stateMu.Unlock()
	return nil
}

// Close tears down the connection. It is idempotent, and closing the
// socket is what unblocks a reader stuck in a read.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.stateMu.Lock()
		t.closed = true
		t.started = false
		t.stateMu.Unlock()
		err = t.conn.Close()
		t.Halt()
	})
	return err
}

// IsClosed reports whether Close has begun.
func (t *Transport) IsClosed() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.closed
}

func (t *Transport) readWorker() {
	for {
		select {
		case <-t.HaltCh():
			return
		default:
		}

		cmd, err := t.format.Unmarshal(t.br)
		if err != nil {
			if t.IsClosed() {
				return
			}
			l := t.Listener()
			if l != nil {
				l.OnException(transport.NewIOError(err))
			}
			return
		}
		instrument.FrameRead()
		if t.cfg.Trace {
			t.log.Debugf("RECV: %T %+v", cmd, cmd)
		}
		if l := t.Listener(); l != nil {
			l.OnCommand(cmd)
		}
	}
}

// Oneway encodes and writes one frame. Writes happen on the caller's
// goroutine under the write mutex; the writer never blocks the reader.
func (t *Transport) Oneway(cmd commands.Command) error {
	t.stateMu.Lock()
	if t.closed {
		t.stateMu.Unlock()
		return transport.ErrClosed
	}
	t.stateMu.Unlock()

	if t.cfg.Trace {
		t.log.Debugf("SEND: %T %+v", cmd, cmd)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.format.Marshal(cmd, t.bw); err != nil {
		return transport.NewIOError(err)
	}
	if err := t.bw.Flush(); err != nil {
		return transport.NewIOError(err)
	}
	instrument.FrameWritten()
	return nil
}

// Request is unsupported on the raw link; a correlator filter provides
// request/reply.
func (t *Transport) Request(cmd commands.Command) (commands.ResponseCommand, error) {
	return nil, transport.ErrUnsupported
}

func (t *Transport) RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error) {
	return nil, transport.ErrUnsupported
}

func (t *Transport) AsyncRequest(cmd commands.Command, cb transport.ResponseCallback) (*transport.FutureResponse, error) {
	return nil, transport.ErrUnsupported
}

func (t *Transport) SetListener(l transport.Listener) {
	t.stateMu.Lock()
	t.listener = l
	t.stateMu.Unlock()
}

func (t *Transport) Listener() transport.Listener {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.listener
}
