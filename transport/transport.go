// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport defines the command bus abstraction shared by the
// transport filter chain: raw I/O at the bottom, then wire format
// negotiation, inactivity monitoring, response correlation, and
// failover, each a filter forwarding to the next link down.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/apexmq/apexmq/core/wire/commands"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed
	// transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotStarted is returned when an operation requires a started
	// transport.
	ErrNotStarted = errors.New("transport: not started")

	// ErrInterrupted is returned for writes that cannot complete while
	// the link is down and failover is reconnecting.
	ErrInterrupted = errors.New("transport: interrupted")

	// ErrUnsupported is returned by links that cannot correlate
	// request/reply traffic themselves.
	ErrUnsupported = errors.New("transport: request/reply requires a correlator filter")
)

// IOError wraps a fatal link-level failure: socket errors, short reads,
// inactivity timeouts. It triggers failover when one is present.
type IOError struct {
	// Err is the original error that killed the link.
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("transport: io error: %v", e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err, avoiding double wrapping.
func NewIOError(err error) error {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Err: err}
}

// Listener receives the upward-flowing events of a transport: decoded
// commands, fatal errors, and failover interruption boundaries. Decoded
// commands and read errors are delivered from the link's reader
// goroutine; the inactivity monitor reports a read timeout from its
// watchdog goroutine, and the failover transport raises interruption,
// resume and give-up events from the goroutine that observed the change,
// including its reconnect worker. Callbacks must not synchronously
// reenter Request.
type Listener interface {
	OnCommand(cmd commands.Command)
	OnException(err error)
	TransportInterrupted()
	TransportResumed()
}

// ResponseCallback is invoked when an asynchronous request completes.
type ResponseCallback func(f *FutureResponse)

// Transport is an asynchronous bidirectional command bus with optional
// request/reply.
type Transport interface {
	// Start begins delivering inbound commands to the listener, which
	// must be set first.
	Start() error

	// Stop ceases I/O without tearing down the link.
	Stop() error

	// Close releases the link. It is idempotent and unblocks any
	// pending reads and waiters.
	Close() error

	// Oneway sends a command without waiting for a broker response.
	Oneway(cmd commands.Command) error

	// Request sends a command and blocks until its correlated response
	// arrives.
	Request(cmd commands.Command) (commands.ResponseCommand, error)

	// RequestTimeout is Request bounded by a timeout; zero means wait
	// forever.
	RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error)

	// AsyncRequest sends a command and returns the pending future; cb,
	// if non-nil, fires on completion from the reader goroutine.
	AsyncRequest(cmd commands.Command, cb ResponseCallback) (*FutureResponse, error)

	// SetListener installs the upward event consumer.
	SetListener(l Listener)

	// Listener returns the installed consumer, or nil.
	Listener() Listener
}
