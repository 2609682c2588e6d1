// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package correlator implements request/reply over the asynchronous
// command bus: it assigns command ids, holds a future per outstanding
// request, and completes futures as correlated responses arrive.
package correlator

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/internal/instrument"
	"github.com/apexmq/apexmq/transport"
)

// ErrNoResponse is returned when a bounded request expires without a
// correlated response. The failure is local: the link stays up.
var ErrNoResponse = errors.New("correlator: no valid response received for command")

// wireCompatIOExceptionClass is the exception class carried by the
// synthetic responses generated on transport loss, preserved for wire
// compatibility with the Java broker's peers.
const wireCompatIOExceptionClass = "java.io.IOException"

// Correlator is the transport filter providing request/reply.
type Correlator struct {
	transport.Filter

	log *log.Logger

	nextCommandID atomic.Int32

	mu         sync.Mutex
	requestMap map[int32]*transport.FutureResponse
	priorError error
	closed     bool
}

// New wires a correlator over next. Command ids start at one and are
// strictly monotonic for the life of this instance.
func New(next transport.Transport) *Correlator {
	c := &Correlator{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "transport/correlator",
		}),
		requestMap: make(map[int32]*transport.FutureResponse),
	}
	c.InitFilter(next, c)
	return c
}

// Oneway assigns the next command id and forwards without registering
// a future.
func (c *Correlator) Oneway(cmd commands.Command) error {
	cmd.SetCommandID(c.nextCommandID.Add(1))
	cmd.SetResponseRequired(false)

	c.mu.Lock()
	err := c.priorError
	if err == nil && c.closed {
		err = transport.ErrClosed
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Next().Oneway(cmd)
}

// AsyncRequest assigns an id, registers a future under it, and sends.
// The callback, if non-nil, fires on the reader goroutine when the
// response arrives or the transport fails.
func (c *Correlator) AsyncRequest(cmd commands.Command, cb transport.ResponseCallback) (*transport.FutureResponse, error) {
	id := c.nextCommandID.Add(1)
	cmd.SetCommandID(id)
	cmd.SetResponseRequired(true)

	future := transport.NewFutureResponse(cb)

	c.mu.Lock()
	priorError := c.priorError
	if priorError == nil && c.closed {
		priorError = transport.ErrClosed
	}
	if priorError == nil {
		c.requestMap[id] = future
	}
	c.mu.Unlock()

	if priorError != nil {
		future.Complete(syntheticExceptionResponse(id, priorError))
		return future, priorError
	}

	if err := c.Next().Oneway(cmd); err != nil {
		// Clean the entry out so a failed send cannot leak it.
		c.mu.Lock()
		delete(c.requestMap, id)
		c.mu.Unlock()
		return nil, err
	}
	return future, nil
}

// Request sends and waits forever for the correlated response.
func (c *Correlator) Request(cmd commands.Command) (commands.ResponseCommand, error) {
	return c.RequestTimeout(cmd, 0)
}

// RequestTimeout sends and waits up to timeout; zero waits forever.
// The registered entry is removed on every exit path, so a response
// arriving after expiry finds nothing and is dropped.
func (c *Correlator) RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error) {
	future, err := c.AsyncRequest(cmd, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		c.mu.Lock()
		delete(c.requestMap, cmd.CommandID())
		c.mu.Unlock()
	}()

	resp, err := future.Await(timeout)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w (id %d)", ErrNoResponse, cmd.CommandID())
	}
	return resp, nil
}

// OnCommand completes the matching future for responses and forwards
// everything else untouched, so control traffic is never held up by a
// slow request waiter. A response with no matching entry is dropped.
func (c *Correlator) OnCommand(cmd commands.Command) {
	if !cmd.IsResponse() {
		c.Filter.OnCommand(cmd)
		return
	}
	resp, ok := cmd.(commands.ResponseCommand)
	if !ok {
		c.Filter.OnCommand(cmd)
		return
	}

	c.mu.Lock()
	future, ok := c.requestMap[resp.GetCorrelationID()]
	if ok {
		delete(c.requestMap, resp.GetCorrelationID())
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("Dropping response with unknown correlation id %d", resp.GetCorrelationID())
		return
	}
	future.Complete(resp)
}

// OnException latches the failure and fails every outstanding future
// before propagating upward.
func (c *Correlator) OnException(err error) {
	c.dispose(err)
	c.Filter.OnException(err)
}

// Start verifies the chain is usable and starts the link below.
func (c *Correlator) Start() error {
	if c.Listener() == nil {
		return fmt.Errorf("correlator: %w: no listener installed", transport.ErrNotStarted)
	}
	return c.Next().Start()
}

// Close fails all outstanding requests and closes the link below. It is
// idempotent.
func (c *Correlator) Close() error {
	c.dispose(transport.ErrClosed)
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return c.Next().Close()
}

// dispose latches the first fatal error and completes every registered
// future with a synthetic exception response. Later responses for
// those ids find an empty map and are dropped.
func (c *Correlator) dispose(err error) {
	var failed []*transport.FutureResponse
	var ids []int32

	c.mu.Lock()
	if c.priorError == nil {
		c.priorError = err
		for id, f := range c.requestMap {
			ids = append(ids, id)
			failed = append(failed, f)
		}
		c.requestMap = make(map[int32]*transport.FutureResponse)
	}
	c.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	c.log.Debugf("Failing %d outstanding requests: %v", len(failed), err)
	instrument.FailedFutures(len(failed))
	for i, f := range failed {
		f.Complete(syntheticExceptionResponse(ids[i], err))
	}
}

func syntheticExceptionResponse(correlationID int32, err error) *commands.ExceptionResponse {
	resp := &commands.ExceptionResponse{
		Exception: &commands.BrokerError{
			ExceptionClass: wireCompatIOExceptionClass,
			Message:        err.Error(),
		},
	}
	resp.SetCorrelationID(correlationID)
	return resp
}
