// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"
	"time"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// FutureResponse is a one-shot cell for a correlated response. Exactly
// one producer completes it (the reader goroutine on receipt, or the
// correlator on shutdown); any number of consumers may await it.
type FutureResponse struct {
	mu   sync.Mutex
	done chan struct{}

	resp commands.ResponseCommand
	err  error

	cb ResponseCallback
}

// NewFutureResponse returns a pending future. cb may be nil.
func NewFutureResponse(cb ResponseCallback) *FutureResponse {
	return &FutureResponse{
		done: make(chan struct{}),
		cb:   cb,
	}
}

// Complete resolves the future with a response. Only the first
// Complete or Fail takes effect.
func (f *FutureResponse) Complete(resp commands.ResponseCommand) {
	f.settle(resp, nil)
}

// Fail resolves the future with an error.
func (f *FutureResponse) Fail(err error) {
	f.settle(nil, err)
}

func (f *FutureResponse) settle(resp commands.ResponseCommand, err error) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	f.resp = resp
	f.err = err
	close(f.done)
	cb := f.cb
	f.mu.Unlock()

	if cb != nil {
		cb(f)
	}
}

// IsComplete reports whether the future has been resolved.
func (f *FutureResponse) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the future resolves.
func (f *FutureResponse) Done() <-chan struct{} {
	return f.done
}

// Response returns the resolution; it is only meaningful after Done is
// closed. A nil, nil return means the future timed out unresolved.
func (f *FutureResponse) Response() (commands.ResponseCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

// Await blocks until resolution or the timeout elapses; zero waits
// forever. On timeout it returns nil, nil and the future stays pending.
func (f *FutureResponse) Await(timeout time.Duration) (commands.ResponseCommand, error) {
	if timeout == 0 {
		<-f.done
		return f.Response()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.Response()
	case <-timer.C:
		return nil, nil
	}
}
