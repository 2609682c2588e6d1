// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"
	"time"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// Filter is the base of a transport chain link: it forwards every
// operation to the next link down and every event to the listener
// above. Concrete filters embed it and override what they intercept.
// A filter installs itself as its next link's listener at construction.
type Filter struct {
	next Transport

	mu       sync.RWMutex
	listener Listener
}

// NewFilter wires a passthrough filter over next.
func NewFilter(next Transport) *Filter {
	f := &Filter{next: next}
	next.SetListener(f)
	return f
}

// InitFilter wires an embedded Filter in place, installing self (the
// embedding filter) as next's listener.
func (f *Filter) InitFilter(next Transport, self Listener) {
	f.next = next
	next.SetListener(self)
}

// Next returns the downstream link.
func (f *Filter) Next() Transport { return f.next }

func (f *Filter) Start() error { return f.next.Start() }
func (f *Filter) Stop() error  { return f.next.Stop() }
func (f *Filter) Close() error { return f.next.Close() }

func (f *Filter) Oneway(cmd commands.Command) error {
	return f.next.Oneway(cmd)
}

func (f *Filter) Request(cmd commands.Command) (commands.ResponseCommand, error) {
	return f.next.Request(cmd)
}

func (f *Filter) RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error) {
	return f.next.RequestTimeout(cmd, timeout)
}

func (f *Filter) AsyncRequest(cmd commands.Command, cb ResponseCallback) (*FutureResponse, error) {
	return f.next.AsyncRequest(cmd, cb)
}

func (f *Filter) SetListener(l Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *Filter) Listener() Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.listener
}

// OnCommand forwards an inbound command to the listener above.
func (f *Filter) OnCommand(cmd commands.Command) {
	if l := f.Listener(); l != nil {
		l.OnCommand(cmd)
	}
}

// OnException forwards a fatal link error to the listener above.
func (f *Filter) OnException(err error) {
	if l := f.Listener(); l != nil {
		l.OnException(err)
	}
}

func (f *Filter) TransportInterrupted() {
	if l := f.Listener(); l != nil {
		l.TransportInterrupted()
	}
}

func (f *Filter) TransportResumed() {
	if l := f.Listener(); l != nil {
		l.TransportResumed()
	}
}
