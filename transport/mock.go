// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"
	"time"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// MockTransport is a scriptable bottom link used by the filter tests
// and by the failover tests: it records everything sent down and lets
// the test inject inbound commands and failures.
type MockTransport struct {
	mu       sync.Mutex
	listener Listener
	started  bool
	closed   bool

	sent []commands.Command

	// OnewayHook, when set, intercepts sends; returning an error makes
	// the send fail.
	OnewayHook func(cmd commands.Command) error

	// StartHook, when set, can fail Start to simulate a dead endpoint.
	StartHook func() error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.StartHook != nil {
		if err := m.StartHook(); err != nil {
			return err
		}
	}
	m.started = true
	return nil
}

func (m *MockTransport) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.started = false
	return nil
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) Oneway(cmd commands.Command) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	hook := m.OnewayHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(cmd); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, cmd)
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Request(cmd commands.Command) (commands.ResponseCommand, error) {
	return nil, ErrUnsupported
}

func (m *MockTransport) RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error) {
	return nil, ErrUnsupported
}

func (m *MockTransport) AsyncRequest(cmd commands.Command, cb ResponseCallback) (*FutureResponse, error) {
	return nil, ErrUnsupported
}

func (m *MockTransport) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *MockTransport) Listener() Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// Sent returns a snapshot of the commands sent down this link.
func (m *MockTransport) Sent() []commands.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]commands.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

// Inject delivers an inbound command as if decoded off the wire.
func (m *MockTransport) Inject(cmd commands.Command) {
	if l := m.Listener(); l != nil {
		l.OnCommand(cmd)
	}
}

// InjectError raises a fatal link error.
func (m *MockTransport) InjectError(err error) {
	if l := m.Listener(); l != nil {
		l.OnException(err)
	}
}
