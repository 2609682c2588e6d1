// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package inactivity

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/transport"
)

type captureListener struct {
	mu   sync.Mutex
	cmds []commands.Command
	errs []error
}

func (l *captureListener) OnCommand(cmd commands.Command) {
	l.mu.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mu.Unlock()
}

func (l *captureListener) OnException(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *captureListener) TransportInterrupted() {}
func (l *captureListener) TransportResumed()     {}

func (l *captureListener) errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func (l *captureListener) commands() []commands.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]commands.Command(nil), l.cmds...)
}

func negotiatedFormat(t *testing.T, maxInactivityMillis int64) *wire.Format {
	f := wire.NewFormat()
	require.NoError(t, f.ApplyOptions(map[string]string{
		"wireFormat.maxInactivityDuration":            "30000",
		"wireFormat.maxInactivityDurationInitalDelay": "0",
	}))
	info := f.Preferred()
	info.MaxInactivityDuration = maxInactivityMillis
	info.MaxInactivityDurationInitalDelay = 0
	require.NoError(t, f.Renegotiate(info))
	return f
}

func keepAlivesSent(mock *transport.MockTransport) int {
	n := 0
	for _, cmd := range mock.Sent() {
		if _, ok := cmd.(*commands.KeepAliveInfo); ok {
			n++
		}
	}
	return n
}

// With outbound silence the write watchdog fills the gap with exactly
// one keep-alive per half window.
func TestWriteWatchdogSendsKeepAlive(t *testing.T) {
	mock := transport.NewMockTransport()
	format := negotiatedFormat(t, 1000)
	m := NewMonitor(mock, format)
	listener := &captureListener{}
	m.SetListener(listener)
	require.NoError(t, m.Start())
	defer m.Close()

	// The negotiated info passing upward arms the watchdogs.
	mock.Inject(&commands.WireFormatInfo{})

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 1, keepAlivesSent(mock))

	// Inbound keep-alives are consumed, not forwarded.
	mock.Inject(&commands.KeepAliveInfo{})
	for _, cmd := range listener.commands() {
		_, isKeepAlive := cmd.(*commands.KeepAliveInfo)
		assert.False(t, isKeepAlive)
	}
}

// With total inbound silence the read watchdog declares the link dead
// around the negotiated window.
func TestReadWatchdogTripsOnSilence(t *testing.T) {
	mock := transport.NewMockTransport()
	format := negotiatedFormat(t, 300)
	m := NewMonitor(mock, format)
	listener := &captureListener{}
	m.SetListener(listener)
	require.NoError(t, m.Start())
	defer m.Close()

	mock.Inject(&commands.WireFormatInfo{})

	require.Eventually(t, func() bool {
		return len(listener.errors()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	errs := listener.errors()
	require.Len(t, errs, 1)
	var ioe *transport.IOError
	require.True(t, errors.As(errs[0], &ioe))
	assert.True(t, strings.Contains(errs[0].Error(), "channel inactive"))
}

// Inbound traffic keeps satisfying the read watchdog.
func TestReadWatchdogSatisfiedByTraffic(t *testing.T) {
	mock := transport.NewMockTransport()
	format := negotiatedFormat(t, 300)
	m := NewMonitor(mock, format)
	listener := &captureListener{}
	m.SetListener(listener)
	require.NoError(t, m.Start())
	defer m.Close()

	mock.Inject(&commands.WireFormatInfo{})
	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		mock.Inject(&commands.KeepAliveInfo{})
		time.Sleep(50 * time.Millisecond)
	}
	assert.Empty(t, listener.errors())
}

// A negotiated window of zero disables both watchdogs.
func TestZeroWindowDisablesMonitoring(t *testing.T) {
	mock := transport.NewMockTransport()
	format := negotiatedFormat(t, 0)
	m := NewMonitor(mock, format)
	listener := &captureListener{}
	m.SetListener(listener)
	require.NoError(t, m.Start())
	defer m.Close()

	mock.Inject(&commands.WireFormatInfo{})
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, keepAlivesSent(mock))
	assert.Empty(t, listener.errors())
}
