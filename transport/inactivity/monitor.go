// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package inactivity implements keep-alive based liveness monitoring of
// a transport link: a write watchdog that fills outbound silence with
// KeepAliveInfo frames, and a read watchdog that declares the link dead
// when inbound silence exceeds the negotiated window.
package inactivity

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/core/worker"
	"github.com/apexmq/apexmq/internal/instrument"
	"github.com/apexmq/apexmq/transport"
)

// Monitor is the inactivity watchdog filter. It arms itself when the
// negotiated WireFormatInfo passes upward through it, after the
// negotiated initial delay; a negotiated window of zero leaves it
// disarmed.
type Monitor struct {
	transport.Filter
	worker.Worker

	log    *log.Logger
	format *wire.Format

	lastRead  atomic.Int64 // unix nanos
	lastWrite atomic.Int64

	mu      sync.Mutex
	armed   bool
	tripped bool
}

// NewMonitor wires a monitor over next, observing the codec the link
// negotiates with.
func NewMonitor(next transport.Transport, format *wire.Format) *Monitor {
	m := &Monitor{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "transport/inactivity",
		}),
		format: format,
	}
	m.InitFilter(next, m)
	return m
}

// Oneway stamps write activity and forwards.
func (m *Monitor) Oneway(cmd commands.Command) error {
	err := m.Filter.Oneway(cmd)
	if err == nil {
		m.lastWrite.Store(time.Now().UnixNano())
	}
	return err
}

// OnCommand stamps read activity. Keep-alives exist only to satisfy the
// read watchdog and are consumed here; everything else flows upward.
func (m *Monitor) OnCommand(cmd commands.Command) {
	m.lastRead.Store(time.Now().UnixNano())

	switch cmd.(type) {
	case *commands.KeepAliveInfo:
		m.log.Debug("Received keep-alive")
		return
	case *commands.WireFormatInfo:
		m.Filter.OnCommand(cmd)
		m.arm()
		return
	}
	m.Filter.OnCommand(cmd)
}

// arm starts the watchdogs with the negotiated parameters.
func (m *Monitor) arm() {
	duration := time.Duration(m.format.MaxInactivityDuration()) * time.Millisecond
	initialDelay := time.Duration(m.format.MaxInactivityInitialDelay()) * time.Millisecond

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed {
		return
	}
	if duration <= 0 {
		m.log.Debug("Inactivity monitoring disabled")
		return
	}
	m.armed = true

	now := time.Now().UnixNano()
	m.lastRead.Store(now)
	m.lastWrite.Store(now)

	m.log.Debugf("Arming watchdogs: window %v, initial delay %v", duration, initialDelay)
	m.Go(func() { m.writeWatchdog(duration/2, initialDelay) })
	m.Go(func() { m.readWatchdog(duration, initialDelay) })
}

func (m *Monitor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.HaltCh():
		return false
	}
}

// writeWatchdog sends a KeepAliveInfo whenever no frame has been
// written for half the negotiated window.
func (m *Monitor) writeWatchdog(interval, initialDelay time.Duration) {
	if !m.sleep(initialDelay) {
		return
	}
	for {
		if !m.sleep(interval) {
			return
		}
		idle := time.Duration(time.Now().UnixNano() - m.lastWrite.Load())
		if idle < interval {
			continue
		}
		m.log.Debug("Write watchdog sending keep-alive")
		if err := m.Filter.Oneway(&commands.KeepAliveInfo{}); err != nil {
			m.log.Debugf("Keep-alive send failed: %v", err)
			continue
		}
		instrument.KeepAliveSent()
		m.lastWrite.Store(time.Now().UnixNano())
	}
}

// readWatchdog raises a transport error when no frame at all has been
// received within the negotiated window.
func (m *Monitor) readWatchdog(window, initialDelay time.Duration) {
	if !m.sleep(initialDelay) {
		return
	}
	for {
		if !m.sleep(window / 2) {
			return
		}
		idle := time.Duration(time.Now().UnixNano() - m.lastRead.Load())
		if idle < window {
			continue
		}

		m.mu.Lock()
		already := m.tripped
		m.tripped = true
		m.mu.Unlock()
		if already {
			return
		}
		m.log.Warnf("Channel inactive for %v", idle)
		instrument.InactivityTrip()
		m.Filter.OnException(transport.NewIOError(
			fmt.Errorf("channel inactive for too long: %v", idle)))
		return
	}
}

// Close halts the watchdogs and closes the link below.
func (m *Monitor) Close() error {
	err := m.Filter.Close()
	m.Halt()
	return err
}

// Stop halts the watchdogs and stops the link below.
func (m *Monitor) Stop() error {
	err := m.Filter.Stop()
	m.Halt()
	return err
}
