// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
)

// DefaultNegotiateTimeout bounds how long sends wait for the wire
// format handshake to finish.
const DefaultNegotiateTimeout = 15 * time.Second

// WireFormatNegotiator performs the WireFormatInfo exchange: it sends
// this side's proposal when started, folds the peer's proposal into the
// shared codec, and holds back application traffic until both have
// happened.
type WireFormatNegotiator struct {
	Filter

	log    *log.Logger
	format *wire.Format

	timeout time.Duration

	mu       sync.Mutex
	doneCh   chan struct{}
	doneErr  error
	resolved bool
}

// NewWireFormatNegotiator wires a negotiator over next, sharing the
// codec instance bound to the bottom link.
func NewWireFormatNegotiator(next Transport, format *wire.Format) *WireFormatNegotiator {
	n := &WireFormatNegotiator{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "transport/negotiator",
		}),
		format:  format,
		timeout: DefaultNegotiateTimeout,
		doneCh:  make(chan struct{}),
	}
	n.InitFilter(next, n)
	return n
}

// SetNegotiateTimeout overrides the handshake wait bound.
func (n *WireFormatNegotiator) SetNegotiateTimeout(d time.Duration) {
	n.timeout = d
}

// Start starts the link below and sends the preferred WireFormatInfo.
func (n *WireFormatNegotiator) Start() error {
	if err := n.Next().Start(); err != nil {
		return err
	}
	info := n.format.Preferred()
	n.log.Debugf("Sending wire format proposal: version %d", info.Version)
	return n.Next().Oneway(info)
}

// Negotiated returns once the handshake completed, or fails after the
// negotiate timeout.
func (n *WireFormatNegotiator) Negotiated() error {
	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case <-n.doneCh:
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.doneErr
	case <-timer.C:
		return fmt.Errorf("transport: wire format negotiation timed out after %v", n.timeout)
	}
}

func (n *WireFormatNegotiator) resolve(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved {
		return
	}
	n.resolved = true
	n.doneErr = err
	close(n.doneCh)
}

// Oneway holds back everything but our own WireFormatInfo until the
// peer's proposal arrived.
func (n *WireFormatNegotiator) Oneway(cmd commands.Command) error {
	if _, ok := cmd.(*commands.WireFormatInfo); !ok {
		if err := n.Negotiated(); err != nil {
			return err
		}
	}
	return n.Next().Oneway(cmd)
}

// OnCommand intercepts the peer's WireFormatInfo, renegotiates the
// codec, and forwards the info for the layers above to observe.
func (n *WireFormatNegotiator) OnCommand(cmd commands.Command) {
	if info, ok := cmd.(*commands.WireFormatInfo); ok {
		err := n.format.Renegotiate(info)
		if err != nil {
			n.log.Errorf("Wire format negotiation failed: %v", err)
			n.resolve(err)
			n.Filter.OnException(NewIOError(err))
			return
		}
		n.log.Debugf("Negotiated wire format: version %d", n.format.Version())
		n.resolve(nil)
	}
	n.Filter.OnCommand(cmd)
}

// OnException releases any handshake waiter before propagating.
func (n *WireFormatNegotiator) OnException(err error) {
	n.resolve(err)
	n.Filter.OnException(err)
}

// Close releases any handshake waiter and closes the link below.
func (n *WireFormatNegotiator) Close() error {
	n.resolve(ErrClosed)
	return n.Filter.Close()
}
