// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package tcp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/transport"
)

type pumpListener struct {
	mu   sync.Mutex
	cmds []commands.Command
	errs []error
}

func (l *pumpListener) OnCommand(cmd commands.Command) {
	l.mu.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mu.Unlock()
}

func (l *pumpListener) OnException(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *pumpListener) TransportInterrupted() {}
func (l *pumpListener) TransportResumed()     {}

func (l *pumpListener) commandCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cmds)
}

func (l *pumpListener) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// peer is the far end of the pipe speaking raw frames.
type peer struct {
	conn   net.Conn
	format *wire.Format
}

func (p *peer) send(t *testing.T, cmd commands.Command) {
	require.NoError(t, p.format.Marshal(cmd, p.conn))
}

func (p *peer) recv(t *testing.T) commands.Command {
	cmd, err := p.format.Unmarshal(p.conn)
	require.NoError(t, err)
	return cmd
}

func newPipePair(t *testing.T) (*Transport, *peer, *pumpListener) {
	client, server := net.Pipe()
	tr := NewTransport(client, wire.NewFormat(), nil)
	l := &pumpListener{}
	tr.SetListener(l)
	t.Cleanup(func() { tr.Close() })
	return tr, &peer{conn: server, format: wire.NewFormat()}, l
}

func TestReaderDispatchesCommands(t *testing.T) {
	tr, p, l := newPipePair(t)
	require.NoError(t, tr.Start())

	go p.send(t, &commands.KeepAliveInfo{})
	require.Eventually(t, func() bool { return l.commandCount() == 1 },
		time.Second, time.Millisecond)

	l.mu.Lock()
	_, ok := l.cmds[0].(*commands.KeepAliveInfo)
	l.mu.Unlock()
	assert.True(t, ok)
}

func TestOnewayWritesDecodableFrames(t *testing.T) {
	tr, p, _ := newPipePair(t)
	require.NoError(t, tr.Start())

	sent := &commands.ControlCommand{Command: "probe"}
	sent.SetCommandID(3)
	done := make(chan struct{})
	go func() {
		defer close(done)
		got := p.recv(t)
		ctrl, ok := got.(*commands.ControlCommand)
		assert.True(t, ok)
		assert.Equal(t, "probe", ctrl.Command)
		assert.EqualValues(t, 3, ctrl.CommandID())
	}()
	require.NoError(t, tr.Oneway(sent))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}
}

// Closing the transport releases a blocked reader without surfacing an
// error, and further operations fail with ErrClosed.
func TestCloseUnblocksReader(t *testing.T) {
	tr, _, l := newPipePair(t)
	require.NoError(t, tr.Start())

	time.Sleep(20 * time.Millisecond) // reader is now blocked in a read
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close()) // idempotent

	tr.Wait()
	assert.Zero(t, l.errorCount())
	assert.ErrorIs(t, tr.Oneway(&commands.KeepAliveInfo{}), transport.ErrClosed)
}

// A peer disconnect surfaces exactly one OnException.
func TestPeerCloseRaisesException(t *testing.T) {
	tr, p, l := newPipePair(t)
	require.NoError(t, tr.Start())

	p.conn.Close()
	require.Eventually(t, func() bool { return l.errorCount() == 1 },
		time.Second, time.Millisecond)
}

// Requests are unsupported without a correlator above.
func TestRequestUnsupported(t *testing.T) {
	tr, _, _ := newPipePair(t)
	_, err := tr.Request(&commands.KeepAliveInfo{})
	assert.ErrorIs(t, err, transport.ErrUnsupported)
}

func TestStartRequiresListener(t *testing.T) {
	client, _ := net.Pipe()
	tr := NewTransport(client, wire.NewFormat(), nil)
	t.Cleanup(func() { tr.Close() })
	assert.Error(t, tr.Start())
}
