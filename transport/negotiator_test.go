// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
)

type negotiatorListener struct {
	mu   sync.Mutex
	cmds []commands.Command
	errs []error
}

func (l *negotiatorListener) OnCommand(cmd commands.Command) {
	l.mu.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mu.Unlock()
}

func (l *negotiatorListener) OnException(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *negotiatorListener) TransportInterrupted() {}
func (l *negotiatorListener) TransportResumed()     {}

func peerInfo(version int32) *commands.WireFormatInfo {
	info := wire.NewFormat().Preferred()
	info.Version = version
	return info
}

func TestNegotiatorSendsProposalOnStart(t *testing.T) {
	mock := NewMockTransport()
	format := wire.NewFormat()
	n := NewWireFormatNegotiator(mock, format)
	n.SetListener(&negotiatorListener{})
	require.NoError(t, n.Start())

	sent := mock.Sent()
	require.Len(t, sent, 1)
	info, ok := sent[0].(*commands.WireFormatInfo)
	require.True(t, ok)
	assert.EqualValues(t, wire.MaxVersion, info.Version)
}

func TestNegotiatorGatesTrafficUntilHandshake(t *testing.T) {
	mock := NewMockTransport()
	format := wire.NewFormat()
	n := NewWireFormatNegotiator(mock, format)
	n.SetNegotiateTimeout(100 * time.Millisecond)
	listener := &negotiatorListener{}
	n.SetListener(listener)
	require.NoError(t, n.Start())

	// Without the peer's proposal, sends time out.
	err := n.Oneway(&commands.KeepAliveInfo{})
	require.Error(t, err)

	// The peer's proposal resolves the codec and releases traffic.
	mock.Inject(peerInfo(7))
	require.NoError(t, n.Oneway(&commands.KeepAliveInfo{}))
	assert.Equal(t, 7, format.Version())

	// The info was forwarded for the layers above to observe.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.cmds, 1)
	assert.IsType(t, &commands.WireFormatInfo{}, listener.cmds[0])
}

func TestNegotiatorRejectsBadHandshake(t *testing.T) {
	mock := NewMockTransport()
	n := NewWireFormatNegotiator(mock, wire.NewFormat())
	listener := &negotiatorListener{}
	n.SetListener(listener)
	require.NoError(t, n.Start())

	bad := peerInfo(10)
	bad.Magic = []byte("BADMAGIC")
	mock.Inject(bad)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.errs, 1)
	assert.Error(t, n.Negotiated())
}
