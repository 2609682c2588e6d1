// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failover

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/transport"
	"github.com/apexmq/apexmq/transport/correlator"
)

type chainListener struct {
	mu          sync.Mutex
	cmds        []commands.Command
	errs        []error
	interrupted int
	resumed     int
}

func (l *chainListener) OnCommand(cmd commands.Command) {
	l.mu.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mu.Unlock()
}

func (l *chainListener) OnException(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *chainListener) TransportInterrupted() {
	l.mu.Lock()
	l.interrupted++
	l.mu.Unlock()
}

func (l *chainListener) TransportResumed() {
	l.mu.Lock()
	l.resumed++
	l.mu.Unlock()
}

func (l *chainListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted, l.resumed
}

func (l *chainListener) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

type dialRecord struct {
	uri  *URI
	mock *transport.MockTransport
}

// testDialer builds real negotiator+correlator chains over scripted
// mock endpoints: the mock answers the wire format proposal so the
// handshake completes the way a broker would.
type testDialer struct {
	mu    sync.Mutex
	dials []*dialRecord
	dead  map[string]bool
}

func newTestDialer() *testDialer {
	return &testDialer{dead: make(map[string]bool)}
}

func (d *testDialer) setDead(host string, dead bool) {
	d.mu.Lock()
	d.dead[host] = dead
	d.mu.Unlock()
}

func (d *testDialer) dial(u *URI) (*Chain, error) {
	d.mu.Lock()
	dead := d.dead[u.Host]
	d.mu.Unlock()
	if dead {
		return nil, fmt.Errorf("dial %s: connection refused", u.Address())
	}

	mock := transport.NewMockTransport()
	format := wire.NewFormat()
	mock.OnewayHook = func(cmd commands.Command) error {
		if _, ok := cmd.(*commands.WireFormatInfo); ok {
			go mock.Inject(wire.NewFormat().Preferred())
		}
		return nil
	}
	neg := transport.NewWireFormatNegotiator(mock, format)
	corr := correlator.New(neg)

	d.mu.Lock()
	d.dials = append(d.dials, &dialRecord{uri: u, mock: mock})
	d.mu.Unlock()
	return &Chain{Transport: corr}, nil
}

func (d *testDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *testDialer) record(i int) *dialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.dials) {
		return nil
	}
	return d.dials[i]
}

func mustURIs(t *testing.T, raws ...string) []*URI {
	var out []*URI
	for _, raw := range raws {
		u, err := ParseURI(raw)
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func commandTypes(cmds []commands.Command) []string {
	var out []string
	for _, c := range cmds {
		out = append(out, fmt.Sprintf("%T", c))
	}
	return out
}

func waitDials(t *testing.T, d *testDialer, n int) {
	require.Eventually(t, func() bool { return d.dialCount() >= n },
		5*time.Second, 5*time.Millisecond)
}

// splitByTraffic separates the first two dials into the live link (the
// one that carried a ConnectionInfo) and the parked backup.
func splitByTraffic(t *testing.T, d *testDialer) (primary, backup *dialRecord) {
	first, second := d.record(0), d.record(1)
	require.NotNil(t, second)
	require.Eventually(t, func() bool {
		return carriedConnectionInfo(first) || carriedConnectionInfo(second)
	}, 5*time.Second, 5*time.Millisecond)
	if carriedConnectionInfo(first) {
		return first, second
	}
	return second, first
}

func carriedConnectionInfo(r *dialRecord) bool {
	for _, cmd := range r.mock.Sent() {
		if _, ok := cmd.(*commands.ConnectionInfo); ok {
			return true
		}
	}
	return false
}

func startFailover(t *testing.T, cfg *Config, d *testDialer, uris []*URI) (*FailoverTransport, *chainListener) {
	f := New(uris, cfg, d.dial)
	l := &chainListener{}
	f.SetListener(l)
	require.NoError(t, f.Start())
	t.Cleanup(func() { f.Close() })
	return f, l
}

// A full failover cycle: state built on the first link is replayed, in
// order, behind the wire format handshake on the second link, with one
// interruption and one resume notification.
func TestFailoverReplaysState(t *testing.T) {
	dialer := newTestDialer()
	f, listener := startFailover(t, DefaultConfig(), dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))

	connID := &commands.ConnectionID{Value: "c1"}
	require.NoError(t, f.Oneway(&commands.ConnectionInfo{ConnectionID: connID, ClientID: "cl"}))
	require.NoError(t, f.Oneway(&commands.SessionInfo{
		SessionID: &commands.SessionID{ConnectionID: "c1", Value: 1}}))
	require.NoError(t, f.Oneway(&commands.ProducerInfo{
		ProducerID: &commands.ProducerID{ConnectionID: "c1", SessionID: 1, Value: 1}}))
	require.NoError(t, f.Oneway(&commands.ConsumerInfo{
		ConsumerID: &commands.ConsumerID{ConnectionID: "c1", SessionID: 1, Value: 2}}))
	require.NoError(t, f.Oneway(&commands.TransactionInfo{
		ConnectionID:  connID,
		TransactionID: &commands.LocalTransactionID{Value: 1, ConnectionID: connID},
		Type:          commands.TransactionBegin,
	}))

	first := dialer.record(0)
	require.NotNil(t, first)
	assert.Equal(t, "broker-a", first.uri.Host)

	// Sever the first link.
	first.mock.InjectError(errors.New("connection reset by peer"))

	waitDials(t, dialer, 2)
	second := dialer.record(1)
	assert.Equal(t, "broker-b", second.uri.Host)

	require.Eventually(t, func() bool {
		return len(second.mock.Sent()) >= 6
	}, 5*time.Second, 5*time.Millisecond)

	types := commandTypes(second.mock.Sent()[:6])
	assert.Equal(t, []string{
		"*commands.WireFormatInfo",
		"*commands.ConnectionInfo",
		"*commands.SessionInfo",
		"*commands.ProducerInfo",
		"*commands.ConsumerInfo",
		"*commands.TransactionInfo",
	}, types)

	require.Eventually(t, func() bool {
		_, resumed := listener.counts()
		return resumed == 1
	}, 5*time.Second, 5*time.Millisecond)
	interrupted, resumed := listener.counts()
	assert.Equal(t, 1, interrupted)
	assert.Equal(t, 1, resumed)
}

// A committed transaction must not be replayed.
func TestFailoverSkipsFinishedTransactions(t *testing.T) {
	dialer := newTestDialer()
	f, _ := startFailover(t, DefaultConfig(), dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))

	connID := &commands.ConnectionID{Value: "c1"}
	require.NoError(t, f.Oneway(&commands.ConnectionInfo{ConnectionID: connID}))
	tx := &commands.LocalTransactionID{Value: 1, ConnectionID: connID}
	require.NoError(t, f.Oneway(&commands.TransactionInfo{
		ConnectionID: connID, TransactionID: tx, Type: commands.TransactionBegin}))
	require.NoError(t, f.Oneway(&commands.TransactionInfo{
		ConnectionID: connID, TransactionID: tx, Type: commands.TransactionCommitOnePhase}))

	dialer.record(0).mock.InjectError(errors.New("gone"))
	waitDials(t, dialer, 2)
	second := dialer.record(1)
	require.Eventually(t, func() bool {
		return len(second.mock.Sent()) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	for _, cmd := range second.mock.Sent() {
		_, isTx := cmd.(*commands.TransactionInfo)
		assert.False(t, isTx, "finished transaction replayed")
	}
}

// Writes issued during the interruption window block until the new link
// is up.
func TestWritesBlockThroughInterruption(t *testing.T) {
	dialer := newTestDialer()
	f, _ := startFailover(t, DefaultConfig(), dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))

	require.NoError(t, f.Oneway(&commands.ConnectionInfo{
		ConnectionID: &commands.ConnectionID{Value: "c1"}}))

	dialer.record(0).mock.InjectError(errors.New("gone"))

	done := make(chan error, 1)
	go func() {
		done <- f.Oneway(&commands.KeepAliveInfo{})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("oneway never unblocked after reconnect")
	}
}

// The attempt budget turns exhaustion into a terminal failure on the
// upper API.
func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := newTestDialer()
	dialer.setDead("broker-a", true)
	dialer.setDead("broker-b", true)

	cfg := DefaultConfig()
	cfg.InitialReconnectDelay = time.Millisecond
	cfg.MaxReconnectDelay = 2 * time.Millisecond
	cfg.MaxReconnectAttempts = 3

	f, listener := startFailover(t, cfg, dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))

	require.Eventually(t, func() bool { return listener.errorCount() > 0 },
		5*time.Second, 5*time.Millisecond)

	err := f.Oneway(&commands.KeepAliveInfo{})
	assert.ErrorIs(t, err, ErrConnectGivenUp)
}

// Broker-pushed endpoint updates override the configured pool.
func TestConnectionControlUpdatesPool(t *testing.T) {
	dialer := newTestDialer()
	f, listener := startFailover(t, DefaultConfig(), dialer,
		mustURIs(t, "tcp://broker-a:61616"))

	require.NoError(t, f.Oneway(&commands.ConnectionInfo{
		ConnectionID: &commands.ConnectionID{Value: "c1"}}))

	first := dialer.record(0)
	first.mock.Inject(&commands.ConnectionControl{
		ReconnectTo: "tcp://broker-x:61616,tcp://broker-y:61616",
	})
	assert.Equal(t, 2, f.updates.Len())

	// The control command still reaches the layer above.
	listener.mu.Lock()
	var sawControl bool
	for _, c := range listener.cmds {
		if _, ok := c.(*commands.ConnectionControl); ok {
			sawControl = true
		}
	}
	listener.mu.Unlock()
	assert.True(t, sawControl)

	// The next reconnect must land on an updated endpoint.
	first.mock.InjectError(errors.New("gone"))
	waitDials(t, dialer, 2)
	second := dialer.record(1)
	assert.Contains(t, []string{"broker-x", "broker-y"}, second.uri.Host)
}

// With a warm backup the reconnect must promote it instead of dialing.
func TestBackupPromotedOnFailure(t *testing.T) {
	dialer := newTestDialer()
	cfg := DefaultConfig()
	cfg.Backup = true
	cfg.BackupPoolSize = 1

	f, listener := startFailover(t, cfg, dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))

	require.NoError(t, f.Oneway(&commands.ConnectionInfo{
		ConnectionID: &commands.ConnectionID{Value: "c1"}}))

	// Primary plus one pre-warmed backup. The filler and the connect
	// worker race for the pool, so identify the live link by the
	// traffic it carried rather than by dial order.
	waitDials(t, dialer, 2)
	primary, backup := splitByTraffic(t, dialer)
	assert.NotEqual(t, primary.uri.Host, backup.uri.Host)

	primary.mock.InjectError(errors.New("gone"))
	require.Eventually(t, func() bool {
		_, resumed := listener.counts()
		return resumed == 1
	}, 5*time.Second, 5*time.Millisecond)

	// The replayed state lands on the promoted backup chain.
	require.Eventually(t, func() bool {
		for _, cmd := range backup.mock.Sent() {
			if _, ok := cmd.(*commands.ConnectionInfo); ok {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

// A dead backup goes back to the pool and the filler replaces it.
func TestBackupFailureRefillsPool(t *testing.T) {
	dialer := newTestDialer()
	cfg := DefaultConfig()
	cfg.Backup = true
	cfg.BackupPoolSize = 1

	f, _ := startFailover(t, cfg, dialer,
		mustURIs(t, "tcp://broker-a:61616", "tcp://broker-b:61616"))
	require.NoError(t, f.Oneway(&commands.ConnectionInfo{
		ConnectionID: &commands.ConnectionID{Value: "c1"}}))

	waitDials(t, dialer, 2)
	_, backup := splitByTraffic(t, dialer)
	backup.mock.InjectError(errors.New("backup died"))

	// The filler reconnects the same endpoint.
	waitDials(t, dialer, 3)
	replacement := dialer.record(2)
	assert.Equal(t, backup.uri.Host, replacement.uri.Host)
}
