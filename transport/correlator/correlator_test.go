// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package correlator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/transport"
)

type recordingListener struct {
	mu        sync.Mutex
	cmds      []commands.Command
	errs      []error
}

func (l *recordingListener) OnCommand(cmd commands.Command) {
	l.mu.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mu.Unlock()
}

func (l *recordingListener) OnException(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *recordingListener) TransportInterrupted() {}
func (l *recordingListener) TransportResumed()     {}

func (l *recordingListener) commands() []commands.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]commands.Command(nil), l.cmds...)
}

func newTestCorrelator(t *testing.T) (*Correlator, *transport.MockTransport, *recordingListener) {
	mock := transport.NewMockTransport()
	c := New(mock)
	listener := &recordingListener{}
	c.SetListener(listener)
	require.NoError(t, c.Start())
	return c, mock, listener
}

func (c *Correlator) mapSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requestMap)
}

func response(id int32) *commands.Response {
	return &commands.Response{CorrelationID: id}
}

// Command ids assigned by one correlator are strictly increasing and
// gap-free.
func TestOnewayAssignsMonotonicIDs(t *testing.T) {
	c, mock, _ := newTestCorrelator(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Oneway(&commands.KeepAliveInfo{}))
	}
	sent := mock.Sent()
	require.Len(t, sent, 5)
	for i, cmd := range sent {
		assert.EqualValues(t, i+1, cmd.CommandID())
		assert.False(t, cmd.IsResponseRequired())
	}
}

// Three concurrent requests answered in reverse order must each get
// their own reply.
func TestConcurrentRequestsCorrelatedOutOfOrder(t *testing.T) {
	c, mock, _ := newTestCorrelator(t)

	type result struct {
		id   int32
		resp commands.ResponseCommand
		err  error
	}
	results := make(chan result, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := &commands.SessionInfo{}
			resp, err := c.RequestTimeout(cmd, 5*time.Second)
			results <- result{id: cmd.CommandID(), resp: resp, err: err}
		}()
	}

	// Wait until all three futures are registered, then answer them in
	// reverse id order.
	require.Eventually(t, func() bool { return c.mapSize() == 3 }, time.Second, time.Millisecond)
	for id := int32(3); id >= 1; id-- {
		mock.Inject(response(id))
	}
	wg.Wait()
	close(results)

	seen := make(map[int32]bool)
	for r := range results {
		require.NoError(t, r.err)
		require.NotNil(t, r.resp)
		assert.Equal(t, r.id, r.resp.GetCorrelationID())
		seen[r.id] = true
	}
	assert.Equal(t, map[int32]bool{1: true, 2: true, 3: true}, seen)
	assert.Zero(t, c.mapSize())
}

// A timed out request must leave no map entry behind, and a late reply
// must be dropped without a callback.
func TestRequestTimeoutHygiene(t *testing.T) {
	c, mock, listener := newTestCorrelator(t)

	cmd := &commands.SessionInfo{}
	start := time.Now()
	resp, err := c.RequestTimeout(cmd, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Nil(t, resp)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, c.mapSize())

	// The late reply finds no entry and vanishes silently.
	mock.Inject(response(cmd.CommandID()))
	assert.Zero(t, c.mapSize())
	assert.Empty(t, listener.commands())

	// The correlator remains usable: the timeout is local.
	go func() {
		time.Sleep(10 * time.Millisecond)
		mock.Inject(response(2))
	}()
	resp, err = c.RequestTimeout(&commands.SessionInfo{}, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.GetCorrelationID())
}

// Non-response traffic flows upward untouched, never blocked behind
// request waiters.
func TestNonResponseForwarded(t *testing.T) {
	c, mock, listener := newTestCorrelator(t)
	_ = c

	dispatch := &commands.MessageDispatch{}
	mock.Inject(dispatch)
	got := listener.commands()
	require.Len(t, got, 1)
	assert.Same(t, dispatch, got[0])
}

// A transport failure fails every outstanding future exactly once with
// a synthetic exception response, and latches.
func TestOnExceptionFailsOutstanding(t *testing.T) {
	c, mock, _ := newTestCorrelator(t)

	futures := make([]*transport.FutureResponse, 3)
	for i := range futures {
		f, err := c.AsyncRequest(&commands.SessionInfo{}, nil)
		require.NoError(t, err)
		futures[i] = f
	}
	require.Equal(t, 3, c.mapSize())

	bang := errors.New("connection reset")
	mock.InjectError(bang)

	assert.Zero(t, c.mapSize())
	for _, f := range futures {
		require.True(t, f.IsComplete())
		resp, err := f.Response()
		require.NoError(t, err)
		exc, ok := resp.(*commands.ExceptionResponse)
		require.True(t, ok)
		assert.True(t, exc.IsException())
		assert.Equal(t, "java.io.IOException", exc.Exception.ExceptionClass)
	}

	// The latch makes every subsequent operation fail immediately.
	err := c.Oneway(&commands.KeepAliveInfo{})
	assert.ErrorIs(t, err, bang)
	_, err = c.RequestTimeout(&commands.SessionInfo{}, time.Second)
	assert.ErrorIs(t, err, bang)
}

// AsyncRequest callbacks fire on completion.
func TestAsyncRequestCallback(t *testing.T) {
	c, mock, _ := newTestCorrelator(t)

	done := make(chan commands.ResponseCommand, 1)
	f, err := c.AsyncRequest(&commands.SessionInfo{}, func(f *transport.FutureResponse) {
		resp, _ := f.Response()
		done <- resp
	})
	require.NoError(t, err)

	mock.Inject(response(1))
	select {
	case resp := <-done:
		assert.EqualValues(t, 1, resp.GetCorrelationID())
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	require.True(t, f.IsComplete())
}

// Closing the correlator fails outstanding requests and refuses new
// ones.
func TestCloseFailsOutstanding(t *testing.T) {
	c, mock, _ := newTestCorrelator(t)

	f, err := c.AsyncRequest(&commands.SessionInfo{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.True(t, f.IsComplete())
	assert.True(t, mock.IsClosed())
	assert.Error(t, c.Oneway(&commands.KeepAliveInfo{}))
}
