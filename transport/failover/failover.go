// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package failover presents an unbroken command bus over physical links
// that die and get replaced: it owns the endpoint candidate pools,
// reconnects with backoff, replays the tracked logical state onto each
// fresh link, and optionally keeps pre-connected backups warm.
package failover

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/audit"
	"github.com/apexmq/apexmq/core/wire"
	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/core/worker"
	"github.com/apexmq/apexmq/internal/instrument"
	"github.com/apexmq/apexmq/state"
	"github.com/apexmq/apexmq/transport"
	"github.com/apexmq/apexmq/transport/correlator"
	"github.com/apexmq/apexmq/transport/inactivity"
	"github.com/apexmq/apexmq/transport/tcp"
)

// ErrConnectGivenUp is wrapped into the terminal failure surfaced after
// the reconnect attempt budget is exhausted.
var ErrConnectGivenUp = errors.New("failover: too many reconnect attempts")

// Config carries the failover-level options of the composite URI.
type Config struct {
	InitialReconnectDelay       time.Duration
	MaxReconnectDelay           time.Duration
	BackOffMultiplier           float64
	UseExponentialBackOff       bool
	MaxReconnectAttempts        int
	StartupMaxReconnectAttempts int
	Randomize                   bool
	Backup                      bool
	BackupPoolSize              int
	TrackMessages               bool
	MaxCacheSize                int
	Timeout                     time.Duration
	PriorityBackup              bool
}

// DefaultConfig returns the option defaults.
func DefaultConfig() *Config {
	return &Config{
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		BackOffMultiplier:     2.0,
		UseExponentialBackOff: true,
		BackupPoolSize:        1,
		MaxCacheSize:          128,
	}
}

// ParseConfig folds the composite URI's failover options into a Config.
func ParseConfig(opts map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	for k, v := range opts {
		var err error
		switch k {
		case "initialReconnectDelay":
			cfg.InitialReconnectDelay, err = parseMillis(v)
		case "maxReconnectDelay":
			cfg.MaxReconnectDelay, err = parseMillis(v)
		case "backOffMultiplier":
			cfg.BackOffMultiplier, err = strconv.ParseFloat(v, 64)
		case "useExponentialBackOff":
			cfg.UseExponentialBackOff, err = parseBool(v)
		case "maxReconnectAttempts":
			cfg.MaxReconnectAttempts, err = strconv.Atoi(v)
		case "startupMaxReconnectAttempts":
			cfg.StartupMaxReconnectAttempts, err = strconv.Atoi(v)
		case "randomize":
			cfg.Randomize, err = parseBool(v)
		case "backup":
			cfg.Backup, err = parseBool(v)
		case "backupPoolSize":
			cfg.BackupPoolSize, err = strconv.Atoi(v)
		case "trackMessages":
			cfg.TrackMessages, err = parseBool(v)
		case "maxCacheSize":
			cfg.MaxCacheSize, err = strconv.Atoi(v)
		case "timeout":
			cfg.Timeout, err = parseMillis(v)
		case "priorityBackup":
			cfg.PriorityBackup, err = parseBool(v)
		}
		if err != nil {
			return nil, fmt.Errorf("failover: bad value for %s: %w", k, err)
		}
	}
	return cfg, nil
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	return time.Duration(ms) * time.Millisecond, err
}

func parseBool(v string) (bool, error) {
	switch v {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// Chain couples an assembled per-URI filter stack with its wire format
// handshake gate.
type Chain struct {
	transport.Transport

	ready func() error
}

// Ready blocks until the handshake on this chain completed.
func (c *Chain) Ready() error {
	if c.ready == nil {
		return nil
	}
	return c.ready()
}

// Dialer builds the per-URI chain, connected but not started.
type Dialer func(u *URI) (*Chain, error)

// NewTCPDialer returns the standard chain builder: TCP endpoint, wire
// format negotiator, inactivity monitor, response correlator, each
// link configured from the endpoint's URI options.
func NewTCPDialer() Dialer {
	return func(u *URI) (*Chain, error) {
		format := wire.NewFormat()
		if err := format.ApplyOptions(u.Options); err != nil {
			return nil, err
		}
		cfg, err := tcp.ParseConfig(u.Options)
		if err != nil {
			return nil, err
		}
		bottom, err := tcp.Connect(u.Address(), format, cfg)
		if err != nil {
			return nil, err
		}
		neg := transport.NewWireFormatNegotiator(bottom, format)
		mon := inactivity.NewMonitor(neg, format)
		corr := correlator.New(mon)
		return &Chain{Transport: corr, ready: neg.Negotiated}, nil
	}
}

// FailoverTransport is the top of the transport stack.
type FailoverTransport struct {
	worker.Worker

	log *log.Logger
	cfg *Config

	dialer Dialer

	uris     *URIPool
	updates  *URIPool
	priority *URIPool

	tracker *state.Tracker
	closer  *deferredCloser
	backups *BackupPool

	reconnectCh chan struct{}

	mu             sync.Mutex
	listener       transport.Listener
	connected      *Chain
	connectedURI   *URI
	connectedGate  chan struct{}
	gateClosed     bool
	firstConnect   bool
	wasInterrupted bool
	reconnectDelay time.Duration
	terminalErr    error
	started        bool
	closed         bool

	dupAudit *audit.MessageAudit
}

// New builds a failover transport over the given endpoint candidates.
// When priority backup is enabled, the first endpoint in uris is the
// priority endpoint and is pulled back aggressively.
func New(uris []*URI, cfg *Config, dialer Dialer) *FailoverTransport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if dialer == nil {
		dialer = NewTCPDialer()
	}
	f := &FailoverTransport{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "transport/failover",
		}),
		cfg:            cfg,
		dialer:         dialer,
		uris:           NewURIPool(uris),
		updates:        NewURIPool(nil),
		priority:       NewURIPool(nil),
		tracker:        state.NewTracker(cfg.TrackMessages, cfg.MaxCacheSize),
		closer:         newDeferredCloser(),
		reconnectCh:    make(chan struct{}, 1),
		connectedGate:  make(chan struct{}),
		firstConnect:   true,
		reconnectDelay: cfg.InitialReconnectDelay,
	}
	f.uris.SetRandomize(cfg.Randomize)
	if len(uris) > 0 && cfg.PriorityBackup {
		// The first configured endpoint is the preferred one.
		f.priority.AddURI(uris[0])
	}
	if cfg.Backup {
		f.backups = newBackupPool(f, cfg.BackupPoolSize, f.closer, f.uris, f.updates, f.priority)
	}
	return f
}

// NewFromURI builds a failover transport from a composite failover URI.
func NewFromURI(raw string) (*FailoverTransport, error) {
	uris, opts, err := ParseComposite(raw)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(opts)
	if err != nil {
		return nil, err
	}
	return New(uris, cfg, nil), nil
}

// SetDuplicateAudit installs a message audit consulted for inbound
// dispatches; duplicates the broker re-dispatched after a failover are
// then dropped instead of delivered twice.
func (f *FailoverTransport) SetDuplicateAudit(a *audit.MessageAudit) {
	f.mu.Lock()
	f.dupAudit = a
	f.mu.Unlock()
}

// Tracker exposes the replay state, chiefly to tests and diagnostics.
func (f *FailoverTransport) Tracker() *state.Tracker { return f.tracker }

func (f *FailoverTransport) dial(u *URI) (*Chain, error) {
	instrument.ReconnectAttempt()
	return f.dialer(u)
}

func (f *FailoverTransport) isConnectedTo(u *URI) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectedURI != nil && f.connectedURI.Equal(u)
}

func (f *FailoverTransport) isConnectedToPriority() bool {
	f.mu.Lock()
	u := f.connectedURI
	f.mu.Unlock()
	return u != nil && f.priority.Contains(u)
}

// Start spawns the reconnect worker; the first connect happens on it.
func (f *FailoverTransport) Start() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	if f.listener == nil {
		f.mu.Unlock()
		return fmt.Errorf("failover: %w: no listener installed", transport.ErrNotStarted)
	}
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.mu.Unlock()

	f.Go(f.reconnectWorker)
	if f.backups != nil {
		f.backups.Start()
	}
	f.pokeReconnect()
	return nil
}

// Stop is a no-op at this layer; the chain below keeps its link.
func (f *FailoverTransport) Stop() error { return nil }

// Close tears the whole stack down. Waiters blocked on the connect gate
// are released with ErrClosed.
func (f *FailoverTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.terminalErr == nil {
		f.terminalErr = transport.ErrClosed
	}
	connected := f.connected
	f.connected = nil
	f.connectedURI = nil
	f.closeGateLocked()
	f.mu.Unlock()

	f.Halt()
	if f.backups != nil {
		f.backups.Close()
	}
	if connected != nil {
		connected.Close()
	}
	f.closer.Close()
	return nil
}

// closeGateLocked releases everyone waiting on the connect gate; the
// gate closes at most once per open/close cycle. Callers hold f.mu.
func (f *FailoverTransport) closeGateLocked() {
	if !f.gateClosed {
		close(f.connectedGate)
		f.gateClosed = true
	}
}

// openGateLocked installs a fresh gate for the next interruption
// window. Callers hold f.mu.
func (f *FailoverTransport) openGateLocked() {
	f.connectedGate = make(chan struct{})
	f.gateClosed = false
}

func (f *FailoverTransport) pokeReconnect() {
	select {
	case f.reconnectCh <- struct{}{}:
	default:
	}
}

// Reconnect forces a voluntary reconnect, e.g. when a priority backup
// became available or the broker asked for a rebalance.
func (f *FailoverTransport) Reconnect(toPriority bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	old := f.connected
	oldURI := f.connectedURI
	if old != nil {
		f.connected = nil
		f.connectedURI = nil
		f.openGateLocked()
		f.wasInterrupted = true
	}
	listener := f.listener
	f.mu.Unlock()

	if old != nil {
		if toPriority {
			f.log.Debug("Voluntarily reconnecting to a priority endpoint")
		}
		if oldURI != nil {
			f.uris.AddURI(oldURI)
		}
		f.closer.Add(old)
		instrument.Interruption()
		if listener != nil {
			listener.TransportInterrupted()
		}
	}
	f.pokeReconnect()
}

func (f *FailoverTransport) reconnectWorker() {
	for {
		select {
		case <-f.HaltCh():
			return
		case <-f.reconnectCh:
		}
		f.mu.Lock()
		needed := !f.closed && f.connected == nil && f.terminalErr == nil
		f.mu.Unlock()
		if !needed {
			continue
		}
		f.doReconnect()
	}
}

// doReconnect runs connect attempts until a link is up or the attempt
// budget is exhausted.
func (f *FailoverTransport) doReconnect() {
	attempts := 0
	maxAttempts := f.cfg.MaxReconnectAttempts
	f.mu.Lock()
	if f.firstConnect && f.cfg.StartupMaxReconnectAttempts > 0 {
		maxAttempts = f.cfg.StartupMaxReconnectAttempts
	}
	f.mu.Unlock()

	var failures []*URI
	for {
		select {
		case <-f.HaltCh():
			return
		default:
		}

		if chain, uri := f.takeBackup(); chain != nil {
			if f.activate(chain, uri) {
				f.uris.AddURIs(failures)
				return
			}
			f.uris.AddURI(uri)
			attempts++
		} else {
			pool := f.uris
			if !f.updates.IsEmpty() {
				pool = f.updates
			}
			connectTo, ok := pool.GetURI()
			if !ok {
				// Pool drained this pass; return the failures and
				// retry the full candidate list after a backoff.
				pool.AddURIs(failures)
				failures = nil
				if !f.backoff() {
					return
				}
				continue
			}

			f.log.Debugf("Dialing %s", connectTo)
			chain, err := f.dial(connectTo)
			if err == nil && f.activate(chain, connectTo) {
				f.uris.AddURIs(failures)
				return
			}
			if err != nil {
				f.log.Warnf("Connect to %s failed: %v", connectTo, err)
			}
			failures = append(failures, connectTo)
			attempts++
		}

		if maxAttempts > 0 && attempts >= maxAttempts {
			f.uris.AddURIs(failures)
			f.giveUp(fmt.Errorf("%w (%d)", ErrConnectGivenUp, attempts))
			return
		}
		if !f.backoff() {
			return
		}
	}
}

// takeBackup pops a pre-connected chain if the backup pool has one.
func (f *FailoverTransport) takeBackup() (*Chain, *URI) {
	if f.backups == nil {
		return nil, nil
	}
	b := f.backups.GetBackup()
	if b == nil {
		return nil, nil
	}
	f.log.Debugf("Promoting backup for %s", b.URI())
	return &Chain{Transport: b.Transport()}, b.URI()
}

// activate wires a fresh chain in: listener, start, handshake, state
// replay, then the resume notification.
func (f *FailoverTransport) activate(chain *Chain, uri *URI) bool {
	chain.SetListener(f)
	if err := chain.Start(); err != nil {
		f.log.Warnf("Start on %s failed: %v", uri, err)
		f.closer.Add(chain)
		return false
	}
	if err := chain.Ready(); err != nil {
		f.log.Warnf("Wire format handshake with %s failed: %v", uri, err)
		f.closer.Add(chain)
		return false
	}
	if err := f.tracker.Restore(chain); err != nil {
		f.log.Warnf("State replay onto %s failed: %v", uri, err)
		f.closer.Add(chain)
		return false
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.closer.Add(chain)
		return false
	}
	f.connected = chain
	f.connectedURI = uri
	resumed := f.wasInterrupted
	f.wasInterrupted = false
	f.firstConnect = false
	f.reconnectDelay = f.cfg.InitialReconnectDelay
	f.closeGateLocked()
	listener := f.listener
	f.mu.Unlock()

	instrument.Reconnect()
	f.log.Infof("Connected to %s", uri)
	if resumed && listener != nil {
		listener.TransportResumed()
	}
	return true
}

// backoff sleeps the current reconnect delay, growing it per the
// configured multiplier. It returns false when halted.
func (f *FailoverTransport) backoff() bool {
	f.mu.Lock()
	delay := f.reconnectDelay
	if f.cfg.UseExponentialBackOff {
		f.reconnectDelay = time.Duration(float64(f.reconnectDelay) * f.cfg.BackOffMultiplier)
		if f.reconnectDelay > f.cfg.MaxReconnectDelay {
			f.reconnectDelay = f.cfg.MaxReconnectDelay
		}
	}
	f.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-f.HaltCh():
		return false
	}
}

// giveUp marks the transport terminally failed and releases everyone.
func (f *FailoverTransport) giveUp(err error) {
	f.mu.Lock()
	f.terminalErr = err
	f.closeGateLocked()
	listener := f.listener
	f.mu.Unlock()

	f.log.Errorf("Giving up reconnecting: %v", err)
	if listener != nil {
		listener.OnException(err)
	}
}

// awaitConnected blocks the caller until a link is up, the configured
// timeout expires, or the transport dies.
func (f *FailoverTransport) awaitConnected() (*Chain, error) {
	var timeoutCh <-chan time.Time
	if f.cfg.Timeout > 0 {
		timer := time.NewTimer(f.cfg.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	for {
		f.mu.Lock()
		if f.terminalErr != nil {
			err := f.terminalErr
			f.mu.Unlock()
			return nil, err
		}
		if f.connected != nil {
			chain := f.connected
			f.mu.Unlock()
			return chain, nil
		}
		if !f.started {
			f.mu.Unlock()
			return nil, transport.ErrNotStarted
		}
		gate := f.connectedGate
		f.mu.Unlock()

		select {
		case <-gate:
		case <-timeoutCh:
			return nil, transport.ErrInterrupted
		case <-f.HaltCh():
			return nil, transport.ErrClosed
		}
	}
}

// Oneway records the command in the replay state and forwards it on the
// live link, blocking through an interruption window.
func (f *FailoverTransport) Oneway(cmd commands.Command) error {
	if err := f.tracker.Track(cmd); err != nil {
		return err
	}
	chain, err := f.awaitConnected()
	if err != nil {
		return err
	}
	if err := chain.Oneway(cmd); err != nil {
		f.OnException(err)
		return err
	}
	return nil
}

// Request forwards to the live link's correlator.
func (f *FailoverTransport) Request(cmd commands.Command) (commands.ResponseCommand, error) {
	return f.RequestTimeout(cmd, 0)
}

func (f *FailoverTransport) RequestTimeout(cmd commands.Command, timeout time.Duration) (commands.ResponseCommand, error) {
	if err := f.tracker.Track(cmd); err != nil {
		return nil, err
	}
	chain, err := f.awaitConnected()
	if err != nil {
		return nil, err
	}
	return chain.RequestTimeout(cmd, timeout)
}

func (f *FailoverTransport) AsyncRequest(cmd commands.Command, cb transport.ResponseCallback) (*transport.FutureResponse, error) {
	if err := f.tracker.Track(cmd); err != nil {
		return nil, err
	}
	chain, err := f.awaitConnected()
	if err != nil {
		return nil, err
	}
	return chain.AsyncRequest(cmd, cb)
}

func (f *FailoverTransport) SetListener(l transport.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *FailoverTransport) Listener() transport.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// OnCommand receives the live chain's upward traffic.
func (f *FailoverTransport) OnCommand(cmd commands.Command) {
	switch c := cmd.(type) {
	case *commands.ConnectionControl:
		f.handleConnectionControl(c)
	case *commands.MessageDispatch:
		f.tracker.TrackDispatch(c)
		f.mu.Lock()
		dup := f.dupAudit
		f.mu.Unlock()
		if dup != nil && c.Message != nil && dup.IsDuplicate(c.Message.MessageID) {
			f.log.Debugf("Dropping duplicate dispatch %s", c.Message.MessageID)
			return
		}
	}
	if l := f.Listener(); l != nil {
		l.OnCommand(cmd)
	}
}

// handleConnectionControl folds broker-pushed endpoint updates into the
// update pool, which overrides the configured list while non-empty.
func (f *FailoverTransport) handleConnectionControl(c *commands.ConnectionControl) {
	if c.ReconnectTo != "" {
		var fresh []*URI
		for _, part := range strings.Split(c.ReconnectTo, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			u, err := ParseURI(part)
			if err != nil {
				f.log.Warnf("Ignoring bad broker-pushed uri %q: %v", part, err)
				continue
			}
			fresh = append(fresh, u)
		}
		if len(fresh) > 0 {
			f.updates.Clear()
			f.updates.AddURIs(fresh)
			f.log.Infof("Broker updated the endpoint list: %d entries", len(fresh))
		}
	}
	if c.RebalanceConnection {
		f.Reconnect(false)
	}
}

// OnException is the failure entry point for the live chain: tear the
// chain down off-thread, announce the interruption once, and set the
// reconnect worker going.
func (f *FailoverTransport) OnException(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	old := f.connected
	if old == nil {
		// Already reconnecting; nothing further to announce.
		f.mu.Unlock()
		return
	}
	oldURI := f.connectedURI
	f.connected = nil
	f.connectedURI = nil
	f.openGateLocked()
	f.wasInterrupted = true
	listener := f.listener
	f.mu.Unlock()

	if oldURI != nil {
		f.uris.AddURI(oldURI)
	}
	f.log.Warnf("Transport failed, initiating failover: %v", err)
	f.closer.Add(old)
	instrument.Interruption()
	if listener != nil {
		listener.TransportInterrupted()
	}
	f.pokeReconnect()
}

// TransportInterrupted and TransportResumed never originate below this
// layer; the failover transport is their source.
func (f *FailoverTransport) TransportInterrupted() {}
func (f *FailoverTransport) TransportResumed()     {}
