// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failover

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/eapache/channels.v1"

	"github.com/apexmq/apexmq/core/wire/commands"
	"github.com/apexmq/apexmq/core/worker"
	"github.com/apexmq/apexmq/internal/instrument"
	"github.com/apexmq/apexmq/transport"
)

// deferredCloser tears transports down off the failure path. Closing a
// socket can block on I/O, so failure callbacks queue the victim here
// and a dedicated worker drains the queue. The unbounded channel keeps
// Add from ever blocking a reader callback.
type deferredCloser struct {
	worker.Worker

	log *log.Logger
	ch  *channels.InfiniteChannel
}

func newDeferredCloser() *deferredCloser {
	c := &deferredCloser{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "failover/closer",
		}),
		ch: channels.NewInfiniteChannel(),
	}
	c.Go(c.drain)
	return c
}

func (c *deferredCloser) drain() {
	for {
		select {
		case <-c.HaltCh():
			return
		case v, ok := <-c.ch.Out():
			if !ok {
				return
			}
			t := v.(transport.Transport)
			if err := t.Close(); err != nil {
				c.log.Debugf("Deferred close failed: %v", err)
			}
		}
	}
}

// Add schedules a transport for closing; it never blocks.
func (c *deferredCloser) Add(t transport.Transport) {
	c.ch.In() <- t
}

func (c *deferredCloser) Close() {
	c.ch.Close()
	c.Halt()
}

// BackupTransport is a pre-connected spare chain, tagged with its
// source URI and priority. It listens on its own chain so a backup that
// dies while parked is detected and replaced.
type BackupTransport struct {
	pool *BackupPool

	uri      *URI
	chain    transport.Transport
	priority bool

	mu     sync.Mutex
	failed bool
}

// URI returns the endpoint this backup is connected to.
func (b *BackupTransport) URI() *URI { return b.uri }

// Transport returns the parked chain.
func (b *BackupTransport) Transport() transport.Transport { return b.chain }

// IsPriority reports whether the backup came from the priority pool.
func (b *BackupTransport) IsPriority() bool { return b.priority }

// OnCommand drops traffic arriving on a parked backup; nothing above it
// is wired yet.
func (b *BackupTransport) OnCommand(cmd commands.Command) {}

// OnException marks the backup dead and hands it back to the pool.
func (b *BackupTransport) OnException(err error) {
	b.mu.Lock()
	already := b.failed
	b.failed = true
	b.mu.Unlock()
	if already {
		return
	}
	b.pool.onBackupFailure(b)
}

func (b *BackupTransport) TransportInterrupted() {}
func (b *BackupTransport) TransportResumed()     {}

// BackupPool keeps up to poolSize pre-connected spare chains so a
// failover can swap links without paying connect latency. A background
// filler replenishes the pool whenever a backup is taken or dies.
type BackupPool struct {
	worker.Worker

	log    *log.Logger
	parent *FailoverTransport
	closer *deferredCloser

	uris     *URIPool
	updates  *URIPool
	priority *URIPool

	poolSize int

	wakeCh chan struct{}

	mu              sync.Mutex
	enabled         bool
	backups         []*BackupTransport
	priorityBackups int
}

func newBackupPool(parent *FailoverTransport, poolSize int, closer *deferredCloser, uris, updates, priority *URIPool) *BackupPool {
	p := &BackupPool{
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "failover/backups",
		}),
		parent:   parent,
		closer:   closer,
		uris:     uris,
		updates:  updates,
		priority: priority,
		poolSize: poolSize,
		wakeCh:   make(chan struct{}, 1),
	}
	return p
}

// Start enables the pool and spawns the filler.
func (p *BackupPool) Start() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
	p.Go(p.fillWorker)
	p.wakeup()
}

// Close disables the pool and schedules every parked chain for close.
func (p *BackupPool) Close() {
	p.mu.Lock()
	p.enabled = false
	backups := p.backups
	p.backups = nil
	p.priorityBackups = 0
	p.mu.Unlock()
	for _, b := range backups {
		p.closer.Add(b.chain)
	}
	p.Halt()
	instrument.SetBackupsReady(0)
}

func (p *BackupPool) wakeup() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func (p *BackupPool) fillWorker() {
	for {
		select {
		case <-p.HaltCh():
			return
		case <-p.wakeCh:
		}
		p.fill()
	}
}

// fill mirrors the connect loop: prefer broker-pushed updates, take
// candidates until the pool is full or the URIs run out, park priority
// chains at the head, and kick the parent when a priority backup shows
// up while it is connected to a lesser endpoint.
func (p *BackupPool) fill() {
	var failures []*URI
	wokeParent := false

	for {
		p.mu.Lock()
		enabled := p.enabled
		full := len(p.backups) >= p.poolSize
		p.mu.Unlock()
		if !enabled || full || wokeParent {
			break
		}

		pool := p.uris
		if !p.updates.IsEmpty() {
			pool = p.updates
		}
		connectTo, ok := pool.GetURI()
		if !ok {
			break
		}
		if p.parent.isConnectedTo(connectTo) {
			failures = append(failures, connectTo)
			continue
		}

		backup := &BackupTransport{
			pool:     p,
			uri:      connectTo,
			priority: p.priority.Contains(connectTo),
		}

		chain, err := p.parent.dial(connectTo)
		if err != nil {
			p.log.Debugf("Backup connect to %s failed: %v", connectTo, err)
			failures = append(failures, connectTo)
			continue
		}
		chain.SetListener(backup)
		if err := chain.Start(); err != nil {
			p.log.Debugf("Backup start on %s failed: %v", connectTo, err)
			p.closer.Add(chain)
			failures = append(failures, connectTo)
			continue
		}
		backup.chain = chain

		p.mu.Lock()
		if backup.priority {
			p.priorityBackups++
			p.backups = append([]*BackupTransport{backup}, p.backups...)
			if !p.parent.isConnectedToPriority() {
				wokeParent = true
			}
		} else {
			p.backups = append(p.backups, backup)
		}
		instrument.SetBackupsReady(len(p.backups))
		p.mu.Unlock()

		p.log.Debugf("Backup ready on %s (priority %v)", connectTo, backup.priority)
	}

	pool := p.uris
	if !p.updates.IsEmpty() {
		pool = p.updates
	}
	pool.AddURIs(failures)

	if wokeParent {
		p.parent.Reconnect(true)
	}
}

// GetBackup pops the best parked backup, if any, and triggers a refill.
func (p *BackupPool) GetBackup() *BackupTransport {
	p.mu.Lock()
	var b *BackupTransport
	if len(p.backups) > 0 {
		b = p.backups[0]
		p.backups = p.backups[1:]
		if b.priority && p.priorityBackups > 0 {
			p.priorityBackups--
		}
	}
	instrument.SetBackupsReady(len(p.backups))
	p.mu.Unlock()
	p.wakeup()
	return b
}

// IsPriorityBackupAvailable reports whether a priority chain is parked.
func (p *BackupPool) IsPriorityBackupAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priorityBackups > 0
}

// onBackupFailure removes the failed backup, returns its URI to the
// pool, and schedules its chain for the deferred closer. The priority
// count is decremented exactly once per removed priority backup.
func (p *BackupPool) onBackupFailure(failed *BackupTransport) {
	p.mu.Lock()
	for i, b := range p.backups {
		if b == failed {
			p.backups = append(p.backups[:i], p.backups[i+1:]...)
			if b.priority && p.priorityBackups > 0 {
				p.priorityBackups--
			}
			break
		}
	}
	instrument.SetBackupsReady(len(p.backups))
	p.mu.Unlock()

	p.uris.AddURI(failed.uri)
	if failed.chain != nil {
		p.closer.Add(failed.chain)
	}
	p.wakeup()
}
