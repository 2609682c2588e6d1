// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package audit implements the per-producer duplicate window: a bounded
// LRU of rolling bitmaps over producer sequence ids, used to detect and
// drop messages the broker re-dispatched after a failover or
// redelivery.
package audit

import (
	"container/list"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/apexmq/apexmq/core/wire/commands"
)

const (
	// DefaultWindowSize is the audit depth in bits per tracked
	// producer.
	DefaultWindowSize = 2048

	// MaximumProducerCount is the default bound on tracked producers;
	// exceeding it prunes the least recently used.
	MaximumProducerCount = 64
)

// MessageAudit answers isDuplicate / rollback / isInOrder over message
// ids. All methods are safe for concurrent use; a single mutex guards
// the LRU and every bitmap mutation, and operations are O(1) amortised.
type MessageAudit struct {
	mu sync.Mutex

	auditDepth   int
	maxProducers int

	order   *list.List               // most recently used at front
	entries map[string]*list.Element // seed -> element holding *window
}

type window struct {
	seed string
	bits *bitArray
}

// New returns an audit with the default window size and producer count.
func New() *MessageAudit {
	return NewWithDepth(DefaultWindowSize, MaximumProducerCount)
}

// NewWithDepth returns an audit tracking up to maxProducers producers,
// each over an auditDepth bit window.
func NewWithDepth(auditDepth, maxProducers int) *MessageAudit {
	return &MessageAudit{
		auditDepth:   auditDepth,
		maxProducers: maxProducers,
		order:        list.New(),
		entries:      make(map[string]*list.Element),
	}
}

// AuditDepth returns the window size in bits.
func (a *MessageAudit) AuditDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auditDepth
}

// SetAuditDepth changes the window size for windows created from now
// on; existing windows keep their size.
func (a *MessageAudit) SetAuditDepth(depth int) {
	a.mu.Lock()
	a.auditDepth = depth
	a.mu.Unlock()
}

// MaximumNumberOfProducersToTrack returns the producer bound.
func (a *MessageAudit) MaximumNumberOfProducersToTrack() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxProducers
}

// SetMaximumNumberOfProducersToTrack changes the producer bound;
// shrinking it prunes least recently used producers immediately.
func (a *MessageAudit) SetMaximumNumberOfProducersToTrack(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxProducers = n
	for a.order.Len() > n {
		a.evictLocked()
	}
}

func (a *MessageAudit) evictLocked() {
	back := a.order.Back()
	if back == nil {
		return
	}
	a.order.Remove(back)
	delete(a.entries, back.Value.(*window).seed)
}

// lookupLocked returns the window for seed, creating it when insert is
// set, and marks it most recently used.
func (a *MessageAudit) lookupLocked(seed string, insert bool) *window {
	if el, ok := a.entries[seed]; ok {
		a.order.MoveToFront(el)
		return el.Value.(*window)
	}
	if !insert {
		return nil
	}
	w := &window{seed: seed, bits: newBitArray(a.auditDepth)}
	a.entries[seed] = a.order.PushFront(w)
	for a.order.Len() > a.maxProducers {
		a.evictLocked()
	}
	return w
}

// scale folds sequence ids beyond the 32 bit range back into it.
func scale(index int64) int {
	if index > math.MaxInt32 {
		index -= math.MaxInt32
	}
	return int(index)
}

// IsDuplicate tests and sets the bit for the message's sequence id:
// false the first time a given id is seen, true on every replay until
// the bit is rolled back or the producer's window is evicted.
func (a *MessageAudit) IsDuplicate(id *commands.MessageID) bool {
	if id == nil || id.ProducerID == nil {
		return false
	}
	return a.isDuplicate(id.ProducerID.String(), id.ProducerSequenceID)
}

// IsDuplicateString is IsDuplicate over the textual "seed:sequence"
// message id form.
func (a *MessageAudit) IsDuplicateString(id string) bool {
	seed, seq, ok := splitID(id)
	if !ok {
		return false
	}
	return a.isDuplicate(seed, seq)
}

func (a *MessageAudit) isDuplicate(seed string, index int64) bool {
	if seed == "" || index < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.lookupLocked(seed, true)
	i := scale(index)
	if w.bits.get(i) {
		return true
	}
	w.bits.set(i, true)
	return false
}

// Rollback clears the bit for the message id so the same id reads as
// fresh again, for messages handed back after a failed delivery.
func (a *MessageAudit) Rollback(id *commands.MessageID) {
	if id == nil || id.ProducerID == nil {
		return
	}
	a.rollback(id.ProducerID.String(), id.ProducerSequenceID)
}

// RollbackString is Rollback over the textual message id form.
func (a *MessageAudit) RollbackString(id string) {
	if seed, seq, ok := splitID(id); ok {
		a.rollback(seed, seq)
	}
}

func (a *MessageAudit) rollback(seed string, index int64) {
	if seed == "" || index < 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if w := a.lookupLocked(seed, false); w != nil {
		w.bits.set(scale(index), false)
	}
}

// IsInOrder reports whether the id carries the next expected sequence
// for its producer rather than a reorder.
func (a *MessageAudit) IsInOrder(id *commands.MessageID) bool {
	if id == nil || id.ProducerID == nil {
		return false
	}
	return a.isInOrder(id.ProducerID.String(), id.ProducerSequenceID)
}

// IsInOrderString is IsInOrder over the textual message id form.
func (a *MessageAudit) IsInOrderString(id string) bool {
	seed, seq, ok := splitID(id)
	if !ok {
		return true
	}
	return a.isInOrder(seed, seq)
}

func (a *MessageAudit) isInOrder(seed string, index int64) bool {
	if seed == "" || index < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.lookupLocked(seed, true)
	return w.bits.length()-1 == scale(index)
}

// LastSeqID returns the highest bit index set in the producer's window,
// or -1 when the producer is untracked. Sequence ids wrap modulo the
// audit depth, so this equals the highest sequence id seen only while
// every id seen is below the depth.
func (a *MessageAudit) LastSeqID(id *commands.ProducerID) int64 {
	if id == nil {
		return -1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if w := a.lookupLocked(id.String(), false); w != nil {
		return int64(w.bits.length() - 1)
	}
	return -1
}

// Clear forgets all tracked producers.
func (a *MessageAudit) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order.Init()
	a.entries = make(map[string]*list.Element)
}

// splitID parses the "seed:sequence" textual message id form; the seed
// itself may contain colons.
func splitID(id string) (string, int64, bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], seq, true
}
