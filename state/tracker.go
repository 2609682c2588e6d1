// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package state

import (
	"fmt"
	"sync"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// CommandSink receives the replayed command stream; the failover layer
// passes the freshly connected chain.
type CommandSink interface {
	Oneway(cmd commands.Command) error
}

type connectionState struct {
	info *commands.ConnectionInfo

	sessionOrder []string
	sessions     map[string]*commands.SessionInfo

	producerOrder []string
	producers     map[string]*commands.ProducerInfo

	consumerOrder []string
	consumers     map[string]*commands.ConsumerInfo

	tempDestinations []*commands.DestinationInfo

	transactionOrder []string
	transactions     map[string]*commands.TransactionInfo

	dispatched map[string][]*commands.MessageDispatch
}

func newConnectionState(info *commands.ConnectionInfo) *connectionState {
	return &connectionState{
		info:         info,
		sessions:     make(map[string]*commands.SessionInfo),
		producers:    make(map[string]*commands.ProducerInfo),
		consumers:    make(map[string]*commands.ConsumerInfo),
		transactions: make(map[string]*commands.TransactionInfo),
		dispatched:   make(map[string][]*commands.MessageDispatch),
	}
}

// Tracker records the logical state a command stream establishes so it
// can be replayed, in deterministic order, onto a replacement link.
type Tracker struct {
	CommandVisitorAdapter

	mu sync.Mutex

	connectionOrder []string
	connections     map[string]*connectionState

	trackMessages bool
	maxCacheSize  int
	messageCache  []*commands.Message
}

// NewTracker returns a tracker. When trackMessages is set, sent
// messages are cached (bounded by maxCacheSize) and re-sent after the
// state commands on restore.
func NewTracker(trackMessages bool, maxCacheSize int) *Tracker {
	return &Tracker{
		connections:   make(map[string]*connectionState),
		trackMessages: trackMessages,
		maxCacheSize:  maxCacheSize,
	}
}

// Track folds one outbound command into the tracked state.
func (t *Tracker) Track(cmd commands.Command) error {
	return cmd.Visit(t)
}

// TrackDispatch folds one inbound dispatch into the unacknowledged set
// of its consumer.
func (t *Tracker) TrackDispatch(d *commands.MessageDispatch) {
	if d.ConsumerID == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[d.ConsumerID.ConnectionID]
	if cs == nil {
		return
	}
	key := d.ConsumerID.String()
	cs.dispatched[key] = append(cs.dispatched[key], d)
}

// UnackedDispatches returns the dispatches recorded for a consumer that
// no acknowledgement has covered yet.
func (t *Tracker) UnackedDispatches(id *commands.ConsumerID) []*commands.MessageDispatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[id.ConnectionID]
	if cs == nil {
		return nil
	}
	out := cs.dispatched[id.String()]
	return append([]*commands.MessageDispatch(nil), out...)
}

func (t *Tracker) ProcessAddConnection(info *commands.ConnectionInfo) error {
	if info.ConnectionID == nil {
		return fmt.Errorf("state: ConnectionInfo without connection id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := info.ConnectionID.Value
	if _, ok := t.connections[key]; !ok {
		t.connectionOrder = append(t.connectionOrder, key)
	}
	t.connections[key] = newConnectionState(info)
	return nil
}

func (t *Tracker) ProcessAddSession(info *commands.SessionInfo) error {
	if info.SessionID == nil {
		return fmt.Errorf("state: SessionInfo without session id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[info.SessionID.ConnectionID]
	if cs == nil {
		return nil
	}
	key := info.SessionID.String()
	if _, ok := cs.sessions[key]; !ok {
		cs.sessionOrder = append(cs.sessionOrder, key)
	}
	cs.sessions[key] = info
	return nil
}

func (t *Tracker) ProcessAddProducer(info *commands.ProducerInfo) error {
	if info.ProducerID == nil {
		return fmt.Errorf("state: ProducerInfo without producer id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[info.ProducerID.ConnectionID]
	if cs == nil {
		return nil
	}
	key := info.ProducerID.String()
	if _, ok := cs.producers[key]; !ok {
		cs.producerOrder = append(cs.producerOrder, key)
	}
	cs.producers[key] = info
	return nil
}

func (t *Tracker) ProcessAddConsumer(info *commands.ConsumerInfo) error {
	if info.ConsumerID == nil {
		return fmt.Errorf("state: ConsumerInfo without consumer id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[info.ConsumerID.ConnectionID]
	if cs == nil {
		return nil
	}
	key := info.ConsumerID.String()
	if _, ok := cs.consumers[key]; !ok {
		cs.consumerOrder = append(cs.consumerOrder, key)
	}
	cs.consumers[key] = info
	return nil
}

func (t *Tracker) ProcessAddDestination(info *commands.DestinationInfo) error {
	if info.ConnectionID == nil || info.Destination == nil {
		return nil
	}
	if !info.Destination.IsTemporary() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[info.ConnectionID.Value]
	if cs == nil {
		return nil
	}
	switch info.OperationType {
	case commands.DestinationAdd:
		cs.tempDestinations = append(cs.tempDestinations, info)
	case commands.DestinationRemove:
		for i, d := range cs.tempDestinations {
			if d.Destination.String() == info.Destination.String() {
				cs.tempDestinations = append(cs.tempDestinations[:i], cs.tempDestinations[i+1:]...)
				break
			}
		}
	}
	return nil
}

// ProcessRemoveInfo retires state by the target id's type; removing a
// parent removes all of its children.
func (t *Tracker) ProcessRemoveInfo(info *commands.RemoveInfo) error {
	return DispatchRemove(t, info)
}

func (t *Tracker) ProcessRemoveConnection(id *commands.ConnectionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.connections[id.Value]; !ok {
		return nil
	}
	delete(t.connections, id.Value)
	for i, key := range t.connectionOrder {
		if key == id.Value {
			t.connectionOrder = append(t.connectionOrder[:i], t.connectionOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (t *Tracker) ProcessRemoveSession(id *commands.SessionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[id.ConnectionID]
	if cs == nil {
		return nil
	}
	key := id.String()
	delete(cs.sessions, key)
	cs.sessionOrder = removeKey(cs.sessionOrder, key)

	// Children of the session go with it.
	for pkey, p := range cs.producers {
		if p.ProducerID.SessionID == id.Value {
			delete(cs.producers, pkey)
			cs.producerOrder = removeKey(cs.producerOrder, pkey)
		}
	}
	for ckey, c := range cs.consumers {
		if c.ConsumerID.SessionID == id.Value {
			delete(cs.consumers, ckey)
			cs.consumerOrder = removeKey(cs.consumerOrder, ckey)
			delete(cs.dispatched, ckey)
		}
	}
	return nil
}

func (t *Tracker) ProcessRemoveProducer(id *commands.ProducerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[id.ConnectionID]
	if cs == nil {
		return nil
	}
	key := id.String()
	delete(cs.producers, key)
	cs.producerOrder = removeKey(cs.producerOrder, key)
	return nil
}

func (t *Tracker) ProcessRemoveConsumer(id *commands.ConsumerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[id.ConnectionID]
	if cs == nil {
		return nil
	}
	key := id.String()
	delete(cs.consumers, key)
	cs.consumerOrder = removeKey(cs.consumerOrder, key)
	delete(cs.dispatched, key)
	return nil
}

// ProcessTransactionInfo folds the transaction stream by sub-type:
// BEGIN opens tracked state, the terminal operations retire it.
func (t *Tracker) ProcessTransactionInfo(info *commands.TransactionInfo) error {
	return DispatchTransaction(t, info)
}

func (t *Tracker) transactionState(info *commands.TransactionInfo) (*connectionState, string) {
	if info.ConnectionID == nil || info.TransactionID == nil {
		return nil, ""
	}
	cs := t.connections[info.ConnectionID.Value]
	if cs == nil {
		return nil, ""
	}
	return cs, txKey(info.TransactionID)
}

func txKey(id commands.TransactionID) string {
	return fmt.Sprintf("%v", id)
}

func (t *Tracker) ProcessBeginTransaction(info *commands.TransactionInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, key := t.transactionState(info)
	if cs == nil {
		return nil
	}
	if _, ok := cs.transactions[key]; !ok {
		cs.transactionOrder = append(cs.transactionOrder, key)
	}
	cs.transactions[key] = info
	return nil
}

func (t *Tracker) removeTransaction(info *commands.TransactionInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, key := t.transactionState(info)
	if cs == nil {
		return nil
	}
	delete(cs.transactions, key)
	cs.transactionOrder = removeKey(cs.transactionOrder, key)
	return nil
}

func (t *Tracker) ProcessCommitTransactionOnePhase(info *commands.TransactionInfo) error {
	return t.removeTransaction(info)
}

func (t *Tracker) ProcessCommitTransactionTwoPhase(info *commands.TransactionInfo) error {
	return t.removeTransaction(info)
}

func (t *Tracker) ProcessRollbackTransaction(info *commands.TransactionInfo) error {
	return t.removeTransaction(info)
}

func (t *Tracker) ProcessForgetTransaction(info *commands.TransactionInfo) error {
	return t.removeTransaction(info)
}

func (t *Tracker) ProcessPrepareTransaction(info *commands.TransactionInfo) error { return nil }
func (t *Tracker) ProcessEndTransaction(info *commands.TransactionInfo) error     { return nil }
func (t *Tracker) ProcessRecoverTransactions(info *commands.TransactionInfo) error {
	return nil
}

// ProcessMessage caches sent messages for replay when message tracking
// is on.
func (t *Tracker) ProcessMessage(msg *commands.Message) error {
	if !t.trackMessages {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageCache = append(t.messageCache, msg)
	if t.maxCacheSize > 0 && len(t.messageCache) > t.maxCacheSize {
		t.messageCache = t.messageCache[len(t.messageCache)-t.maxCacheSize:]
	}
	return nil
}

// ProcessMessageAck retires covered dispatches from the unacked set.
func (t *Tracker) ProcessMessageAck(ack *commands.MessageAck) error {
	if ack.ConsumerID == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.connections[ack.ConsumerID.ConnectionID]
	if cs == nil {
		return nil
	}
	key := ack.ConsumerID.String()
	pending := cs.dispatched[key]
	n := int(ack.MessageCount)
	if n >= len(pending) {
		delete(cs.dispatched, key)
	} else {
		cs.dispatched[key] = pending[n:]
	}
	return nil
}

// Restore replays the tracked state onto sink in deterministic order:
// per connection its ConnectionInfo, temporary destinations, sessions,
// producers, consumers, then a BEGIN for every open transaction; cached
// messages follow after all state commands.
func (t *Tracker) Restore(sink CommandSink) error {
	t.mu.Lock()
	var replay []commands.Command
	for _, ckey := range t.connectionOrder {
		cs := t.connections[ckey]
		replay = append(replay, cs.info)
		for _, d := range cs.tempDestinations {
			replay = append(replay, d)
		}
		for _, key := range cs.sessionOrder {
			replay = append(replay, cs.sessions[key])
		}
		for _, key := range cs.producerOrder {
			replay = append(replay, cs.producers[key])
		}
		for _, key := range cs.consumerOrder {
			replay = append(replay, cs.consumers[key])
		}
		for _, key := range cs.transactionOrder {
			replay = append(replay, cs.transactions[key])
		}
	}
	for _, m := range t.messageCache {
		replay = append(replay, m)
	}
	t.mu.Unlock()

	for _, cmd := range replay {
		if err := sink.Oneway(cmd); err != nil {
			return err
		}
	}
	return nil
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
