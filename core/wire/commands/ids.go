// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

import (
	"fmt"
)

// The identifier quadruple. Identifiers form a hierarchy rooted at the
// connection: removing a parent implies removal of all of its children.

// ConnectionID identifies a single logical broker connection.
type ConnectionID struct {
	Value string
}

func (c *ConnectionID) DataStructureType() byte { return ConnectionIDType }

func (c *ConnectionID) Walk(w Walker, version int) {
	w.String(&c.Value)
}

func (c *ConnectionID) String() string { return c.Value }

// SessionID identifies a session within a connection.
type SessionID struct {
	ConnectionID string
	Value        int64
}

func (s *SessionID) DataStructureType() byte { return SessionIDType }

func (s *SessionID) Walk(w Walker, version int) {
	w.String(&s.ConnectionID)
	w.Long(&s.Value)
}

func (s *SessionID) String() string {
	return fmt.Sprintf("%s:%d", s.ConnectionID, s.Value)
}

// ProducerID identifies a producer within a session.
type ProducerID struct {
	ConnectionID string
	Value        int64
	SessionID    int64
}

func (p *ProducerID) DataStructureType() byte { return ProducerIDType }

func (p *ProducerID) Walk(w Walker, version int) {
	w.String(&p.ConnectionID)
	w.Long(&p.Value)
	w.Long(&p.SessionID)
}

func (p *ProducerID) String() string {
	return fmt.Sprintf("%s:%d:%d", p.ConnectionID, p.SessionID, p.Value)
}

// ParentSessionID returns the id of the session owning this producer.
func (p *ProducerID) ParentSessionID() *SessionID {
	return &SessionID{ConnectionID: p.ConnectionID, Value: p.SessionID}
}

// ConsumerID identifies a consumer within a session.
type ConsumerID struct {
	ConnectionID string
	SessionID    int64
	Value        int64
}

func (c *ConsumerID) DataStructureType() byte { return ConsumerIDType }

func (c *ConsumerID) Walk(w Walker, version int) {
	w.String(&c.ConnectionID)
	w.Long(&c.SessionID)
	w.Long(&c.Value)
}

func (c *ConsumerID) String() string {
	return fmt.Sprintf("%s:%d:%d", c.ConnectionID, c.SessionID, c.Value)
}

// ParentSessionID returns the id of the session owning this consumer.
func (c *ConsumerID) ParentSessionID() *SessionID {
	return &SessionID{ConnectionID: c.ConnectionID, Value: c.SessionID}
}

// MessageID identifies a single message by producer and sequence.
type MessageID struct {
	ProducerID         *ProducerID
	ProducerSequenceID int64
	BrokerSequenceID   int64
}

func (m *MessageID) DataStructureType() byte { return MessageIDType }

func (m *MessageID) Walk(w Walker, version int) {
	walkNested(w, &m.ProducerID)
	w.Long(&m.ProducerSequenceID)
	w.Long(&m.BrokerSequenceID)
}

func (m *MessageID) String() string {
	if m.ProducerID == nil {
		return fmt.Sprintf(":%d", m.ProducerSequenceID)
	}
	return fmt.Sprintf("%s:%d", m.ProducerID.String(), m.ProducerSequenceID)
}

// BrokerID identifies a broker in a network of brokers.
type BrokerID struct {
	Value string
}

func (b *BrokerID) DataStructureType() byte { return BrokerIDType }

func (b *BrokerID) Walk(w Walker, version int) {
	w.String(&b.Value)
}

func (b *BrokerID) String() string { return b.Value }

// TransactionID is either a LocalTransactionID or an XATransactionID.
type TransactionID interface {
	DataStructure
	IsLocalTransaction() bool
}

// LocalTransactionID identifies a broker-local transaction.
type LocalTransactionID struct {
	Value        int64
	ConnectionID *ConnectionID
}

func (l *LocalTransactionID) DataStructureType() byte { return LocalTransactionIDType }
func (l *LocalTransactionID) IsLocalTransaction() bool { return true }

func (l *LocalTransactionID) Walk(w Walker, version int) {
	w.Long(&l.Value)
	walkNested(w, &l.ConnectionID)
}

func (l *LocalTransactionID) String() string {
	if l.ConnectionID == nil {
		return fmt.Sprintf("TX:%d", l.Value)
	}
	return fmt.Sprintf("TX:%s:%d", l.ConnectionID.Value, l.Value)
}

// XATransactionID identifies a distributed transaction branch.
type XATransactionID struct {
	FormatID             int32
	GlobalTransactionID  []byte
	BranchQualifier      []byte
}

func (x *XATransactionID) DataStructureType() byte { return XATransactionIDType }
func (x *XATransactionID) IsLocalTransaction() bool { return false }

func (x *XATransactionID) Walk(w Walker, version int) {
	w.Int32(&x.FormatID)
	w.Bytes(&x.GlobalTransactionID)
	w.Bytes(&x.BranchQualifier)
}

func (x *XATransactionID) String() string {
	return fmt.Sprintf("XID:%d:%x:%x", x.FormatID, x.GlobalTransactionID, x.BranchQualifier)
}
