// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

// ConnectionInfo announces a new connection to the broker.
type ConnectionInfo struct {
	BaseCommand

	ConnectionID      *ConnectionID
	ClientID          string
	Password          string
	UserName          string
	BrokerPath        []*BrokerID
	BrokerMasterConnector bool
	Manageable        bool
	ClientMaster      bool
	FaultTolerant     bool
	FailoverReconnect bool
	ClientIP          string
}

func (c *ConnectionInfo) DataStructureType() byte { return ConnectionInfoType }

func (c *ConnectionInfo) Walk(w Walker, version int) {
	c.walkBase(w, version)
	walkNested(w, &c.ConnectionID)
	w.String(&c.ClientID)
	w.String(&c.Password)
	w.String(&c.UserName)
	walkNestedSlice(w, &c.BrokerPath)
	w.Bool(&c.BrokerMasterConnector)
	w.Bool(&c.Manageable)
	if version >= 2 {
		w.Bool(&c.ClientMaster)
	}
	if version >= 6 {
		w.Bool(&c.FaultTolerant)
		w.Bool(&c.FailoverReconnect)
	}
	if version >= 8 {
		w.String(&c.ClientIP)
	}
}

// SessionInfo announces a new session within a connection.
type SessionInfo struct {
	BaseCommand

	SessionID *SessionID
}

func (s *SessionInfo) DataStructureType() byte { return SessionInfoType }

func (s *SessionInfo) Walk(w Walker, version int) {
	s.walkBase(w, version)
	walkNested(w, &s.SessionID)
}

// ConsumerInfo announces a new consumer and its delivery policy.
type ConsumerInfo struct {
	BaseCommand

	ConsumerID             *ConsumerID
	Browser                bool
	Destination            *Destination
	PrefetchSize           int32
	MaximumPendingMessageLimit int32
	DispatchAsync          bool
	Selector               string
	SubscriptionName       string
	NoLocal                bool
	Exclusive              bool
	Retroactive            bool
	Priority               byte
	BrokerPath             []*BrokerID
	NetworkSubscription    bool
	OptimizedAcknowledge   bool
	NoRangeAcks            bool
	NetworkConsumerPath    []*ConsumerID
}

func (c *ConsumerInfo) DataStructureType() byte { return ConsumerInfoType }

func (c *ConsumerInfo) Walk(w Walker, version int) {
	c.walkBase(w, version)
	walkNested(w, &c.ConsumerID)
	w.Bool(&c.Browser)
	walkNested(w, &c.Destination)
	w.Int32(&c.PrefetchSize)
	w.Int32(&c.MaximumPendingMessageLimit)
	w.Bool(&c.DispatchAsync)
	w.String(&c.Selector)
	w.String(&c.SubscriptionName)
	w.Bool(&c.NoLocal)
	w.Bool(&c.Exclusive)
	w.Bool(&c.Retroactive)
	w.Byte(&c.Priority)
	walkNestedSlice(w, &c.BrokerPath)
	w.Bool(&c.NetworkSubscription)
	w.Bool(&c.OptimizedAcknowledge)
	w.Bool(&c.NoRangeAcks)
	if version >= 4 {
		walkNestedSlice(w, &c.NetworkConsumerPath)
	}
}

// ProducerInfo announces a new producer.
type ProducerInfo struct {
	BaseCommand

	ProducerID    *ProducerID
	Destination   *Destination
	BrokerPath    []*BrokerID
	DispatchAsync bool
	WindowSize    int32
}

func (p *ProducerInfo) DataStructureType() byte { return ProducerInfoType }

func (p *ProducerInfo) Walk(w Walker, version int) {
	p.walkBase(w, version)
	walkNested(w, &p.ProducerID)
	walkNested(w, &p.Destination)
	walkNestedSlice(w, &p.BrokerPath)
	if version >= 2 {
		w.Bool(&p.DispatchAsync)
	}
	if version >= 3 {
		w.Int32(&p.WindowSize)
	}
}

// BrokerInfo describes a broker; peers exchange these in a network of
// brokers, and a broker sends one to each client after the wire format
// handshake.
type BrokerInfo struct {
	BaseCommand

	BrokerID                    *BrokerID
	BrokerURL                   string
	PeerBrokerInfos             []*BrokerInfo
	BrokerName                  string
	SlaveBroker                 bool
	MasterBroker                bool
	FaultTolerantConfiguration  bool
	DuplexConnection            bool
	NetworkConnection           bool
	ConnectionID                int64
	BrokerUploadURL             string
	NetworkProperties           string
}

func (b *BrokerInfo) DataStructureType() byte { return BrokerInfoType }

func (b *BrokerInfo) Walk(w Walker, version int) {
	b.walkBase(w, version)
	walkNested(w, &b.BrokerID)
	w.String(&b.BrokerURL)
	walkNestedSlice(w, &b.PeerBrokerInfos)
	w.String(&b.BrokerName)
	w.Bool(&b.SlaveBroker)
	w.Bool(&b.MasterBroker)
	w.Bool(&b.FaultTolerantConfiguration)
	if version >= 2 {
		w.Bool(&b.DuplexConnection)
		w.Bool(&b.NetworkConnection)
		w.Long(&b.ConnectionID)
	}
	if version >= 3 {
		w.String(&b.BrokerUploadURL)
		w.String(&b.NetworkProperties)
	}
}

// RemoveInfo retires the identified resource; removing a parent id
// implies removal of all of its children.
type RemoveInfo struct {
	BaseCommand

	ObjectID                DataStructure
	LastDeliveredSequenceID int64
}

func (r *RemoveInfo) DataStructureType() byte { return RemoveInfoType }

func (r *RemoveInfo) Walk(w Walker, version int) {
	r.walkBase(w, version)
	w.Nested(&r.ObjectID)
	if version >= 5 {
		w.Long(&r.LastDeliveredSequenceID)
	}
}

// DestinationInfo creates or destroys a destination on the broker.
type DestinationInfo struct {
	BaseCommand

	ConnectionID  *ConnectionID
	Destination   *Destination
	OperationType byte
	Timeout       int64
	BrokerPath    []*BrokerID
}

// Destination operation types.
const (
	DestinationAdd    byte = 0
	DestinationRemove byte = 1
)

func (d *DestinationInfo) DataStructureType() byte { return DestinationInfoType }

func (d *DestinationInfo) Walk(w Walker, version int) {
	d.walkBase(w, version)
	walkNested(w, &d.ConnectionID)
	walkNested(w, &d.Destination)
	w.Byte(&d.OperationType)
	w.Long(&d.Timeout)
	walkNestedSlice(w, &d.BrokerPath)
}

// RemoveSubscriptionInfo deletes a durable topic subscription.
type RemoveSubscriptionInfo struct {
	BaseCommand

	ConnectionID     *ConnectionID
	SubscriptionName string
	ClientID         string
}

func (r *RemoveSubscriptionInfo) DataStructureType() byte { return RemoveSubscriptionInfoType }

func (r *RemoveSubscriptionInfo) Walk(w Walker, version int) {
	r.walkBase(w, version)
	walkNested(w, &r.ConnectionID)
	w.String(&r.SubscriptionName)
	w.String(&r.ClientID)
}
