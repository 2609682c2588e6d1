// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

// Message is an application message. The body and the marshalled
// property map are opaque to the transport core; body typing is the
// concern of the layer above.
type Message struct {
	BaseCommand

	ProducerID            *ProducerID
	Destination           *Destination
	TransactionID         TransactionID
	OriginalDestination   *Destination
	MessageID             *MessageID
	OriginalTransactionID TransactionID
	GroupID               string
	GroupSequence         int32
	CorrelationID         string
	Persistent            bool
	Expiration            int64
	Priority              byte
	ReplyTo               *Destination
	Timestamp             int64
	Type                  string
	Content               []byte
	MarshalledProperties  []byte
	DataStructure         DataStructure
	TargetConsumerID      *ConsumerID
	Compressed            bool
	RedeliveryCounter     int32
	BrokerPath            []*BrokerID
	Arrival               int64
	UserID                string
	ReceivedByDFBridge    bool
	Droppable             bool
	Cluster               []*BrokerID
	BrokerInTime          int64
	BrokerOutTime         int64
	GroupFirstForConsumer bool

	marshaledForm []byte
}

func (m *Message) DataStructureType() byte { return MessageType }

func (m *Message) Walk(w Walker, version int) {
	m.walkBase(w, version)
	walkNested(w, &m.ProducerID)
	walkNested(w, &m.Destination)
	walkNested(w, &m.TransactionID)
	walkNested(w, &m.OriginalDestination)
	walkNested(w, &m.MessageID)
	walkNested(w, &m.OriginalTransactionID)
	w.String(&m.GroupID)
	w.Int32(&m.GroupSequence)
	w.String(&m.CorrelationID)
	w.Bool(&m.Persistent)
	w.Long(&m.Expiration)
	w.Byte(&m.Priority)
	walkNested(w, &m.ReplyTo)
	w.Long(&m.Timestamp)
	w.String(&m.Type)
	w.Bytes(&m.Content)
	w.Bytes(&m.MarshalledProperties)
	w.Nested(&m.DataStructure)
	walkNested(w, &m.TargetConsumerID)
	w.Bool(&m.Compressed)
	w.Int32(&m.RedeliveryCounter)
	walkNestedSlice(w, &m.BrokerPath)
	w.Long(&m.Arrival)
	w.String(&m.UserID)
	w.Bool(&m.ReceivedByDFBridge)
	if version >= 2 {
		w.Bool(&m.Droppable)
	}
	if version >= 3 {
		walkNestedSlice(w, &m.Cluster)
		w.Long(&m.BrokerInTime)
		w.Long(&m.BrokerOutTime)
	}
	if version >= 10 {
		w.Bool(&m.GroupFirstForConsumer)
	}
}

// MarshaledForm implements MarshalAware: a relay can carry the original
// encoded bytes of a message it never had to decode.
func (m *Message) MarshaledForm() []byte { return m.marshaledForm }

// SetMarshaledForm implements MarshalAware.
func (m *Message) SetMarshaledForm(seq []byte) { m.marshaledForm = seq }

// IsExpired reports whether the message's expiration lies before now,
// given now in milliseconds since the epoch.
func (m *Message) IsExpired(nowMillis int64) bool {
	return m.Expiration != 0 && nowMillis > m.Expiration
}

// MessageDispatch is a broker-initiated delivery to a consumer.
type MessageDispatch struct {
	BaseCommand

	ConsumerID        *ConsumerID
	Destination       *Destination
	Message           *Message
	RedeliveryCounter int32
}

func (m *MessageDispatch) DataStructureType() byte { return MessageDispatchType }

func (m *MessageDispatch) Walk(w Walker, version int) {
	m.walkBase(w, version)
	walkNested(w, &m.ConsumerID)
	walkNested(w, &m.Destination)
	walkNested(w, &m.Message)
	w.Int32(&m.RedeliveryCounter)
}

// Message acknowledgement types.
const (
	AckTypeDelivered   byte = 0
	AckTypePoison      byte = 1
	AckTypeConsumed    byte = 2
	AckTypeRedelivered byte = 3
	AckTypeIndividual  byte = 4
	AckTypeUnmatched   byte = 5
	AckTypeExpired     byte = 6
)

// MessageAck acknowledges one or a range of dispatched messages.
type MessageAck struct {
	BaseCommand

	Destination    *Destination
	TransactionID  TransactionID
	ConsumerID     *ConsumerID
	AckType        byte
	FirstMessageID *MessageID
	LastMessageID  *MessageID
	MessageCount   int32
	PoisonCause    *BrokerError
}

func (m *MessageAck) DataStructureType() byte { return MessageAckType }

func (m *MessageAck) Walk(w Walker, version int) {
	m.walkBase(w, version)
	walkNested(w, &m.Destination)
	walkNested(w, &m.TransactionID)
	walkNested(w, &m.ConsumerID)
	w.Byte(&m.AckType)
	walkNested(w, &m.FirstMessageID)
	walkNested(w, &m.LastMessageID)
	w.Int32(&m.MessageCount)
	if version >= 7 {
		w.Throwable(&m.PoisonCause)
	}
}

// MessagePull requests a single dispatch on a zero-prefetch consumer.
type MessagePull struct {
	BaseCommand

	ConsumerID    *ConsumerID
	Destination   *Destination
	Timeout       int64
	CorrelationID string
	MessageID     *MessageID
}

func (m *MessagePull) DataStructureType() byte { return MessagePullType }

func (m *MessagePull) Walk(w Walker, version int) {
	m.walkBase(w, version)
	walkNested(w, &m.ConsumerID)
	walkNested(w, &m.Destination)
	w.Long(&m.Timeout)
	if version >= 3 {
		w.String(&m.CorrelationID)
		walkNested(w, &m.MessageID)
	}
}

// MessageDispatchNotification tells a slave broker that a dispatch
// happened on the master.
type MessageDispatchNotification struct {
	BaseCommand

	ConsumerID         *ConsumerID
	Destination        *Destination
	DeliverySequenceID int64
	MessageID          *MessageID
}

func (m *MessageDispatchNotification) DataStructureType() byte {
	return MessageDispatchNotificationType
}

func (m *MessageDispatchNotification) Walk(w Walker, version int) {
	m.walkBase(w, version)
	walkNested(w, &m.ConsumerID)
	walkNested(w, &m.Destination)
	w.Long(&m.DeliverySequenceID)
	walkNested(w, &m.MessageID)
}

// ProducerAck grants a producer more window after flow control.
type ProducerAck struct {
	BaseCommand

	ProducerID *ProducerID
	Size       int32
}

func (p *ProducerAck) DataStructureType() byte { return ProducerAckType }

func (p *ProducerAck) Walk(w Walker, version int) {
	p.walkBase(w, version)
	walkNested(w, &p.ProducerID)
	w.Int32(&p.Size)
}
