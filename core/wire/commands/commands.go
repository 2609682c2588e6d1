// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package commands defines the OpenWire command set and the field layout
// walker that the wire codec interprets.
//
// Every command describes its wire layout exactly once, in its Walk
// method. The codec drives Walk with different Walker implementations
// for each of its passes (tight size computation, tight write, tight
// read, loose write, loose read), so the layout can never drift between
// encode and decode. Fields added in later OpenWire revisions are gated
// on the version the codec negotiated.
package commands

// Data structure type tags, one byte on the wire. Type 0 is the null
// sentinel and never has a registered constructor.
const (
	NullType                        byte = 0
	WireFormatInfoType              byte = 1
	BrokerInfoType                  byte = 2
	ConnectionInfoType              byte = 3
	SessionInfoType                 byte = 4
	ConsumerInfoType                byte = 5
	ProducerInfoType                byte = 6
	TransactionInfoType             byte = 7
	DestinationInfoType             byte = 8
	RemoveSubscriptionInfoType      byte = 9
	KeepAliveInfoType               byte = 10
	ShutdownInfoType                byte = 11
	RemoveInfoType                  byte = 12
	ControlCommandType              byte = 14
	FlushCommandType                byte = 15
	ConnectionErrorType             byte = 16
	ConsumerControlType             byte = 17
	ConnectionControlType           byte = 18
	ProducerAckType                 byte = 19
	MessagePullType                 byte = 20
	MessageDispatchType             byte = 21
	MessageAckType                  byte = 22
	MessageType                     byte = 23
	ResponseType                    byte = 30
	ExceptionResponseType           byte = 31
	DataResponseType                byte = 32
	IntegerResponseType             byte = 34
	ReplayCommandType               byte = 65
	MessageDispatchNotificationType byte = 90
	QueueType                       byte = 100
	TopicType                       byte = 101
	TempQueueType                   byte = 102
	TempTopicType                   byte = 103
	MessageIDType                   byte = 110
	LocalTransactionIDType          byte = 111
	XATransactionIDType             byte = 112
	ConnectionIDType                byte = 120
	SessionIDType                   byte = 121
	ConsumerIDType                  byte = 122
	ProducerIDType                  byte = 123
	BrokerIDType                    byte = 124
)

// Walker visits the fields of a DataStructure in wire order. The codec
// supplies one implementation per marshalling pass; implementations
// record their own error state, so the visitation methods do not return
// errors and become no-ops after the first failure.
type Walker interface {
	Bool(v *bool)
	Byte(v *byte)
	Int32(v *int32)
	Long(v *int64)
	String(v *string)
	Bytes(v *[]byte)
	Nested(v *DataStructure)
	NestedArray(v *[]DataStructure)
	Throwable(v **BrokerError)
}

// DataStructure is any value with an OpenWire type tag.
type DataStructure interface {
	DataStructureType() byte

	// Walk visits every field in wire order. The version is the
	// negotiated OpenWire revision; fields introduced later than it
	// must not be visited.
	Walk(w Walker, version int)
}

// MarshalAware is implemented by structures that can carry their own
// pre-serialised form, recorded by a second presence bit in the tight
// boolean stream so the decoder slurps the opaque block instead of
// walking the field layout.
type MarshalAware interface {
	MarshaledForm() []byte
	SetMarshaledForm(seq []byte)
}

// Command is a top-level protocol PDU.
type Command interface {
	DataStructure

	CommandID() int32
	SetCommandID(id int32)
	IsResponseRequired() bool
	SetResponseRequired(v bool)
	IsResponse() bool

	Visit(v Visitor) error
}

// BaseCommand carries the header fields shared by every command.
// Embedding types inherit the Command accessors and the header portion
// of the wire layout via walkBase.
type BaseCommand struct {
	CmdID            int32
	ResponseRequired bool
}

func (b *BaseCommand) CommandID() int32          { return b.CmdID }
func (b *BaseCommand) SetCommandID(id int32)     { b.CmdID = id }
func (b *BaseCommand) IsResponseRequired() bool  { return b.ResponseRequired }
func (b *BaseCommand) SetResponseRequired(v bool) { b.ResponseRequired = v }
func (b *BaseCommand) IsResponse() bool          { return false }

func (b *BaseCommand) walkBase(w Walker, version int) {
	w.Int32(&b.CmdID)
	w.Bool(&b.ResponseRequired)
}

// walkNested visits a concretely typed nested structure field.
func walkNested[T interface {
	DataStructure
	comparable
}](w Walker, v *T) {
	var zero T
	var ds DataStructure
	if *v != zero {
		ds = *v
	}
	w.Nested(&ds)
	if ds == nil {
		*v = zero
	} else {
		*v = ds.(T)
	}
}

// walkNestedSlice visits a slice of concretely typed nested structures.
func walkNestedSlice[T interface {
	DataStructure
	comparable
}](w Walker, v *[]T) {
	var arr []DataStructure
	if *v != nil {
		arr = make([]DataStructure, len(*v))
		for i, e := range *v {
			arr[i] = e
		}
	}
	w.NestedArray(&arr)
	if arr == nil {
		*v = nil
		return
	}
	out := make([]T, len(arr))
	for i, e := range arr {
		out[i] = e.(T)
	}
	*v = out
}

var constructors = map[byte]func() DataStructure{
	WireFormatInfoType:              func() DataStructure { return new(WireFormatInfo) },
	BrokerInfoType:                  func() DataStructure { return new(BrokerInfo) },
	ConnectionInfoType:              func() DataStructure { return new(ConnectionInfo) },
	SessionInfoType:                 func() DataStructure { return new(SessionInfo) },
	ConsumerInfoType:                func() DataStructure { return new(ConsumerInfo) },
	ProducerInfoType:                func() DataStructure { return new(ProducerInfo) },
	TransactionInfoType:             func() DataStructure { return new(TransactionInfo) },
	DestinationInfoType:             func() DataStructure { return new(DestinationInfo) },
	RemoveSubscriptionInfoType:      func() DataStructure { return new(RemoveSubscriptionInfo) },
	KeepAliveInfoType:               func() DataStructure { return new(KeepAliveInfo) },
	ShutdownInfoType:                func() DataStructure { return new(ShutdownInfo) },
	RemoveInfoType:                  func() DataStructure { return new(RemoveInfo) },
	ControlCommandType:              func() DataStructure { return new(ControlCommand) },
	FlushCommandType:                func() DataStructure { return new(FlushCommand) },
	ConnectionErrorType:             func() DataStructure { return new(ConnectionError) },
	ConsumerControlType:             func() DataStructure { return new(ConsumerControl) },
	ConnectionControlType:           func() DataStructure { return new(ConnectionControl) },
	ProducerAckType:                 func() DataStructure { return new(ProducerAck) },
	MessagePullType:                 func() DataStructure { return new(MessagePull) },
	MessageDispatchType:             func() DataStructure { return new(MessageDispatch) },
	MessageAckType:                  func() DataStructure { return new(MessageAck) },
	MessageType:                     func() DataStructure { return new(Message) },
	ResponseType:                    func() DataStructure { return new(Response) },
	ExceptionResponseType:           func() DataStructure { return new(ExceptionResponse) },
	DataResponseType:                func() DataStructure { return new(DataResponse) },
	IntegerResponseType:             func() DataStructure { return new(IntegerResponse) },
	ReplayCommandType:               func() DataStructure { return new(ReplayCommand) },
	MessageDispatchNotificationType: func() DataStructure { return new(MessageDispatchNotification) },
	QueueType:                       func() DataStructure { return &Destination{Kind: QueueType} },
	TopicType:                       func() DataStructure { return &Destination{Kind: TopicType} },
	TempQueueType:                   func() DataStructure { return &Destination{Kind: TempQueueType} },
	TempTopicType:                   func() DataStructure { return &Destination{Kind: TempTopicType} },
	MessageIDType:                   func() DataStructure { return new(MessageID) },
	LocalTransactionIDType:          func() DataStructure { return new(LocalTransactionID) },
	XATransactionIDType:             func() DataStructure { return new(XATransactionID) },
	ConnectionIDType:                func() DataStructure { return new(ConnectionID) },
	SessionIDType:                   func() DataStructure { return new(SessionID) },
	ConsumerIDType:                  func() DataStructure { return new(ConsumerID) },
	ProducerIDType:                  func() DataStructure { return new(ProducerID) },
	BrokerIDType:                    func() DataStructure { return new(BrokerID) },
}

// New constructs an empty DataStructure for the given type tag, or nil
// if the tag is unknown.
func New(typ byte) DataStructure {
	ctor, ok := constructors[typ]
	if !ok {
		return nil
	}
	return ctor()
}

// Register installs a constructor for a type tag. It exists for tests
// that exercise codec paths with synthetic structures; the standard
// command set is registered statically.
func Register(typ byte, ctor func() DataStructure) {
	constructors[typ] = ctor
}
