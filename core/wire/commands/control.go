// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

// Wire format magic, sent ahead of every WireFormatInfo.
var WireFormatMagic = []byte{'A', 'c', 't', 'i', 'v', 'e', 'M', 'Q'}

// WireFormatInfo carries each peer's proposed wire format parameters.
// After the handshake both peers operate on the element-wise minimum of
// the versions and the AND of the capability flags.
type WireFormatInfo struct {
	BaseCommand

	Magic                            []byte
	Version                          int32
	StackTraceEnabled                bool
	CacheEnabled                     bool
	TCPNoDelayEnabled                bool
	TightEncodingEnabled             bool
	SizePrefixDisabled               bool
	MaxInactivityDuration            int64
	MaxInactivityDurationInitalDelay int64
	MaxFrameSize                     int64
}

func (w *WireFormatInfo) DataStructureType() byte { return WireFormatInfoType }

func (wf *WireFormatInfo) Walk(w Walker, version int) {
	w.Bytes(&wf.Magic)
	w.Int32(&wf.Version)
	w.Bool(&wf.StackTraceEnabled)
	w.Bool(&wf.CacheEnabled)
	w.Bool(&wf.TCPNoDelayEnabled)
	w.Bool(&wf.TightEncodingEnabled)
	w.Bool(&wf.SizePrefixDisabled)
	w.Long(&wf.MaxInactivityDuration)
	w.Long(&wf.MaxInactivityDurationInitalDelay)
	w.Long(&wf.MaxFrameSize)
}

// KeepAliveInfo is the zero-cost frame exchanged to satisfy inactivity
// monitoring; the receiver treats it as a no-op.
type KeepAliveInfo struct {
	BaseCommand
}

func (k *KeepAliveInfo) DataStructureType() byte { return KeepAliveInfoType }

func (k *KeepAliveInfo) Walk(w Walker, version int) {
	k.walkBase(w, version)
}

// ShutdownInfo announces orderly connection shutdown.
type ShutdownInfo struct {
	BaseCommand
}

func (s *ShutdownInfo) DataStructureType() byte { return ShutdownInfoType }

func (s *ShutdownInfo) Walk(w Walker, version int) {
	s.walkBase(w, version)
}

// FlushCommand asks the peer to flush buffered dispatches.
type FlushCommand struct {
	BaseCommand
}

func (f *FlushCommand) DataStructureType() byte { return FlushCommandType }

func (f *FlushCommand) Walk(w Walker, version int) {
	f.walkBase(w, version)
}

// ControlCommand carries an opaque textual control verb.
type ControlCommand struct {
	BaseCommand

	Command string
}

func (c *ControlCommand) DataStructureType() byte { return ControlCommandType }

func (c *ControlCommand) Walk(w Walker, version int) {
	c.walkBase(w, version)
	w.String(&c.Command)
}

// ReplayCommand asks the peer to replay a range of commands lost on an
// unreliable link.
type ReplayCommand struct {
	BaseCommand

	FirstNakNumber int32
	LastNakNumber  int32
}

func (r *ReplayCommand) DataStructureType() byte { return ReplayCommandType }

func (r *ReplayCommand) Walk(w Walker, version int) {
	r.walkBase(w, version)
	w.Int32(&r.FirstNakNumber)
	w.Int32(&r.LastNakNumber)
}

// ConnectionControl is a broker directive steering a whole connection,
// including the rebalance/reconnect hints consumed by the failover
// layer.
type ConnectionControl struct {
	BaseCommand

	Close                bool
	Exit                 bool
	FaultTolerant        bool
	Resume               bool
	Suspend              bool
	ConnectedBrokers     string
	ReconnectTo          string
	RebalanceConnection  bool
}

func (c *ConnectionControl) DataStructureType() byte { return ConnectionControlType }

func (c *ConnectionControl) Walk(w Walker, version int) {
	c.walkBase(w, version)
	w.Bool(&c.Close)
	w.Bool(&c.Exit)
	w.Bool(&c.FaultTolerant)
	w.Bool(&c.Resume)
	w.Bool(&c.Suspend)
	if version >= 6 {
		w.String(&c.ConnectedBrokers)
		w.String(&c.ReconnectTo)
		w.Bool(&c.RebalanceConnection)
	}
}

// ConsumerControl is a broker directive steering a single consumer.
type ConsumerControl struct {
	BaseCommand

	Destination *Destination
	Close       bool
	ConsumerID  *ConsumerID
	Prefetch    int32
	Flush       bool
	Start       bool
	Stop        bool
}

func (c *ConsumerControl) DataStructureType() byte { return ConsumerControlType }

func (c *ConsumerControl) Walk(w Walker, version int) {
	c.walkBase(w, version)
	if version >= 6 {
		walkNested(w, &c.Destination)
	}
	w.Bool(&c.Close)
	walkNested(w, &c.ConsumerID)
	w.Int32(&c.Prefetch)
	if version >= 2 {
		w.Bool(&c.Flush)
		w.Bool(&c.Start)
		w.Bool(&c.Stop)
	}
}

// ConnectionError is a broker-pushed asynchronous fault.
type ConnectionError struct {
	BaseCommand

	Exception    *BrokerError
	ConnectionID *ConnectionID
}

func (c *ConnectionError) DataStructureType() byte { return ConnectionErrorType }

func (c *ConnectionError) Walk(w Walker, version int) {
	c.walkBase(w, version)
	w.Throwable(&c.Exception)
	walkNested(w, &c.ConnectionID)
}

// Transaction operation sub-types carried by TransactionInfo.
const (
	TransactionBegin       byte = 0
	TransactionPrepare     byte = 1
	TransactionCommitOnePhase byte = 2
	TransactionCommitTwoPhase byte = 3
	TransactionEnd         byte = 4
	TransactionRollback    byte = 5
	TransactionRecover     byte = 6
	TransactionForget      byte = 7
)

// TransactionInfo drives the transaction state machine on the broker.
type TransactionInfo struct {
	BaseCommand

	ConnectionID  *ConnectionID
	TransactionID TransactionID
	Type          byte
}

func (t *TransactionInfo) DataStructureType() byte { return TransactionInfoType }

func (t *TransactionInfo) Walk(w Walker, version int) {
	t.walkBase(w, version)
	walkNested(w, &t.ConnectionID)
	walkNested(w, &t.TransactionID)
	w.Byte(&t.Type)
}
