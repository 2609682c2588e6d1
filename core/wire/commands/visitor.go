// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

// Visitor is the closed dispatch surface over the command set. The
// state replay machinery and upper-layer demultiplexers implement it;
// the state package provides an adapter with ignore defaults and the
// sub-dispatches for TransactionInfo and RemoveInfo.
type Visitor interface {
	ProcessWireFormatInfo(info *WireFormatInfo) error
	ProcessBrokerInfo(info *BrokerInfo) error
	ProcessAddConnection(info *ConnectionInfo) error
	ProcessAddSession(info *SessionInfo) error
	ProcessAddProducer(info *ProducerInfo) error
	ProcessAddConsumer(info *ConsumerInfo) error
	ProcessRemoveInfo(info *RemoveInfo) error
	ProcessAddDestination(info *DestinationInfo) error
	ProcessRemoveSubscription(info *RemoveSubscriptionInfo) error
	ProcessMessage(msg *Message) error
	ProcessMessageAck(ack *MessageAck) error
	ProcessMessagePull(pull *MessagePull) error
	ProcessMessageDispatch(dispatch *MessageDispatch) error
	ProcessMessageDispatchNotification(n *MessageDispatchNotification) error
	ProcessProducerAck(ack *ProducerAck) error
	ProcessTransactionInfo(info *TransactionInfo) error
	ProcessKeepAliveInfo(info *KeepAliveInfo) error
	ProcessShutdownInfo(info *ShutdownInfo) error
	ProcessResponse(resp *Response) error
	ProcessExceptionResponse(resp *ExceptionResponse) error
	ProcessConnectionControl(ctrl *ConnectionControl) error
	ProcessConsumerControl(ctrl *ConsumerControl) error
	ProcessConnectionError(cerr *ConnectionError) error
	ProcessControlCommand(cmd *ControlCommand) error
	ProcessReplayCommand(cmd *ReplayCommand) error
	ProcessFlushCommand(cmd *FlushCommand) error
}

func (c *WireFormatInfo) Visit(v Visitor) error   { return v.ProcessWireFormatInfo(c) }
func (c *BrokerInfo) Visit(v Visitor) error       { return v.ProcessBrokerInfo(c) }
func (c *ConnectionInfo) Visit(v Visitor) error   { return v.ProcessAddConnection(c) }
func (c *SessionInfo) Visit(v Visitor) error      { return v.ProcessAddSession(c) }
func (c *ProducerInfo) Visit(v Visitor) error     { return v.ProcessAddProducer(c) }
func (c *ConsumerInfo) Visit(v Visitor) error     { return v.ProcessAddConsumer(c) }
func (c *RemoveInfo) Visit(v Visitor) error       { return v.ProcessRemoveInfo(c) }
func (c *DestinationInfo) Visit(v Visitor) error  { return v.ProcessAddDestination(c) }
func (c *RemoveSubscriptionInfo) Visit(v Visitor) error {
	return v.ProcessRemoveSubscription(c)
}
func (c *Message) Visit(v Visitor) error         { return v.ProcessMessage(c) }
func (c *MessageAck) Visit(v Visitor) error      { return v.ProcessMessageAck(c) }
func (c *MessagePull) Visit(v Visitor) error     { return v.ProcessMessagePull(c) }
func (c *MessageDispatch) Visit(v Visitor) error { return v.ProcessMessageDispatch(c) }
func (c *MessageDispatchNotification) Visit(v Visitor) error {
	return v.ProcessMessageDispatchNotification(c)
}
func (c *ProducerAck) Visit(v Visitor) error       { return v.ProcessProducerAck(c) }
func (c *TransactionInfo) Visit(v Visitor) error   { return v.ProcessTransactionInfo(c) }
func (c *KeepAliveInfo) Visit(v Visitor) error     { return v.ProcessKeepAliveInfo(c) }
func (c *ShutdownInfo) Visit(v Visitor) error      { return v.ProcessShutdownInfo(c) }
func (c *Response) Visit(v Visitor) error          { return v.ProcessResponse(c) }
func (c *ExceptionResponse) Visit(v Visitor) error { return v.ProcessExceptionResponse(c) }
func (c *ConnectionControl) Visit(v Visitor) error { return v.ProcessConnectionControl(c) }
func (c *ConsumerControl) Visit(v Visitor) error   { return v.ProcessConsumerControl(c) }
func (c *ConnectionError) Visit(v Visitor) error   { return v.ProcessConnectionError(c) }
func (c *ControlCommand) Visit(v Visitor) error    { return v.ProcessControlCommand(c) }
func (c *ReplayCommand) Visit(v Visitor) error     { return v.ProcessReplayCommand(c) }
func (c *FlushCommand) Visit(v Visitor) error      { return v.ProcessFlushCommand(c) }
