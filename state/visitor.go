// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package state tracks the logical state carried by a command stream —
// connections, sessions, producers, consumers, open transactions — so
// the failover layer can replay it onto a fresh link, and provides the
// command visitor the replay path dispatches through.
package state

import (
	"fmt"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// ErrBadDiscriminator marks an illegal sub-type on a dispatching
// command; it is fatal to the link as a protocol error.
type ErrBadDiscriminator struct {
	Command string
	Value   byte
}

func (e *ErrBadDiscriminator) Error() string {
	return fmt.Sprintf("state: illegal %s discriminator %d", e.Command, e.Value)
}

// CommandVisitorAdapter implements commands.Visitor with
// ignore-and-forward defaults: every slot returns nil. Embed it and
// override the slots of interest.
type CommandVisitorAdapter struct{}

func (CommandVisitorAdapter) ProcessWireFormatInfo(*commands.WireFormatInfo) error { return nil }
func (CommandVisitorAdapter) ProcessBrokerInfo(*commands.BrokerInfo) error         { return nil }
func (CommandVisitorAdapter) ProcessAddConnection(*commands.ConnectionInfo) error  { return nil }
func (CommandVisitorAdapter) ProcessAddSession(*commands.SessionInfo) error        { return nil }
func (CommandVisitorAdapter) ProcessAddProducer(*commands.ProducerInfo) error      { return nil }
func (CommandVisitorAdapter) ProcessAddConsumer(*commands.ConsumerInfo) error      { return nil }
func (CommandVisitorAdapter) ProcessRemoveInfo(*commands.RemoveInfo) error         { return nil }
func (CommandVisitorAdapter) ProcessAddDestination(*commands.DestinationInfo) error {
	return nil
}
func (CommandVisitorAdapter) ProcessRemoveSubscription(*commands.RemoveSubscriptionInfo) error {
	return nil
}
func (CommandVisitorAdapter) ProcessMessage(*commands.Message) error         { return nil }
func (CommandVisitorAdapter) ProcessMessageAck(*commands.MessageAck) error   { return nil }
func (CommandVisitorAdapter) ProcessMessagePull(*commands.MessagePull) error { return nil }
func (CommandVisitorAdapter) ProcessMessageDispatch(*commands.MessageDispatch) error {
	return nil
}
func (CommandVisitorAdapter) ProcessMessageDispatchNotification(*commands.MessageDispatchNotification) error {
	return nil
}
func (CommandVisitorAdapter) ProcessProducerAck(*commands.ProducerAck) error { return nil }
func (CommandVisitorAdapter) ProcessTransactionInfo(*commands.TransactionInfo) error {
	return nil
}
func (CommandVisitorAdapter) ProcessKeepAliveInfo(*commands.KeepAliveInfo) error { return nil }
func (CommandVisitorAdapter) ProcessShutdownInfo(*commands.ShutdownInfo) error   { return nil }
func (CommandVisitorAdapter) ProcessResponse(*commands.Response) error           { return nil }
func (CommandVisitorAdapter) ProcessExceptionResponse(*commands.ExceptionResponse) error {
	return nil
}
func (CommandVisitorAdapter) ProcessConnectionControl(*commands.ConnectionControl) error {
	return nil
}
func (CommandVisitorAdapter) ProcessConsumerControl(*commands.ConsumerControl) error {
	return nil
}
func (CommandVisitorAdapter) ProcessConnectionError(*commands.ConnectionError) error {
	return nil
}
func (CommandVisitorAdapter) ProcessControlCommand(*commands.ControlCommand) error { return nil }
func (CommandVisitorAdapter) ProcessReplayCommand(*commands.ReplayCommand) error   { return nil }
func (CommandVisitorAdapter) ProcessFlushCommand(*commands.FlushCommand) error     { return nil }

// TransactionVisitor receives the sub-dispatch of TransactionInfo by
// its type discriminator.
type TransactionVisitor interface {
	ProcessBeginTransaction(info *commands.TransactionInfo) error
	ProcessPrepareTransaction(info *commands.TransactionInfo) error
	ProcessCommitTransactionOnePhase(info *commands.TransactionInfo) error
	ProcessCommitTransactionTwoPhase(info *commands.TransactionInfo) error
	ProcessEndTransaction(info *commands.TransactionInfo) error
	ProcessRollbackTransaction(info *commands.TransactionInfo) error
	ProcessRecoverTransactions(info *commands.TransactionInfo) error
	ProcessForgetTransaction(info *commands.TransactionInfo) error
}

// DispatchTransaction routes a TransactionInfo by its type field; any
// other discriminator is a fatal protocol error.
func DispatchTransaction(v TransactionVisitor, info *commands.TransactionInfo) error {
	switch info.Type {
	case commands.TransactionBegin:
		return v.ProcessBeginTransaction(info)
	case commands.TransactionPrepare:
		return v.ProcessPrepareTransaction(info)
	case commands.TransactionCommitOnePhase:
		return v.ProcessCommitTransactionOnePhase(info)
	case commands.TransactionCommitTwoPhase:
		return v.ProcessCommitTransactionTwoPhase(info)
	case commands.TransactionEnd:
		return v.ProcessEndTransaction(info)
	case commands.TransactionRollback:
		return v.ProcessRollbackTransaction(info)
	case commands.TransactionRecover:
		return v.ProcessRecoverTransactions(info)
	case commands.TransactionForget:
		return v.ProcessForgetTransaction(info)
	}
	return &ErrBadDiscriminator{Command: "TransactionInfo", Value: info.Type}
}

// RemoveVisitor receives the sub-dispatch of RemoveInfo by the type tag
// of its target id.
type RemoveVisitor interface {
	ProcessRemoveConnection(id *commands.ConnectionID) error
	ProcessRemoveSession(id *commands.SessionID) error
	ProcessRemoveProducer(id *commands.ProducerID) error
	ProcessRemoveConsumer(id *commands.ConsumerID) error
}

// DispatchRemove routes a RemoveInfo by its target's type tag; any
// other target is a fatal protocol error.
func DispatchRemove(v RemoveVisitor, info *commands.RemoveInfo) error {
	switch id := info.ObjectID.(type) {
	case *commands.ConnectionID:
		return v.ProcessRemoveConnection(id)
	case *commands.SessionID:
		return v.ProcessRemoveSession(id)
	case *commands.ProducerID:
		return v.ProcessRemoveProducer(id)
	case *commands.ConsumerID:
		return v.ProcessRemoveConsumer(id)
	}
	var typ byte
	if info.ObjectID != nil {
		typ = info.ObjectID.DataStructureType()
	}
	return &ErrBadDiscriminator{Command: "RemoveInfo", Value: typ}
}
