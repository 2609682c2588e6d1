// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

// Destination names a queue or topic, possibly temporary. The four
// destination type tags share one structure distinguished by Kind; the
// codec registry constructs the right Kind from the wire tag.
type Destination struct {
	Kind         byte
	PhysicalName string
}

// NewQueue returns a queue destination with the given physical name.
func NewQueue(name string) *Destination {
	return &Destination{Kind: QueueType, PhysicalName: name}
}

// NewTopic returns a topic destination with the given physical name.
func NewTopic(name string) *Destination {
	return &Destination{Kind: TopicType, PhysicalName: name}
}

// NewTempQueue returns a temporary queue destination.
func NewTempQueue(name string) *Destination {
	return &Destination{Kind: TempQueueType, PhysicalName: name}
}

// NewTempTopic returns a temporary topic destination.
func NewTempTopic(name string) *Destination {
	return &Destination{Kind: TempTopicType, PhysicalName: name}
}

func (d *Destination) DataStructureType() byte {
	if d.Kind == 0 {
		return QueueType
	}
	return d.Kind
}

func (d *Destination) Walk(w Walker, version int) {
	w.String(&d.PhysicalName)
}

func (d *Destination) IsQueue() bool {
	return d.DataStructureType() == QueueType || d.DataStructureType() == TempQueueType
}

func (d *Destination) IsTopic() bool {
	return d.DataStructureType() == TopicType || d.DataStructureType() == TempTopicType
}

func (d *Destination) IsTemporary() bool {
	return d.DataStructureType() == TempQueueType || d.DataStructureType() == TempTopicType
}

func (d *Destination) String() string {
	switch d.DataStructureType() {
	case TopicType:
		return "topic://" + d.PhysicalName
	case TempQueueType:
		return "temp-queue://" + d.PhysicalName
	case TempTopicType:
		return "temp-topic://" + d.PhysicalName
	default:
		return "queue://" + d.PhysicalName
	}
}
