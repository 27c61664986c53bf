package core

import "github.com/cskr/pubsub"

// Topic names published on a Bus.
const (
	// TopicFrame carries each assembled 73-byte egress frame, as
	// []byte, right after batch.Assembler hands it to the serial
	// transport.
	TopicFrame = "frame"
	// TopicCommand carries the marker byte of each dispatched host
	// command, as byte, right after command.Processor dispatches it.
	TopicCommand = "command"
)

// Bus fans out acquisition events to any number of subscribers —
// a host-side logger, a test harness, a future telemetry sink —
// without batch.Assembler or command.Processor needing to know who, if
// anyone, is listening. Grounded in the project's go.mod entry for
// github.com/cskr/pubsub, the small in-process pub/sub library named
// as a dependency in the reference dividat-driver project for the same
// kind of internal event distribution.
type Bus struct {
	ps *pubsub.PubSub
}

// NewBus creates a Bus with the given per-topic channel capacity.
func NewBus(capacity int) *Bus {
	return &Bus{ps: pubsub.New(capacity)}
}

// PublishFrame fans frame out to every TopicFrame subscriber. It never
// blocks past the configured channel capacity; cskr/pubsub drops to the
// slowest subscriber's buffer, not the publisher's caller.
func (b *Bus) PublishFrame(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.ps.Pub(cp, TopicFrame)
}

// PublishCommand fans marker out to every TopicCommand subscriber.
func (b *Bus) PublishCommand(marker byte) {
	b.ps.Pub(marker, TopicCommand)
}

// SubscribeFrames returns a channel receiving every published frame as
// []byte.
func (b *Bus) SubscribeFrames() chan interface{} {
	return b.ps.Sub(TopicFrame)
}

// SubscribeCommands returns a channel receiving every published
// command marker as byte.
func (b *Bus) SubscribeCommands() chan interface{} {
	return b.ps.Sub(TopicCommand)
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.ps.Shutdown()
}
