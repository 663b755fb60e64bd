package confirm

import "context"

// Confirmation is a publisher confirm delivered by the broker.
// Ack reports acceptance, otherwise the messages were rejected (nack).
// With Multiple set it covers every outstanding sequence number up to and including Tag.
type Confirmation struct {
	Tag      SequenceNumber
	Multiple bool
	Ack      bool
}

// Broker hands out channels on a single broker connection.
type Broker interface {
	// Channel opens a new channel. Sequence numbers on a new channel start at 1.
	Channel(ctx context.Context) (Channel, error)

	// Close releases the connection and every channel opened on it.
	Close() error
}

// Channel is the broker client surface the strategies publish through.
type Channel interface {
	// DeclareQueue declares a server-named, exclusive, auto-deleted queue and returns its name.
	DeclareQueue(ctx context.Context) (string, error)

	// Confirm puts the channel in publisher-confirm mode. It must be called once before
	// publishing. With trackInternally the channel keeps every pending confirmation so that
	// WaitForConfirms works; without it confirmations are only delivered to NotifyConfirm.
	Confirm(trackInternally bool) error

	// NextSequence returns the sequence number the next Publish will be assigned.
	NextSequence() SequenceNumber

	// Publish sends body to queue and returns once the transport accepted it.
	// The returned number is the message's sequence number.
	Publish(ctx context.Context, queue string, body []byte) (SequenceNumber, error)

	// WaitForConfirms blocks until every message published since the previous wait is
	// confirmed. It fails with ErrNackReceived when any of them was nacked and with
	// ErrTimeout when ctx expires first.
	WaitForConfirms(ctx context.Context) error

	// NotifyConfirm registers handler for every ack and nack on the channel. The handler may
	// run on another goroutine than the publisher and must not block.
	NotifyConfirm(handler func(Confirmation))

	// Close closes the channel. Pending confirmations are dropped.
	Close() error
}
