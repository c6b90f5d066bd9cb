// Package handler defines the interfaces user code implements to receive
// job and stream work, and the message wrapper the stream processor hands
// to stream handlers (spec §3 "Stream message", §4.6).
package handler

import (
	"context"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
)

// JobFactory constructs a fresh JobHandler instance. The job processor
// instantiates one per message, so job handlers carry no shared state
// (spec §4.5 step 3, §5 "Jobs instantiate a fresh handler per message").
type JobFactory func() JobHandler

// JobHandler is implemented by user code registered against a job class
// tag. Perform receives the envelope's decoded args in order.
type JobHandler interface {
	SetJID(jid string)
	Perform(ctx context.Context, args []any) error
}

// Message wraps a single pulled broker message for a stream handler,
// exposing lazily-decoded data alongside the ack/nak/term decision the
// handler itself owns (spec §4.6: "the processor never acks on the
// handler's behalf").
type Message interface {
	Subject() string
	Raw() []byte
	Data(out any) error
	Metadata() (broker.MsgMetadata, error)
	Ack(ctx context.Context) error
	NakWithDelay(ctx context.Context, delay time.Duration) error
	Term(ctx context.Context) error
}

// StreamFactory constructs the single StreamHandler instance reused
// across all batches for its stream (spec §4.6 "Also instantiates one
// handler instance per stream (reused across batches)").
type StreamFactory func() StreamHandler

// StreamHandler is implemented by user code registered against a stream
// class tag.
type StreamHandler interface {
	Process(ctx context.Context, messages []Message) error
}

// OneByOne adapts a per-message callback into a StreamHandler, mirroring
// the "handlers may override process_one and inherit a default process
// that iterates" relationship from spec §4.6 without needing inheritance.
type OneByOne struct {
	ProcessOne func(ctx context.Context, msg Message) error
}

func (o OneByOne) Process(ctx context.Context, messages []Message) error {
	for _, m := range messages {
		if err := o.ProcessOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
