// Package broker defines the thin handle the worker runtime uses over a
// JetStream-style persistent message broker: publish, pull-subscribe, and
// stream/consumer introspection (spec §4.1, §6).
//
// Package broker is intentionally adapter-agnostic in the same way the
// teacher library's pkg/messaging is: the Client interface is defined here
// with zero third-party dependencies, and each concrete broker lives in its
// own sub-package (pkg/broker/natsjs for the real JetStream client,
// pkg/broker/membroker for an in-process test double). Callers import only
// the adapter they need.
//
// All Client methods propagate the underlying SDK's errors unchanged; only
// pkg/publisher translates specific sentinel errors (stream-not-found) into
// domain errors (spec §4.1, §4.3).
package broker

import (
	"context"
	"time"
)

// Header carries arbitrary key/value metadata on a message, mirroring the
// broker's header support (Nats-Msg-Id, Nats-Expected-Stream, and the
// scheduler's X-* headers all travel here).
type Header map[string][]string

// Get returns the first value for key, or "".
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Set assigns a single value for key, replacing any existing values.
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// PublishOptions configures a single publish call (spec §4.1's **params).
type PublishOptions struct {
	// Stream, if set, asserts the message must land on this stream
	// (Nats-Expected-Stream).
	Stream string
	// Header carries caller-supplied headers (e.g. Nats-Msg-Id for dedup).
	Header Header
}

// PublishAck is the broker's acknowledgment of a successful publish
// (spec §9: the richer Publisher return is canonical).
type PublishAck struct {
	Stream    string
	Sequence  uint64
	Duplicate bool
}

// DeliverPolicy selects where a fresh pull consumer starts reading
// (spec §4.6, §6, GLOSSARY).
type DeliverPolicy string

const (
	DeliverAll          DeliverPolicy = "all"
	DeliverLast         DeliverPolicy = "last"
	DeliverNew          DeliverPolicy = "new"
	DeliverByStartTime  DeliverPolicy = "by_start_time"
)

// ConsumerConfig is the broker-level pull-consumer configuration (spec §6).
type ConsumerConfig struct {
	Durable       string
	FilterSubject string
	AckPolicy     string // always "explicit" in this runtime
	MaxDeliver    int
	MaxAckPending int
	AckWait       time.Duration
	DeliverPolicy DeliverPolicy
	OptStartTime  time.Time
}

// StreamConfig is the broker-level stream configuration (spec §6). MaxAge
// and DuplicateWindow are accepted in Go's time.Duration and converted to
// wire nanoseconds by the adapter.
type StreamConfig struct {
	Name            string
	Subjects        []string
	Storage         string // "file" or "memory"
	Retention       string // "limits", "interest", "workqueue"
	MaxAge          time.Duration
	DuplicateWindow time.Duration
}

// StreamInfo is introspection data about a stream (spec §4.1).
type StreamInfo struct {
	Name     string
	Subjects []string
	Messages uint64
}

// StoredMessage is a single message retrieved directly from a stream by
// sequence (spec §4.1's get_message, used for tests/introspection).
type StoredMessage struct {
	Subject   string
	Data      []byte
	Header    Header
	Sequence  uint64
	Timestamp time.Time
}

// MsgMetadata is the delivery metadata the processor reads off an inbound
// message (spec §3 Stream message, §4.6).
type MsgMetadata struct {
	NumDelivered   uint64
	StreamSeq      uint64
	ConsumerSeq    uint64
	NumPending     uint64
	Timestamp      time.Time
}

// Msg is a single pulled message. Ack/NakWithDelay/Term race against the
// broker's ack_wait expiry, exactly as spec §5 describes; the runtime never
// calls more than one of them per message.
type Msg interface {
	Subject() string
	Data() []byte
	Headers() Header
	Metadata() (MsgMetadata, error)
	Ack(ctx context.Context) error
	NakWithDelay(ctx context.Context, delay time.Duration) error
	Term(ctx context.Context) error
}

// PullConsumer is a durable, named cursor on a stream that fetches batches
// on demand (spec §4.1, GLOSSARY).
type PullConsumer interface {
	// Fetch pulls up to batch messages, waiting at most timeout for the
	// first one. An empty, non-error result means the pull timed out
	// (spec §7: "Broker pull timeout ... Expected; silent continue").
	Fetch(ctx context.Context, batch int, timeout time.Duration) ([]Msg, error)
}

// Client is the broker handle the rest of the runtime depends on
// (spec §4.1). Implementations: pkg/broker/natsjs (real JetStream),
// pkg/broker/membroker (in-process test double).
type Client interface {
	// Publish synchronously publishes payload to subject and waits for the
	// broker's ack.
	Publish(ctx context.Context, subject string, payload []byte, opts PublishOptions) (*PublishAck, error)

	// Subscribe creates or binds a durable pull consumer named consumerName
	// on the given stream, filtered to subjects.
	Subscribe(ctx context.Context, stream string, subjects []string, consumerName string, cfg ConsumerConfig) (PullConsumer, error)

	// EnsureStream creates the stream if absent; a no-op if one with the
	// same name already exists (spec §4.1, idempotent-setup invariant).
	EnsureStream(ctx context.Context, cfg StreamConfig) error

	StreamInfo(ctx context.Context, name string) (*StreamInfo, error)
	ListStreams(ctx context.Context) ([]string, error)
	DeleteStream(ctx context.Context, name string) error
	GetMessage(ctx context.Context, stream string, seq uint64) (*StoredMessage, error)

	Close() error
}
