// Package publisher is the thin façade user code and the scheduler loop
// call into to put work on the broker (spec §4.3).
package publisher

import (
	"context"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/envelope"
	apperrors "github.com/bitsbeam/cosmonauts/pkg/errors"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/bitsbeam/cosmonauts/pkg/resilience"
)

// Publisher serializes payloads, attaches headers, and translates broker
// errors into domain errors (spec §4.3). Every broker.Client.Publish call
// runs through a circuit breaker plus bounded retry so a flapping broker
// connection degrades into fast-failing publishes instead of hammering it.
type Publisher struct {
	client     broker.Client
	serializer handler.Serializer
	cb         *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// New creates a Publisher over client, defaulting to JSON serialization.
func New(client broker.Client) *Publisher {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.RetryIf = func(err error) bool {
		// ErrNoStreamResponse means the subject has no matching stream: a
		// routing mistake, not a transient fault, so retrying can't help.
		return !apperrors.Is(err, broker.ErrNoStreamResponse)
	}

	return &Publisher{
		client:     client,
		serializer: handler.Default,
		cb:         resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("broker-publish")),
		retry:      retry,
	}
}

// publish runs a single broker publish through the circuit breaker and
// retry policy, returning the ack from the call that finally succeeded.
func (p *Publisher) publish(ctx context.Context, subject string, body []byte, opts broker.PublishOptions) (*broker.PublishAck, error) {
	var ack *broker.PublishAck
	err := resilience.RetryWithCircuitBreaker(ctx, p.cb, p.retry, func(ctx context.Context) error {
		a, err := p.client.Publish(ctx, subject, body, opts)
		if err != nil {
			return err
		}
		ack = a
		return nil
	})
	return ack, err
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

type publishConfig struct {
	serializer handler.Serializer
	stream     string
	header     broker.Header
}

// WithSerializer overrides the default JSON serializer for one call.
func WithSerializer(s handler.Serializer) PublishOption {
	return func(c *publishConfig) { c.serializer = s }
}

// WithStream asserts the publish must land on the named stream.
func WithStream(stream string) PublishOption {
	return func(c *publishConfig) { c.stream = stream }
}

// WithHeader attaches caller-supplied headers.
func WithHeader(h broker.Header) PublishOption {
	return func(c *publishConfig) { c.header = h }
}

// Publish serializes data and publishes it to subject, returning the
// broker's ack (spec §4.3: "richer Publisher return is canonical").
func (p *Publisher) Publish(ctx context.Context, subject string, data any, opts ...PublishOption) (*broker.PublishAck, error) {
	cfg := publishConfig{serializer: p.serializer}
	for _, opt := range opts {
		opt(&cfg)
	}

	body, err := cfg.serializer.Marshal(data)
	if err != nil {
		return nil, err
	}

	ack, err := p.publish(ctx, subject, body, broker.PublishOptions{Stream: cfg.stream, Header: cfg.header})
	if err != nil {
		return nil, translate(err, cfg.stream)
	}
	return ack, nil
}

// PublishRaw publishes a pre-encoded body unchanged, still through the
// circuit breaker and retry policy. Used where the caller must preserve
// bytes exactly (e.g. scheduled-job promotion, dead-letter republish)
// instead of round-tripping through a serializer.
func (p *Publisher) PublishRaw(ctx context.Context, subject string, body []byte, opts ...PublishOption) (*broker.PublishAck, error) {
	cfg := publishConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ack, err := p.publish(ctx, subject, body, broker.PublishOptions{Stream: cfg.stream, Header: cfg.header})
	if err != nil {
		return nil, translate(err, cfg.stream)
	}
	return ack, nil
}

// PublishBatch iterates Publish over items with the same options; not
// transactional (spec §4.3).
func (p *Publisher) PublishBatch(ctx context.Context, subject string, items []any, opts ...PublishOption) error {
	for _, item := range items {
		if _, err := p.Publish(ctx, subject, item, opts...); err != nil {
			return err
		}
	}
	return nil
}

// PublishJob resolves the envelope's publish parameters and publishes it,
// returning the envelope's jid (spec §4.3 "publish_job").
func (p *Publisher) PublishJob(ctx context.Context, e *envelope.Envelope, stream string, scheduling envelope.Options) (string, error) {
	params, err := envelope.ToArgs(e, stream, scheduling)
	if err != nil {
		return "", err
	}

	_, err = p.publish(ctx, params.Subject, params.Body, params.Opts)
	if err != nil {
		return "", translate(err, stream)
	}
	return e.JID, nil
}

func translate(err error, stream string) error {
	if apperrors.Is(err, broker.ErrNoStreamResponse) {
		return apperrors.ErrStreamNotFound(stream)
	}
	return err
}
