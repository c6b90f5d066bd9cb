// Package jobs implements the Job Processor: the weighted fetch loop that
// drains per-stream pull consumers into the pool, the scheduler loop that
// promotes due delayed jobs, and the retry/DLQ/term failure policy
// (spec §4.5).
package jobs

import (
	"context"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/concurrency"
	apperrors "github.com/bitsbeam/cosmonauts/pkg/errors"
	"github.com/bitsbeam/cosmonauts/pkg/envelope"
	"github.com/bitsbeam/cosmonauts/pkg/lifecycle"
	"github.com/bitsbeam/cosmonauts/pkg/logger"
	"github.com/bitsbeam/cosmonauts/pkg/pool"
	"github.com/bitsbeam/cosmonauts/pkg/publisher"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
)

const scheduledStream = "scheduled"

// Timeouts bundles the two pull timeouts the processor's loops use: the
// work loop's and the scheduler loop's (spec §6 environment variables).
type Timeouts struct {
	JobsFetch          time.Duration
	SchedulerFetch     time.Duration
}

// Processor runs the jobs work loop and scheduler loop.
type Processor struct {
	client    broker.Client
	pub       *publisher.Publisher
	registry  *registry.Registry
	pool      *pool.Pool
	running   *lifecycle.Flag
	scheduler Scheduler
	timeouts  Timeouts

	consumers map[string]broker.PullConsumer
	weights   []string

	schedulerConsumer broker.PullConsumer
}

// New constructs a Processor. scheduler may be nil, defaulting to
// ShuffledScheduler (spec's default fetch-loop rotation).
func New(client broker.Client, reg *registry.Registry, p *pool.Pool, running *lifecycle.Flag, timeouts Timeouts, scheduler Scheduler) *Processor {
	if scheduler == nil {
		scheduler = ShuffledScheduler{}
	}
	return &Processor{
		client:    client,
		pub:       publisher.New(client),
		registry:  reg,
		pool:      p,
		running:   running,
		scheduler: scheduler,
		timeouts:  timeouts,
		consumers: make(map[string]broker.PullConsumer),
	}
}

// Setup creates a pull consumer per configured jobs stream and the
// scheduler's pull consumer on the "scheduled" stream (spec §4.5
// "Setup"). If no job consumers are configured, the processor does not
// start (HasConsumers reports false and Start becomes a no-op).
func (p *Processor) Setup(ctx context.Context) error {
	streams := p.registry.JobStreams()
	if len(streams) == 0 {
		return nil
	}

	for name, js := range streams {
		consumer, err := p.client.Subscribe(ctx, name, []string{js.Subject}, "consumer-"+name, js.Consumer)
		if err != nil {
			return err
		}
		p.consumers[name] = consumer
	}
	p.weights = BuildWeights(streams)

	schedulerConsumer, err := p.client.Subscribe(ctx, scheduledStream, []string{"jobs.scheduled.>"}, "consumer-scheduled", broker.ConsumerConfig{
		MaxDeliver:    0,
		MaxAckPending: 1000,
		AckWait:       30 * time.Second,
		DeliverPolicy: broker.DeliverAll,
	})
	if err != nil {
		return err
	}
	p.schedulerConsumer = schedulerConsumer

	return nil
}

// HasConsumers reports whether Setup found any configured jobs streams.
func (p *Processor) HasConsumers() bool { return len(p.consumers) > 0 }

// Start launches the work loop and scheduler loop as background
// goroutines (spec §4.7 point 3). It returns immediately.
func (p *Processor) Start(ctx context.Context) {
	if !p.HasConsumers() {
		return
	}
	concurrency.SafeGo(ctx, func() { p.workLoop(ctx) })
	concurrency.SafeGo(ctx, func() { p.schedulerLoop(ctx) })
}

// workLoop is the weighted fetch loop (spec §4.5 "Work loop").
func (p *Processor) workLoop(ctx context.Context) {
	for {
		if !p.running.Running() {
			return
		}

		rotation := p.scheduler.Rotation(p.weights)
		for _, streamName := range rotation {
			if !p.running.Running() {
				return
			}

			name := streamName
			err := p.pool.Post(ctx, func(ctx context.Context) {
				p.fetchAndProcess(ctx, name)
			})
			if err != nil {
				return
			}
		}
	}
}

func (p *Processor) fetchAndProcess(ctx context.Context, streamName string) {
	consumer := p.consumers[streamName]
	msgs, err := consumer.Fetch(ctx, 1, p.timeouts.JobsFetch)
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "jobs fetch failed", "stream", streamName, "error", err)
		return
	}
	for _, m := range msgs {
		p.process(ctx, m)
	}
}

// process decodes and dispatches a single job message (spec §4.5
// "process(message)"). A panic from Perform (a fatal, out-of-band fault)
// is deliberately not recovered here: it propagates out of the pool's
// task goroutine so the process crashes and a supervisor restarts it
// (spec §4.5 step 6, §7).
func (p *Processor) process(ctx context.Context, m broker.Msg) {
	e, err := envelope.Decode(m.Data())
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "malformed job payload", "error", err)
		return
	}

	ctx = logger.With(ctx, "jid", e.JID, "class", e.Class)

	factory, ok := p.registry.JobHandlerFor(e.Class)
	if !ok {
		logger.FromContext(ctx).ErrorContext(ctx, "unknown handler class", "class", e.Class)
		return
	}

	h := factory()
	h.SetJID(e.JID)

	if err := h.Perform(ctx, e.Args); err != nil {
		p.handleFailure(ctx, m, e)
		return
	}

	if err := m.Ack(ctx); err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "ack failed", "error", err)
	}
}

// handleFailure applies the retry/DLQ/term policy (spec §4.5
// "handle_failure", §7 retry schedule).
func (p *Processor) handleFailure(ctx context.Context, m broker.Msg, e *envelope.Envelope) {
	md, err := m.Metadata()
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "metadata unavailable", "error", err)
		return
	}

	attempt := md.NumDelivered
	maxAttempts := uint64(e.Retry + 1)

	if attempt < maxAttempts {
		delay := BackoffDelay(attempt)
		if err := m.NakWithDelay(ctx, delay); err != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "nak failed", "error", err)
		}
		return
	}

	if e.Dead {
		subject := envelope.DeadLetterSubject(e.Class)
		if _, err := p.pub.PublishRaw(ctx, subject, m.Data()); err != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "dead-letter publish failed", "error", err)
			return
		}
		if err := m.Ack(ctx); err != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "ack after dead-letter failed", "error", err)
		}
		return
	}

	if err := m.Term(ctx); err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "term failed", "error", err)
	}
}

// BackoffDelay computes the nak delay for a given broker delivery attempt
// (spec §7: "nak(delay = (attempt^4 + 15) s)").
func BackoffDelay(attempt uint64) time.Duration {
	a := float64(attempt)
	return time.Duration(a*a*a*a+15) * time.Second
}

// schedulerLoop promotes due scheduled envelopes (spec §4.5 "Scheduler
// loop").
func (p *Processor) schedulerLoop(ctx context.Context) {
	for {
		if !p.running.Running() {
			return
		}

		msgs, err := p.schedulerConsumer.Fetch(ctx, 100, p.timeouts.SchedulerFetch)
		if err != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "scheduler fetch failed", "error", err)
			continue
		}

		for _, m := range msgs {
			p.promote(ctx, m)
		}
	}
}

func (p *Processor) promote(ctx context.Context, m broker.Msg) {
	hdrs, err := envelope.ReadScheduledHeaders(m.Headers())
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "malformed scheduled headers", "error", err)
		return
	}

	now := time.Now().UTC()
	if now.Before(hdrs.ExecuteAt) {
		if err := m.NakWithDelay(ctx, hdrs.ExecuteAt.Sub(now)); err != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "scheduler nak failed", "error", err)
		}
		return
	}

	userHeaders := stripSchedulingHeaders(m.Headers())
	_, err = p.pub.PublishRaw(ctx, hdrs.TargetSubject, m.Data(),
		publisher.WithStream(hdrs.TargetStream),
		publisher.WithHeader(userHeaders),
	)
	if err != nil {
		if apperrors.CodeStreamNotFound == apperrors.Code(err) {
			logger.FromContext(ctx).ErrorContext(ctx, "scheduled promotion target stream missing", "stream", hdrs.TargetStream)
		}
		return
	}

	if err := m.Ack(ctx); err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "scheduler ack failed", "error", err)
	}
}

func stripSchedulingHeaders(hdr broker.Header) broker.Header {
	out := hdr.Clone()
	delete(out, "X-Execute-At")
	delete(out, "X-Stream")
	delete(out, "X-Subject")
	delete(out, "Nats-Expected-Stream")
	return out
}
