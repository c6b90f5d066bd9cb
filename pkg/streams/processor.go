// Package streams implements the Stream Processor: a batch-oriented pull
// loop across every registered stream handler, routing batches through a
// serializer-aware message wrapper the handler itself acks (spec §4.6).
package streams

import (
	"context"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/concurrency"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/bitsbeam/cosmonauts/pkg/lifecycle"
	"github.com/bitsbeam/cosmonauts/pkg/logger"
	"github.com/bitsbeam/cosmonauts/pkg/pool"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
)

type binding struct {
	reg      registry.StreamRegistration
	consumer broker.PullConsumer
	instance handler.StreamHandler
}

// Processor runs the streams work loop.
type Processor struct {
	client       broker.Client
	registry     *registry.Registry
	pool         *pool.Pool
	running      *lifecycle.Flag
	fetchTimeout time.Duration

	bindings []binding
}

// New constructs a Processor.
func New(client broker.Client, reg *registry.Registry, p *pool.Pool, running *lifecycle.Flag, fetchTimeout time.Duration) *Processor {
	return &Processor{client: client, registry: reg, pool: p, running: running, fetchTimeout: fetchTimeout}
}

// Setup merges registered handler defaults with config overrides and
// creates one pull consumer and one handler instance per resulting stream
// (spec §4.6 "Setup").
func (p *Processor) Setup(ctx context.Context) error {
	for _, reg := range p.registry.StreamRegistrations() {
		consumer, err := p.client.Subscribe(ctx, reg.Stream, reg.Subjects, reg.ConsumerName, reg.Consumer)
		if err != nil {
			return err
		}
		p.bindings = append(p.bindings, binding{
			reg:      reg,
			consumer: consumer,
			instance: reg.NewHandler(),
		})
	}
	return nil
}

// HasConsumers reports whether Setup found any registered stream handlers.
func (p *Processor) HasConsumers() bool { return len(p.bindings) > 0 }

// Start launches the work loop as a background goroutine (spec §4.7
// point 3).
func (p *Processor) Start(ctx context.Context) {
	if !p.HasConsumers() {
		return
	}
	concurrency.SafeGo(ctx, func() { p.workLoop(ctx) })
}

// workLoop is the infinite rotation over stream bindings (spec §4.6
// "Work loop").
func (p *Processor) workLoop(ctx context.Context) {
	for {
		if !p.running.Running() {
			return
		}

		for i := range p.bindings {
			if !p.running.Running() {
				return
			}

			b := p.bindings[i]
			err := p.pool.Post(ctx, func(ctx context.Context) {
				p.fetchAndProcess(ctx, b)
			})
			if err != nil {
				return
			}
		}
	}
}

func (p *Processor) fetchAndProcess(ctx context.Context, b binding) {
	batch := b.reg.BatchSize
	if batch <= 0 {
		batch = 1
	}

	raw, err := b.consumer.Fetch(ctx, batch, p.fetchTimeout)
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "streams fetch failed", "stream", b.reg.Stream, "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}

	p.process(ctx, b, raw)
}

// process wraps the batch and hands it to the handler, which owns every
// ack/nak/term decision (spec §4.6 point 4).
func (p *Processor) process(ctx context.Context, b binding, raw []broker.Msg) {
	start := time.Now()
	log := logger.FromContext(ctx)

	last := raw[len(raw)-1]
	if md, err := last.Metadata(); err == nil {
		log.InfoContext(ctx, "batch start",
			"stream", b.reg.Stream,
			"seq_stream", md.StreamSeq,
			"seq_consumer", md.ConsumerSeq,
			"num_pending", md.NumPending,
			"timestamp", md.Timestamp,
		)
	}

	messages := make([]handler.Message, len(raw))
	for i, m := range raw {
		messages[i] = &message{raw: m, serializer: b.reg.Serializer}
	}

	if err := b.instance.Process(ctx, messages); err != nil {
		log.ErrorContext(ctx, "batch fail", "stream", b.reg.Stream, "elapsed", time.Since(start).Seconds(), "error", err)
		return
	}

	log.InfoContext(ctx, "batch done", "stream", b.reg.Stream, "elapsed", time.Since(start).Seconds())
}
