// Package engine implements the worker runtime's lifecycle: build the
// pool, start the selected processors, trap shutdown signals, and drain
// in-flight handlers within a deadline (spec §4.7).
package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/jobs"
	"github.com/bitsbeam/cosmonauts/pkg/lifecycle"
	"github.com/bitsbeam/cosmonauts/pkg/logger"
	"github.com/bitsbeam/cosmonauts/pkg/pool"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
	"github.com/bitsbeam/cosmonauts/pkg/streams"
)

// Mode selects which processors the Engine starts (spec §6 "Process CLI
// surface": commands jobs, streams, or no command = both).
type Mode int

const (
	ModeBoth Mode = iota
	ModeJobs
	ModeStreams
)

// Config configures an Engine run.
type Config struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	Mode            Mode
	JobsTimeouts    jobs.Timeouts
	StreamsTimeout  time.Duration
}

// Engine is the singleton lifecycle described in spec §4.7.
type Engine struct {
	cfg      Config
	client   broker.Client
	registry *registry.Registry
	pool     *pool.Pool
	running  *lifecycle.Flag

	jobsProc    *jobs.Processor
	streamsProc *streams.Processor

	setupDone bool
}

// New builds an Engine without creating any broker-side state. Call
// Setup explicitly (e.g. for -S setup-and-exit) or let Run call it.
func New(cfg Config, client broker.Client, reg *registry.Registry) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 25 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		client:   client,
		registry: reg,
		pool:     pool.New(cfg.Concurrency),
		running:  lifecycle.NewFlag(),
	}

	if cfg.Mode == ModeBoth || cfg.Mode == ModeJobs {
		e.jobsProc = jobs.New(client, reg, e.pool, e.running, cfg.JobsTimeouts, nil)
	}
	if cfg.Mode == ModeBoth || cfg.Mode == ModeStreams {
		e.streamsProc = streams.New(client, reg, e.pool, e.running, cfg.StreamsTimeout)
	}

	return e
}

// Setup creates the pull consumers the configured processors need
// (spec §6 "-S setup-and-exit": the broker-side bootstrap run on its own,
// without starting any processor). It does not create streams: every
// stream a consumer binds to must already exist on the broker, or Setup
// returns the broker's error. Idempotent: a second call is a no-op,
// so Run can call it unconditionally after a caller has already run it
// explicitly.
func (e *Engine) Setup(ctx context.Context) error {
	if e.setupDone {
		return nil
	}

	if e.jobsProc != nil {
		if err := e.jobsProc.Setup(ctx); err != nil {
			return err
		}
	}
	if e.streamsProc != nil {
		if err := e.streamsProc.Setup(ctx); err != nil {
			return err
		}
	}

	e.setupDone = true
	return nil
}

// Run executes the full lifecycle described in spec §4.7: setup
// consumers, install the signal handler, start the selected processors,
// block until a signal arrives, then shut down.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Setup(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if e.jobsProc != nil {
		e.jobsProc.Start(ctx)
	}
	if e.streamsProc != nil {
		e.streamsProc.Start(ctx)
	}

	<-sigCtx.Done()
	logger.L().Info("shutdown signal received")

	e.running.Stop()
	e.pool.Shutdown()

	deadline, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	e.pool.WaitForTermination(deadline)

	return nil
}
