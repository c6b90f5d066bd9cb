package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/broker/membroker"
	"github.com/bitsbeam/cosmonauts/pkg/config"
	"github.com/bitsbeam/cosmonauts/pkg/engine"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/bitsbeam/cosmonauts/pkg/jobs"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
	"github.com/stretchr/testify/require"
)

// TestSetupCreatesConsumersWithoutStartingProcessors exercises the -S
// setup-and-exit path: Setup must create every configured stream's
// consumer without starting any work loop (spec §6).
func TestSetupCreatesConsumersWithoutStartingProcessors(t *testing.T) {
	b := membroker.New()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "default", Subjects: []string{"jobs.default.>"}}))
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "scheduled", Subjects: []string{"jobs.scheduled.>"}}))

	reg := registry.New()
	var calls int
	reg.RegisterJobHandler("EmailJob", func() handler.JobHandler {
		calls++
		return nil
	})
	reg.LoadJobStreams(map[string]config.JobStreamConfig{
		"default": {Subject: "jobs.default.>", Priority: 1},
	})

	eng := engine.New(engine.Config{
		Concurrency:  1,
		Mode:         engine.ModeJobs,
		JobsTimeouts: jobs.Timeouts{JobsFetch: 10 * time.Millisecond, SchedulerFetch: 10 * time.Millisecond},
	}, b, reg)

	require.NoError(t, eng.Setup(context.Background()))

	_, err := b.Publish(context.Background(), "jobs.default.send_email", []byte(`{"jid":"x","class":"EmailJob","args":[],"retry":3,"dead":true}`), broker.PublishOptions{Stream: "default"})
	require.NoError(t, err)

	// No handler should have run: Setup creates consumers but never
	// starts the work loop.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0, calls)

	// Calling Setup again must be a no-op, not a second subscribe.
	require.NoError(t, eng.Setup(context.Background()))
}
