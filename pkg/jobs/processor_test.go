package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/broker/membroker"
	"github.com/bitsbeam/cosmonauts/pkg/config"
	"github.com/bitsbeam/cosmonauts/pkg/envelope"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/bitsbeam/cosmonauts/pkg/jobs"
	"github.com/bitsbeam/cosmonauts/pkg/lifecycle"
	"github.com/bitsbeam/cosmonauts/pkg/pool"
	"github.com/bitsbeam/cosmonauts/pkg/publisher"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls *int32
	jid   string
	fail  bool
}

func (h *countingHandler) SetJID(jid string) { h.jid = jid }
func (h *countingHandler) Perform(ctx context.Context, args []any) error {
	atomic.AddInt32(h.calls, 1)
	if h.fail {
		return errors.New("handler failure")
	}
	return nil
}

func newTestProcessor(t *testing.T, b *membroker.Broker, reg *registry.Registry) (*jobs.Processor, *lifecycle.Flag) {
	t.Helper()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "default", Subjects: []string{"jobs.default.>"}}))
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "scheduled", Subjects: []string{"jobs.scheduled.>"}}))

	reg.LoadJobStreams(map[string]config.JobStreamConfig{
		"default": {Subject: "jobs.default.>", Priority: 1},
	})

	running := lifecycle.NewFlag()
	p := jobs.New(b, reg, pool.New(4), running, jobs.Timeouts{JobsFetch: 50 * time.Millisecond, SchedulerFetch: 50 * time.Millisecond}, jobs.StrideScheduler{})
	require.NoError(t, p.Setup(context.Background()))
	require.True(t, p.HasConsumers())
	return p, running
}

func TestProcessorRunsHandlerForPublishedJob(t *testing.T) {
	b := membroker.New()
	reg := registry.New()
	var calls int32
	reg.RegisterJobHandler("EmailJob", func() handler.JobHandler {
		return &countingHandler{calls: &calls}
	})

	p, running := newTestProcessor(t, b, reg)

	pub := publisher.New(b)
	e := envelope.New("EmailJob", []any{float64(42)}, envelope.Options{})
	_, err := pub.PublishJob(context.Background(), e, "default", envelope.Options{})
	require.NoError(t, err)

	p.Start(context.Background())
	defer running.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBackoffDelayMonotonicallyIncreases(t *testing.T) {
	prev := time.Duration(0)
	for attempt := uint64(1); attempt <= 3; attempt++ {
		d := jobs.BackoffDelay(attempt)
		require.Greater(t, d, prev)
		prev = d
	}
	require.Equal(t, 16*time.Second, jobs.BackoffDelay(1))
	require.Equal(t, 31*time.Second, jobs.BackoffDelay(2))
}

func TestBuildWeightsRepeatsByPriority(t *testing.T) {
	weights := jobs.BuildWeights(map[string]registry.JobStream{
		"a": {Priority: 3},
		"b": {Priority: 1},
	})
	require.Len(t, weights, 4)

	countA, countB := 0, 0
	for _, w := range weights {
		switch w {
		case "a":
			countA++
		case "b":
			countB++
		}
	}
	require.Equal(t, 3, countA)
	require.Equal(t, 1, countB)
}

func TestStrideSchedulerInterleaves(t *testing.T) {
	s := jobs.StrideScheduler{}
	rotation := s.Rotation([]string{"a", "a", "a", "b"})
	require.Equal(t, []string{"a", "b", "a", "a"}, rotation)
}

func TestShuffledSchedulerPreservesMultiset(t *testing.T) {
	weights := []string{"a", "a", "a", "b"}
	s := jobs.ShuffledScheduler{}

	seenOtherOrder := false
	for i := 0; i < 20; i++ {
		rotation := s.Rotation(weights)
		require.Len(t, rotation, len(weights))

		counts := map[string]int{}
		for _, w := range rotation {
			counts[w]++
		}
		require.Equal(t, 3, counts["a"])
		require.Equal(t, 1, counts["b"])

		if rotation[3] != "b" {
			seenOtherOrder = true
		}
	}
	require.True(t, seenOtherOrder, "shuffle never produced a non-trivial ordering across 20 tries")
}

func TestRetryThenDeadLetterOnRepeatedFailure(t *testing.T) {
	b := membroker.New()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "dead", Subjects: []string{"jobs.dead.>"}}))

	reg := registry.New()
	var calls int32
	reg.RegisterJobHandler("EmailJob", func() handler.JobHandler {
		return &countingHandler{calls: &calls, fail: true}
	})

	p, running := newTestProcessor(t, b, reg)
	defer running.Stop()

	pub := publisher.New(b)
	e := envelope.New("EmailJob", []any{float64(1)}, envelope.Options{Retry: intPtr(1)})
	_, err := pub.PublishJob(context.Background(), e, "default", envelope.Options{})
	require.NoError(t, err)

	p.Start(context.Background())

	// The first failure naks with BackoffDelay(1) = 16s, so the second
	// (final) attempt and its dead-letter publish happen after that delay.
	require.Eventually(t, func() bool {
		info, err := b.StreamInfo(context.Background(), "dead")
		return err == nil && info.Messages == 1
	}, 20*time.Second, 10*time.Millisecond)

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func intPtr(v int) *int { return &v }

func TestScheduledJobPromotesOnceDue(t *testing.T) {
	b := membroker.New()
	reg := registry.New()
	var calls int32
	reg.RegisterJobHandler("EmailJob", func() handler.JobHandler {
		return &countingHandler{calls: &calls}
	})

	p, running := newTestProcessor(t, b, reg)
	defer running.Stop()

	pub := publisher.New(b)
	e := envelope.New("EmailJob", []any{float64(1)}, envelope.Options{})
	// X-Execute-At has whole-second resolution, so a 2s delay lands at
	// least 1s in the future.
	_, err := pub.PublishJob(context.Background(), e, "default", envelope.Options{In: 2 * time.Second})
	require.NoError(t, err)

	p.Start(context.Background())

	require.Never(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, 20*time.Millisecond, 5*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 3*time.Second, 10*time.Millisecond)
}
