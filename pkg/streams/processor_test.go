package streams_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/broker/membroker"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
	"github.com/bitsbeam/cosmonauts/pkg/lifecycle"
	"github.com/bitsbeam/cosmonauts/pkg/pool"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
	"github.com/bitsbeam/cosmonauts/pkg/streams"
	"github.com/stretchr/testify/require"
)

type ackingHandler struct {
	processed *int32
}

func (h *ackingHandler) Process(ctx context.Context, messages []handler.Message) error {
	for _, m := range messages {
		atomic.AddInt32(h.processed, 1)
		if err := m.Ack(ctx); err != nil {
			return err
		}
	}
	return nil
}

func TestStreamProcessorDeliversAndAcks(t *testing.T) {
	b := membroker.New()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "events", Subjects: []string{"events.clicks.>"}}))

	reg := registry.New()
	var processed int32
	reg.RegisterStreamHandler("ClickIndexer", func() handler.StreamHandler {
		return &ackingHandler{processed: &processed}
	}, registry.StreamDefaults{
		Stream:        "events",
		ConsumerName:  "consumer-events",
		BatchSize:     10,
		StartPosition: "new",
		Subjects:      []string{"events.clicks.>"},
	})

	running := lifecycle.NewFlag()
	proc := streams.New(b, reg, pool.New(2), running, 50*time.Millisecond)
	require.NoError(t, proc.Setup(context.Background()))
	require.True(t, proc.HasConsumers())

	proc.Start(context.Background())
	defer running.Stop()

	_, err := b.Publish(context.Background(), "events.clicks.home", []byte(`{"x":1}`), broker.PublishOptions{Stream: "events"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)
}
