package membroker_test

import (
	"context"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/broker/membroker"
	"github.com/stretchr/testify/require"
)

func TestPublishDedupsWithinWindow(t *testing.T) {
	b := membroker.New()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{
		Name: "jobs", Subjects: []string{"jobs.>"}, DuplicateWindow: time.Minute,
	}))

	hdr := broker.Header{}
	hdr.Set("Nats-Msg-Id", "fixed-id")

	ack1, err := b.Publish(context.Background(), "jobs.default.send_email", []byte("a"), broker.PublishOptions{Stream: "jobs", Header: hdr})
	require.NoError(t, err)
	require.False(t, ack1.Duplicate)

	ack2, err := b.Publish(context.Background(), "jobs.default.send_email", []byte("b"), broker.PublishOptions{Stream: "jobs", Header: hdr})
	require.NoError(t, err)
	require.True(t, ack2.Duplicate)

	info, err := b.StreamInfo(context.Background(), "jobs")
	require.NoError(t, err)
	require.EqualValues(t, 1, info.Messages)
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	b := membroker.New()
	ctx := context.Background()
	cfg := broker.StreamConfig{Name: "jobs", Subjects: []string{"jobs.>"}}

	require.NoError(t, b.EnsureStream(ctx, cfg))
	_, err := b.Publish(ctx, "jobs.default.send_email", []byte("x"), broker.PublishOptions{Stream: "jobs"})
	require.NoError(t, err)

	require.NoError(t, b.EnsureStream(ctx, cfg))

	info, err := b.StreamInfo(ctx, "jobs")
	require.NoError(t, err)
	require.EqualValues(t, 1, info.Messages)
}
