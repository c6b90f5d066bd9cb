package publisher_test

import (
	"context"
	"testing"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/broker/membroker"
	"github.com/bitsbeam/cosmonauts/pkg/envelope"
	apperrors "github.com/bitsbeam/cosmonauts/pkg/errors"
	"github.com/bitsbeam/cosmonauts/pkg/publisher"
	"github.com/stretchr/testify/require"
)

func TestPublishJobImmediate(t *testing.T) {
	b := membroker.New()
	require.NoError(t, b.EnsureStream(context.Background(), broker.StreamConfig{Name: "default", Subjects: []string{"jobs.default.>"}}))

	pub := publisher.New(b)
	e := envelope.New("EmailJob", []any{float64(42), "welcome"}, envelope.Options{})

	jid, err := pub.PublishJob(context.Background(), e, "default", envelope.Options{})
	require.NoError(t, err)
	require.Equal(t, e.JID, jid)

	info, err := b.StreamInfo(context.Background(), "default")
	require.NoError(t, err)
	require.EqualValues(t, 1, info.Messages)
}

func TestPublishJobUnknownStreamTranslatesError(t *testing.T) {
	b := membroker.New()
	pub := publisher.New(b)
	e := envelope.New("EmailJob", nil, envelope.Options{})

	_, err := pub.PublishJob(context.Background(), e, "missing", envelope.Options{})
	require.Error(t, err)
	require.Equal(t, apperrors.CodeStreamNotFound, apperrors.Code(err))
}
