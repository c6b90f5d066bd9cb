package streams

import (
	"context"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
)

// message adapts a raw broker.Msg to handler.Message, decoding lazily
// with the stream handler's configured serializer (spec §4.6 point 1-2).
type message struct {
	raw        broker.Msg
	serializer handler.Serializer
}

func (m *message) Subject() string { return m.raw.Subject() }
func (m *message) Raw() []byte     { return m.raw.Data() }

func (m *message) Data(out any) error {
	return m.serializer.Unmarshal(m.raw.Data(), out)
}

func (m *message) Metadata() (broker.MsgMetadata, error) { return m.raw.Metadata() }

func (m *message) Ack(ctx context.Context) error { return m.raw.Ack(ctx) }

func (m *message) NakWithDelay(ctx context.Context, delay time.Duration) error {
	return m.raw.NakWithDelay(ctx, delay)
}

func (m *message) Term(ctx context.Context) error { return m.raw.Term(ctx) }

var _ handler.Message = (*message)(nil)
