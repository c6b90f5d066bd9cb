// Package natsjs is the production broker.Client implementation, backed by
// a real JetStream-enabled NATS server via github.com/nats-io/nats.go and
// its jetstream sub-package. It is the module's only broker adapter with
// external dependencies — grounded on the teacher library's own
// pkg/messaging/adapters/nats, generalized from a single-stream producer to
// the multi-stream, multi-consumer shape the worker runtime needs.
package natsjs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/concurrency"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config configures the connection to the NATS server.
type Config struct {
	URL       string        `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	Name      string        `yaml:"name" env:"NATS_CLIENT_NAME" env-default:"cosmonauts"`
	CredsFile string        `yaml:"creds_file" env:"NATS_CREDS_FILE"`
	Token     string        `yaml:"token" env:"NATS_TOKEN"`
	User      string        `yaml:"user" env:"NATS_USER"`
	Password  string        `yaml:"password" env:"NATS_PASSWORD"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env-default:"10s"`
}

// Broker is the JetStream-backed broker.Client implementation.
type Broker struct {
	conn *nats.Conn
	js   jetstream.JetStream
	mu   *concurrency.SmartRWMutex
}

// New connects to the NATS server described by cfg and returns a ready
// Broker. The connection is configured to reconnect indefinitely, since the
// job/stream processors treat a broker outage as "keep retrying", never as
// fatal (spec §7).
func New(cfg Config) (*Broker, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(cfg.ConnectTimeout),
	}

	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Broker{
		conn: conn,
		js:   js,
		mu:   concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "NATSJetStreamBroker"}),
	}, nil
}

func (b *Broker) Publish(ctx context.Context, subject string, payload []byte, opts broker.PublishOptions) (*broker.PublishAck, error) {
	msg := &nats.Msg{Subject: subject, Data: payload, Header: nats.Header{}}
	for k, v := range opts.Header {
		msg.Header[k] = v
	}
	if opts.Stream != "" {
		msg.Header.Set("Nats-Expected-Stream", opts.Stream)
	}

	ack, err := b.js.PublishMsg(ctx, msg)
	if err != nil {
		if isNoResponders(err) {
			return nil, broker.ErrNoStreamResponse
		}
		return nil, err
	}

	return &broker.PublishAck{Stream: ack.Stream, Sequence: ack.Sequence, Duplicate: ack.Duplicate}, nil
}

func (b *Broker) Subscribe(ctx context.Context, streamName string, subjects []string, consumerName string, cfg broker.ConsumerConfig) (broker.PullConsumer, error) {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, broker.ErrConsumerNotFound
		}
		return nil, err
	}

	consCfg := jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckWait:       cfg.AckWait,
		DeliverPolicy: deliverPolicy(cfg.DeliverPolicy),
	}
	if cfg.DeliverPolicy == broker.DeliverByStartTime {
		consCfg.OptStartTime = &cfg.OptStartTime
	}
	if len(subjects) == 1 {
		consCfg.FilterSubject = subjects[0]
	} else if len(subjects) > 1 {
		consCfg.FilterSubjects = subjects
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consCfg)
	if err != nil {
		return nil, err
	}

	return &pullConsumer{consumer: consumer}, nil
}

func (b *Broker) EnsureStream(ctx context.Context, cfg broker.StreamConfig) error {
	if _, err := b.js.Stream(ctx, cfg.Name); err == nil {
		return nil // idempotent: no-op if present
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return err
	}

	storage := jetstream.FileStorage
	if strings.EqualFold(cfg.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}

	retention := jetstream.LimitsPolicy
	switch strings.ToLower(cfg.Retention) {
	case "interest":
		retention = jetstream.InterestPolicy
	case "workqueue":
		retention = jetstream.WorkQueuePolicy
	}

	_, err := b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		Storage:    storage,
		Retention:  retention,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.DuplicateWindow,
	})
	return err
}

func (b *Broker) StreamInfo(ctx context.Context, name string) (*broker.StreamInfo, error) {
	stream, err := b.js.Stream(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, broker.ErrStreamNotFound
		}
		return nil, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &broker.StreamInfo{Name: info.Config.Name, Subjects: info.Config.Subjects, Messages: info.State.Msgs}, nil
}

func (b *Broker) ListStreams(ctx context.Context) ([]string, error) {
	var names []string
	lister := b.js.StreamNames(ctx)
	for name := range lister.Name() {
		names = append(names, name)
	}
	if err := lister.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (b *Broker) DeleteStream(ctx context.Context, name string) error {
	err := b.js.DeleteStream(ctx, name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return broker.ErrStreamNotFound
	}
	return err
}

func (b *Broker) GetMessage(ctx context.Context, streamName string, seq uint64) (*broker.StoredMessage, error) {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, broker.ErrStreamNotFound
		}
		return nil, err
	}
	raw, err := stream.GetMsg(ctx, seq)
	if err != nil {
		return nil, err
	}
	hdr := broker.Header{}
	for k, v := range raw.Header {
		hdr[k] = v
	}
	return &broker.StoredMessage{
		Subject:   raw.Subject,
		Data:      raw.Data,
		Header:    hdr,
		Sequence:  raw.Sequence,
		Timestamp: raw.Time,
	}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn.Close()
	return nil
}

func deliverPolicy(p broker.DeliverPolicy) jetstream.DeliverPolicy {
	switch p {
	case broker.DeliverLast:
		return jetstream.DeliverLastPolicy
	case broker.DeliverNew:
		return jetstream.DeliverNewPolicy
	case broker.DeliverByStartTime:
		return jetstream.DeliverByStartTimePolicy
	default:
		return jetstream.DeliverAllPolicy
	}
}

func isNoResponders(err error) bool {
	return errors.Is(err, nats.ErrNoResponders)
}

// pullConsumer adapts jetstream.Consumer's Fetch to broker.PullConsumer.
type pullConsumer struct {
	consumer jetstream.Consumer
}

func (p *pullConsumer) Fetch(ctx context.Context, batch int, timeout time.Duration) ([]broker.Msg, error) {
	msgBatch, err := p.consumer.Fetch(batch, jetstream.FetchMaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}

	var out []broker.Msg
	for m := range msgBatch.Messages() {
		out = append(out, &jsMsg{m: m})
	}
	if err := msgBatch.Error(); err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// jsMsg adapts jetstream.Msg to broker.Msg.
type jsMsg struct {
	m jetstream.Msg
}

func (j *jsMsg) Subject() string { return j.m.Subject() }
func (j *jsMsg) Data() []byte    { return j.m.Data() }

func (j *jsMsg) Headers() broker.Header {
	hdr := broker.Header{}
	for k, v := range j.m.Headers() {
		hdr[k] = v
	}
	return hdr
}

func (j *jsMsg) Metadata() (broker.MsgMetadata, error) {
	md, err := j.m.Metadata()
	if err != nil {
		return broker.MsgMetadata{}, err
	}
	return broker.MsgMetadata{
		NumDelivered: md.NumDelivered,
		StreamSeq:    md.Sequence.Stream,
		ConsumerSeq:  md.Sequence.Consumer,
		NumPending:   md.NumPending,
		Timestamp:    md.Timestamp,
	}, nil
}

func (j *jsMsg) Ack(ctx context.Context) error {
	return j.m.Ack()
}

func (j *jsMsg) NakWithDelay(ctx context.Context, delay time.Duration) error {
	return j.m.NakWithDelay(delay)
}

func (j *jsMsg) Term(ctx context.Context) error {
	return j.m.Term()
}
