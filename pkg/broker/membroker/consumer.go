package membroker

import (
	"context"
	"sync"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
)

// delivery tracks one message's redelivery state within a single consumer.
type delivery struct {
	msg          *storedMsg
	numDelivered int
	timer        *time.Timer
}

// consumer is a durable pull consumer bound to a stream's subject filter.
// Deliveries (first attempts and redeliveries alike) flow through a single
// buffered channel so Fetch can pull batches in arrival order.
type consumer struct {
	s              *stream
	filterSubjects []string
	cfg            broker.ConsumerConfig
	pending        chan *delivery

	mu       sync.Mutex
	seqCount uint64
}

func newConsumer(s *stream, subjects []string, cfg broker.ConsumerConfig) *consumer {
	return &consumer{s: s, filterSubjects: subjects, cfg: cfg, pending: make(chan *delivery, 100000)}
}

func (c *consumer) deliver(m *storedMsg) {
	c.pending <- &delivery{msg: m}
}

func (c *consumer) requeue(d *delivery) {
	c.pending <- d
}

// Fetch pulls up to batch messages, waiting at most timeout for the first
// one to arrive. Matches spec §4.1/§7: an empty result with a nil error
// means the pull timed out.
func (c *consumer) Fetch(ctx context.Context, batch int, timeout time.Duration) ([]broker.Msg, error) {
	if batch <= 0 {
		batch = 1
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	out := make([]broker.Msg, 0, batch)
	for len(out) < batch {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case d, ok := <-c.pending:
			if !ok {
				return out, nil
			}
			c.mu.Lock()
			d.numDelivered++
			c.seqCount++
			cseq := c.seqCount
			c.mu.Unlock()

			dm := &deliveredMsg{c: c, d: d, consumerSeq: cseq, numPending: len(c.pending)}
			if c.cfg.AckWait > 0 {
				d.timer = time.AfterFunc(c.cfg.AckWait, func() { c.requeue(d) })
			}
			out = append(out, dm)
		case <-deadline.C:
			return out, nil
		}
	}
	return out, nil
}

// deliveredMsg is a single delivery handed to the application, implementing
// broker.Msg.
type deliveredMsg struct {
	c           *consumer
	d           *delivery
	consumerSeq uint64
	numPending  int
}

func (m *deliveredMsg) Subject() string        { return m.d.msg.subject }
func (m *deliveredMsg) Data() []byte           { return m.d.msg.data }
func (m *deliveredMsg) Headers() broker.Header { return m.d.msg.header }

func (m *deliveredMsg) Metadata() (broker.MsgMetadata, error) {
	return broker.MsgMetadata{
		NumDelivered: uint64(m.d.numDelivered),
		StreamSeq:    m.d.msg.seq,
		ConsumerSeq:  m.consumerSeq,
		NumPending:   uint64(m.numPending),
		Timestamp:    time.Now(),
	}, nil
}

func (m *deliveredMsg) Ack(ctx context.Context) error {
	m.stopTimer()
	return nil
}

func (m *deliveredMsg) Term(ctx context.Context) error {
	m.stopTimer()
	return nil
}

func (m *deliveredMsg) NakWithDelay(ctx context.Context, delay time.Duration) error {
	m.stopTimer()

	// Broker-enforced delivery cap: once exhausted, the real broker would
	// terminate the message instead of redelivering it again.
	if m.c.cfg.MaxDeliver > 0 && m.d.numDelivered >= m.c.cfg.MaxDeliver {
		return nil
	}

	if delay <= 0 {
		m.c.requeue(m.d)
		return nil
	}
	time.AfterFunc(delay, func() { m.c.requeue(m.d) })
	return nil
}

func (m *deliveredMsg) stopTimer() {
	if m.d.timer != nil {
		m.d.timer.Stop()
	}
}
