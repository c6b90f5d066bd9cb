// Package membroker is an in-process, channel-and-map backed implementation
// of broker.Client. It exists so pkg/jobs, pkg/streams, and pkg/publisher
// have a dependency-free test double, the same role the teacher library's
// pkg/messaging/adapters/memory plays for its Broker interface.
//
// It is not a production broker: there is no persistence across process
// restarts. It does reproduce the semantics the spec's invariants are
// tested against: explicit ack/nak-with-delay/term, max_deliver-driven
// redelivery, ack_wait expiry, and Nats-Msg-Id dedup within a duplicate
// window.
package membroker

import (
	"context"
	"sync"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
)

type storedMsg struct {
	seq     uint64
	subject string
	data    []byte
	header  broker.Header
}

type stream struct {
	mu              sync.Mutex
	cfg             broker.StreamConfig
	messages        []*storedMsg
	nextSeq         uint64
	dedup           map[string]time.Time // Nats-Msg-Id -> publish time
	duplicateWindow time.Duration
	consumers       map[string]*consumer
}

// Broker is the in-memory broker.Client implementation.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates an empty in-memory broker.
func New() *Broker {
	return &Broker{streams: make(map[string]*stream)}
}

func (b *Broker) Publish(ctx context.Context, subject string, payload []byte, opts broker.PublishOptions) (*broker.PublishAck, error) {
	b.mu.Lock()
	var target *stream
	if opts.Stream != "" {
		target = b.streams[opts.Stream]
	} else {
		for _, s := range b.streams {
			if subjectMatches(s.cfg.Subjects, subject) {
				target = s
				break
			}
		}
	}
	b.mu.Unlock()

	if target == nil {
		return nil, broker.ErrNoStreamResponse
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	msgID := opts.Header.Get("Nats-Msg-Id")
	if msgID != "" && target.duplicateWindow > 0 {
		if t, ok := target.dedup[msgID]; ok && time.Since(t) < target.duplicateWindow {
			return &broker.PublishAck{Stream: target.cfg.Name, Sequence: 0, Duplicate: true}, nil
		}
	}

	target.nextSeq++
	seq := target.nextSeq
	m := &storedMsg{seq: seq, subject: subject, data: append([]byte(nil), payload...), header: opts.Header.Clone()}
	target.messages = append(target.messages, m)
	if msgID != "" {
		if target.dedup == nil {
			target.dedup = make(map[string]time.Time)
		}
		target.dedup[msgID] = time.Now()
	}

	for _, c := range target.consumers {
		if subjectMatches(c.filterSubjects, subject) {
			c.deliver(m)
		}
	}

	return &broker.PublishAck{Stream: target.cfg.Name, Sequence: seq}, nil
}

func (b *Broker) Subscribe(ctx context.Context, streamName string, subjects []string, consumerName string, cfg broker.ConsumerConfig) (broker.PullConsumer, error) {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return nil, broker.ErrConsumerNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumers == nil {
		s.consumers = make(map[string]*consumer)
	}
	if c, ok := s.consumers[consumerName]; ok {
		return c, nil
	}

	c := newConsumer(s, subjects, cfg)
	s.consumers[consumerName] = c

	start := 0
	switch cfg.DeliverPolicy {
	case broker.DeliverLast:
		if len(s.messages) > 0 {
			start = len(s.messages) - 1
		}
	case broker.DeliverNew:
		start = len(s.messages)
	case broker.DeliverByStartTime:
		for i, m := range s.messages {
			_ = m
			start = i
			break
		}
	default: // DeliverAll
		start = 0
	}
	for _, m := range s.messages[start:] {
		if subjectMatches(subjects, m.subject) {
			c.deliver(m)
		}
	}

	return c, nil
}

func (b *Broker) EnsureStream(ctx context.Context, cfg broker.StreamConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[cfg.Name]; ok {
		return nil // idempotent: no-op if present
	}
	b.streams[cfg.Name] = &stream{cfg: cfg, duplicateWindow: cfg.DuplicateWindow}
	return nil
}

func (b *Broker) StreamInfo(ctx context.Context, name string) (*broker.StreamInfo, error) {
	b.mu.Lock()
	s, ok := b.streams[name]
	b.mu.Unlock()
	if !ok {
		return nil, broker.ErrStreamNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &broker.StreamInfo{Name: name, Subjects: s.cfg.Subjects, Messages: uint64(len(s.messages))}, nil
}

func (b *Broker) ListStreams(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.streams))
	for name := range b.streams {
		names = append(names, name)
	}
	return names, nil
}

func (b *Broker) DeleteStream(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[name]; !ok {
		return broker.ErrStreamNotFound
	}
	delete(b.streams, name)
	return nil
}

func (b *Broker) GetMessage(ctx context.Context, streamName string, seq uint64) (*broker.StoredMessage, error) {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return nil, broker.ErrStreamNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.seq == seq {
			return &broker.StoredMessage{Subject: m.subject, Data: m.data, Header: m.header, Sequence: m.seq}, nil
		}
	}
	return nil, broker.ErrStreamNotFound
}

func (b *Broker) Close() error { return nil }

func subjectMatches(patterns []string, subject string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if subjectMatch(p, subject) {
			return true
		}
	}
	return false
}

// subjectMatch implements the broker's dotted wildcard matching: '*' matches
// exactly one token, '>' matches one or more trailing tokens.
func subjectMatch(pattern, subject string) bool {
	pTokens := splitSubject(pattern)
	sTokens := splitSubject(subject)
	for i, pt := range pTokens {
		if pt == ">" {
			return i <= len(sTokens)
		}
		if i >= len(sTokens) {
			return false
		}
		if pt == "*" {
			continue
		}
		if pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}

func splitSubject(s string) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			tokens = append(tokens, s[start:i])
			start = i + 1
		}
	}
	tokens = append(tokens, s[start:])
	return tokens
}
