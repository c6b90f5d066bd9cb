// Package registry is the process-wide mapping from handler class tags to
// their default subject/consumer/stream configuration (spec §3
// "Registry", §4.6's handler registration + config merge).
//
// Entries are written only during registration and configuration load,
// both of which happen before the Engine starts; afterward the registry
// is read-only, so the guard only needs to catch a misbehaving caller
// that registers late, not steady-state contention (spec §5).
package registry

import (
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/broker"
	"github.com/bitsbeam/cosmonauts/pkg/concurrency"
	"github.com/bitsbeam/cosmonauts/pkg/config"
	"github.com/bitsbeam/cosmonauts/pkg/handler"
)

// JobStream is one resolved `consumers.jobs.<stream>` entry: the subject
// jobs on that stream publish/consume on, its priority weight, and its
// broker-level consumer configuration.
type JobStream struct {
	Stream   string
	Subject  string
	Priority int
	Consumer broker.ConsumerConfig
}

// StreamDefaults is what a stream handler supplies at registration time
// (spec §4.6 point 1).
type StreamDefaults struct {
	Stream        string
	ConsumerName  string
	BatchSize     int
	StartPosition string // first | last | new | an RFC3339 timestamp
	Subjects      []string
	Consumer      broker.ConsumerConfig
	Serializer    handler.Serializer
}

// StreamRegistration is a fully merged stream handler entry ready for the
// stream processor's setup phase (spec §4.6).
type StreamRegistration struct {
	Class         string
	Stream        string
	ConsumerName  string
	BatchSize     int
	Subjects      []string
	Consumer      broker.ConsumerConfig
	Serializer    handler.Serializer
	NewHandler    handler.StreamFactory
}

// Registry is the process-wide handler/config map.
type Registry struct {
	mu *concurrency.SmartMutex

	jobFactories map[string]handler.JobFactory

	streamFactories map[string]handler.StreamFactory
	streamDefaults  map[string]StreamDefaults

	jobStreams      map[string]JobStream
	streamOverrides []config.StreamHandlerOverride
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		mu:              concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "HandlerRegistry"}),
		jobFactories:    make(map[string]handler.JobFactory),
		streamFactories: make(map[string]handler.StreamFactory),
		streamDefaults:  make(map[string]StreamDefaults),
		jobStreams:      make(map[string]JobStream),
	}
}

// RegisterJobHandler associates a job class tag with the factory that
// constructs a fresh handler per message (spec §4.5 step 3).
func (r *Registry) RegisterJobHandler(class string, factory handler.JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobFactories[class] = factory
}

// JobHandlerFor resolves class to its factory. ok is false for an
// unregistered class (spec §7 "Unknown class tag").
func (r *Registry) JobHandlerFor(class string) (handler.JobFactory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.jobFactories[class]
	return f, ok
}

// RegisterStreamHandler associates a stream class tag with its factory
// and default options (spec §4.6 point 1).
func (r *Registry) RegisterStreamHandler(class string, factory handler.StreamFactory, defaults StreamDefaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamFactories[class] = factory
	r.streamDefaults[class] = defaults
}

// LoadJobStreams installs the jobs config loaded from configuration
// (spec §3 "jobs config: {stream_name → {subject, priority, broker
// consumer config}} loaded from configuration").
func (r *Registry) LoadJobStreams(cfg map[string]config.JobStreamConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stream, entry := range cfg {
		r.jobStreams[stream] = JobStream{
			Stream:   stream,
			Subject:  entry.Subject,
			Priority: entry.Priority,
			Consumer: toBrokerConsumerConfig(entry.Consumer, stream),
		}
	}
}

// LoadStreamOverrides installs the `consumers.streams` config entries
// (spec §4.6 point 2).
func (r *Registry) LoadStreamOverrides(overrides []config.StreamHandlerOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamOverrides = overrides
}

// JobStreams returns a snapshot of the configured job streams.
func (r *Registry) JobStreams() map[string]JobStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]JobStream, len(r.jobStreams))
	for k, v := range r.jobStreams {
		out[k] = v
	}
	return out
}

// StreamRegistrations merges registered stream-handler defaults with any
// config overrides into the final setup list for the stream processor
// (spec §4.6).
func (r *Registry) StreamRegistrations() []StreamRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	overridesByClass := make(map[string]config.StreamHandlerOverride, len(r.streamOverrides))
	for _, o := range r.streamOverrides {
		overridesByClass[o.Class] = o
	}

	out := make([]StreamRegistration, 0, len(r.streamFactories))
	for class, factory := range r.streamFactories {
		defaults := r.streamDefaults[class]
		override, hasOverride := overridesByClass[class]

		reg := StreamRegistration{
			Class:        class,
			Stream:       defaults.Stream,
			ConsumerName: defaults.ConsumerName,
			BatchSize:    defaults.BatchSize,
			Subjects:     defaults.Subjects,
			Consumer:     defaults.Consumer,
			Serializer:   defaults.Serializer,
			NewHandler:   factory,
		}
		if reg.Serializer == nil {
			reg.Serializer = handler.Default
		}

		if hasOverride {
			if override.Stream != "" {
				reg.Stream = override.Stream
			}
			if override.ConsumerName != "" {
				reg.ConsumerName = override.ConsumerName
			}
			if override.BatchSize != 0 {
				reg.BatchSize = override.BatchSize
			}
			if len(override.Subjects) > 0 {
				reg.Subjects = override.Subjects
			}
			reg.Consumer = mergeConsumer(reg.Consumer, toBrokerConsumerConfig(override.Consumer, reg.Stream))
		}
		if hasOverride && override.StartPosition != "" {
			reg.Consumer.DeliverPolicy, reg.Consumer.OptStartTime = deliverPolicyFor(override.StartPosition)
		} else if defaults.StartPosition != "" {
			reg.Consumer.DeliverPolicy, reg.Consumer.OptStartTime = deliverPolicyFor(defaults.StartPosition)
		}

		if reg.ConsumerName == "" {
			reg.ConsumerName = "consumer-" + reg.Stream
		}

		out = append(out, reg)
	}
	return out
}

// deliverPolicyFor derives a broker deliver policy from a start_position
// value (spec §4.6): first/last/new/a timestamp, defaulting to all.
func deliverPolicyFor(startPosition string) (broker.DeliverPolicy, time.Time) {
	switch startPosition {
	case "first":
		return broker.DeliverAll, time.Time{}
	case "last":
		return broker.DeliverLast, time.Time{}
	case "new":
		return broker.DeliverNew, time.Time{}
	case "":
		return broker.DeliverAll, time.Time{}
	default:
		if t, err := time.Parse(time.RFC3339, startPosition); err == nil {
			return broker.DeliverByStartTime, t
		}
		return broker.DeliverAll, time.Time{}
	}
}

func toBrokerConsumerConfig(c config.ConsumerConfig, durable string) broker.ConsumerConfig {
	return broker.ConsumerConfig{
		Durable:       "consumer-" + durable,
		AckPolicy:     orDefault(c.AckPolicy, "explicit"),
		MaxDeliver:    c.MaxDeliver,
		MaxAckPending: c.MaxAckPending,
		AckWait:       c.AckWait,
	}
}

// mergeConsumer overlays override fields onto base wherever the override
// supplied a non-zero value.
func mergeConsumer(base, override broker.ConsumerConfig) broker.ConsumerConfig {
	if override.MaxDeliver != 0 {
		base.MaxDeliver = override.MaxDeliver
	}
	if override.MaxAckPending != 0 {
		base.MaxAckPending = override.MaxAckPending
	}
	if override.AckWait != 0 {
		base.AckWait = override.AckWait
	}
	if override.AckPolicy != "" {
		base.AckPolicy = override.AckPolicy
	}
	return base
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
