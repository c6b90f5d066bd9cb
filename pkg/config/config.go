// Package config loads and validates the runtime's YAML configuration.
//
// Loading itself lives outside the worker runtime's core (spec's "YAML
// configuration loading" collaborator) but the shapes below are what the
// registry (pkg/registry) consumes once a CLI-level collaborator has
// resolved a config path and called Load. This mirrors the teacher
// library's pkg/config: cleanenv for reading (YAML file with environment
// fallback), go-playground/validator for validation.
package config

import (
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// ConsumerConfig is the broker-level pull-consumer configuration shared by
// job and stream consumers (spec §4.5, §4.6, §6).
type ConsumerConfig struct {
	AckPolicy     string        `yaml:"ack_policy"`
	MaxDeliver    int           `yaml:"max_deliver"`
	MaxAckPending int           `yaml:"max_ack_pending"`
	AckWait       time.Duration `yaml:"ack_wait"`
}

// JobStreamConfig describes one entry under consumers.jobs.<stream> (§3,
// §4.5): the subject jobs are published/consumed on, the stream's priority
// weight, and its consumer config.
type JobStreamConfig struct {
	Subject  string         `yaml:"subject" validate:"required"`
	Priority int            `yaml:"priority" validate:"gte=0"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// StreamHandlerOverride describes one entry under consumers.streams (§4.6):
// a handler class tag plus overrides for its registered defaults.
type StreamHandlerOverride struct {
	Class         string         `yaml:"class" validate:"required"`
	Stream        string         `yaml:"stream"`
	ConsumerName  string         `yaml:"consumer_name"`
	BatchSize     int            `yaml:"batch_size"`
	StartPosition string         `yaml:"start_position"`
	Subjects      []string       `yaml:"subjects"`
	Consumer      ConsumerConfig `yaml:"consumer"`
}

// BrokerConfig configures the broker client connection (§6).
type BrokerConfig struct {
	URL string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
}

// Config is the full on-disk configuration document.
type Config struct {
	Broker    BrokerConfig `yaml:"broker"`
	Consumers struct {
		Jobs    map[string]JobStreamConfig `yaml:"jobs"`
		Streams []StreamHandlerOverride    `yaml:"streams"`
	} `yaml:"consumers"`
	Concurrency     int           `yaml:"concurrency" env:"COSMO_CONCURRENCY" env-default:"1"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"25s"`

	// Fetch timeouts (spec §6 "Environment variables"). These are the
	// only runtime knobs beyond the YAML document, so they are read from
	// the environment even when a config file is present.
	JobsFetchTimeout          time.Duration `yaml:"-" env:"COSMO_JOBS_FETCH_TIMEOUT" env-default:"100ms"`
	JobsSchedulerFetchTimeout time.Duration `yaml:"-" env:"COSMO_JOBS_SCHEDULER_FETCH_TIMEOUT" env-default:"5s"`
	StreamsFetchTimeout       time.Duration `yaml:"-" env:"COSMO_STREAMS_FETCH_TIMEOUT" env-default:"100ms"`
}

// Load reads configuration from the YAML file at path, falling back to
// environment variables for any field the file leaves unset, and validates
// the result.
func Load(path string, cfg *Config) error {
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return errors.ErrConfigNotFound(path, err)
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "config validation failed")
	}
	return nil
}
