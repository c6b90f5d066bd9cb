package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/config"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
broker:
  url: nats://broker.local:4222
concurrency: 4
shutdown_timeout: 10s
consumers:
  jobs:
    default:
      subject: jobs.default.>
      priority: 1
      consumer:
        ack_policy: explicit
        max_deliver: 5
        max_ack_pending: 50
        ack_wait: 30s
    critical:
      subject: jobs.critical.>
      priority: 3
  streams:
    - class: ClickIndexer
      stream: events
      consumer_name: consumer-events
      batch_size: 100
      start_position: new
      subjects: ["events.clicks.>"]
`

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cosmo.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	var cfg config.Config
	require.NoError(t, config.Load(path, &cfg))

	require.Equal(t, "nats://broker.local:4222", cfg.Broker.URL)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Consumers.Jobs, 2)
	require.Equal(t, 3, cfg.Consumers.Jobs["critical"].Priority)
	require.Len(t, cfg.Consumers.Streams, 1)
	require.Equal(t, "ClickIndexer", cfg.Consumers.Streams[0].Class)
}

func TestLoadMissingFileFallsBackToEnvDefaults(t *testing.T) {
	var cfg config.Config
	err := config.Load(filepath.Join(t.TempDir(), "missing.yml"), &cfg)
	require.NoError(t, err)
	require.Equal(t, "nats://localhost:4222", cfg.Broker.URL)
	require.Equal(t, 1, cfg.Concurrency)
}
