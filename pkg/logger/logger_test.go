package logger_test

import (
	"context"
	"testing"

	"github.com/bitsbeam/cosmonauts/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestWithAttachesFields(t *testing.T) {
	logger.Init(logger.Config{Level: "DEBUG", Format: "JSON"})

	ctx := logger.With(context.Background(), "jid", "abc123")
	l := logger.FromContext(ctx)
	require.NotNil(t, l)

	// A logger with no attached context falls back to the global default.
	require.Same(t, logger.L(), logger.FromContext(context.Background()))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	l := logger.Init(logger.Config{Level: "not-a-level", Format: "TEXT"})
	require.True(t, l.Enabled(context.Background(), -0))
}
