package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLevel verifies mapping from strings to zapcore.Level and handling
// of unknown values.
func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		" INFO ":  zapcore.InfoLevel,
	}
	for input, expected := range cases {
		level, recognized := ParseLevel(input)
		require.True(t, recognized, input)
		require.Equal(t, expected, level, input)
	}

	_, recognized := ParseLevel("unknown")
	require.False(t, recognized)
}

// TestSetLevel adjusts the global threshold and reports it back.
func TestSetLevel(t *testing.T) {
	previous := Level()
	defer SetLevel(previous)

	SetLevel(zapcore.DebugLevel)
	require.Equal(t, zapcore.DebugLevel, Level())
}

// TestSetLogger swaps the global logger and routes logging from contexts
// without their own logger through it.
func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	previous := Logger()

	defer SetLogger(previous)

	SetLogger(zap.New(core).Sugar())
	require.Same(t, Logger(), FromContext(context.Background()))

	Info(context.Background(), "swapped")
	require.Equal(t, 1, logs.FilterMessage("swapped").Len())
}

// TestWithLevel drops messages below the wrapped level.
func TestWithLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core, WithLevel(zapcore.WarnLevel)).Sugar()

	log.Info("dropped")
	log.With("component", "worker").Warn("kept")

	require.Equal(t, 0, logs.FilterMessage("dropped").Len())
	require.Equal(t, 1, logs.FilterMessage("kept").Len())
}

// TestContextHelpers verifies WithName, WithKV and WithFields scope the
// logger carried by the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "pipeline")
	ctx = WithKV(ctx, "run_id", "r1")
	ctx = WithFields(ctx, "digest", "sha256:abc", "revision", "deadbeef")

	InfoKV(ctx, "recorded")

	entries := logs.FilterMessage("recorded").All()
	require.Len(t, entries, 1)
	require.Equal(t, "pipeline", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	require.Equal(t, "r1", fields["run_id"])
	require.Equal(t, "sha256:abc", fields["digest"])
	require.Equal(t, "deadbeef", fields["revision"])
}
