package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler)).With("rank", 3)

	logger.Debug("barrier reached", "round", 7)
	logger.Warn("slow rank")

	out := buf.String()
	require.Contains(t, out, "barrier reached")
	require.Contains(t, out, "rank=3")
	require.Contains(t, out, "round=7")
	require.Contains(t, out, "level=WARN")
}

func TestNopLogger(t *testing.T) {
	var logger Logger = NewNop()
	require.NotPanics(t, func() {
		logger.Info("ignored", "key", "value")
		logger.Error("ignored")
	})
}
