package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/gather-vision/internal/progress"
)

func TestLogSinkRaisesAbortsToWarn(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := uuid.New()

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Source: "petitions/au-qld", TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, Source: "petitions/au-qld", TS: time.Now(), Stage: progress.StageRunAbort, Note: "context canceled"},
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "context canceled", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
