package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gather-vision/internal/progress"
)

func TestPrometheusSinkRecordsRunAndFetch(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	src := "electricity/au-qld-ergon"
	batch := []progress.Event{
		{RunID: runID, Source: src, TS: time.Now(), Stage: progress.StageRunStart},
		{
			RunID:       runID,
			Source:      src,
			TS:          time.Now(),
			Stage:       progress.StageFetchDone,
			Site:        "www.ergon.com.au",
			Bytes:       128,
			StatusClass: progress.Status2xx,
			Dur:         150 * time.Millisecond,
		},
		{RunID: runID, Source: src, TS: time.Now(), Stage: progress.StageFetchError, Site: "www.ergon.com.au"},
		{RunID: runID, Source: src, TS: time.Now(), Stage: progress.StageRunDone, Dur: 2 * time.Second, Items: 3},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues(src)), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues(src, "completed")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsActive), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.items.WithLabelValues(src)), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("www.ergon.com.au", "2xx")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchErrors.WithLabelValues("www.ergon.com.au")), 1e-9)
	require.InDelta(t, 128.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("www.ergon.com.au")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "gather_fetch_duration_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
