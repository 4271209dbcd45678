package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
	"github.com/JakeFAU/schema-crawler/internal/progress"
)

func TestLogSinkConsume(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: time.Unix(1, 0), Stage: progress.StageJobStart, URL: "https://example.com"},
		{
			JobID:      "job-1",
			TS:         time.Unix(2, 0),
			Stage:      progress.StagePageDone,
			URL:        "https://example.com/a",
			PageStatus: crawler.PageStatusFailed,
			Note:       "boom",
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "JOB_START", entries[0].ContextMap()["stage"])
	require.NotContains(t, entries[0].ContextMap(), "page_status")
	require.Equal(t, "failed", entries[1].ContextMap()["page_status"])
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
}
