package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constitutional-gov/internal/logging"
)

func TestLogSinkWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.LevelInfo, &buf)
	sink := NewLogSink(logger, 16)

	sink.Record(Event{Action: "conflict_resolved", EntityID: "cf_1"})
	sink.Record(Event{Action: "escalation_created", EntityID: "v1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	out := buf.String()
	assert.Contains(t, out, "conflict_resolved")
	assert.Contains(t, out, "escalation_created")
	assert.Equal(t, 2, strings.Count(out, "\"audit\""))
	assert.Equal(t, int64(0), sink.Dropped())
}

func TestLogSinkDropsOnBackpressure(t *testing.T) {
	// A writer that blocks long enough for the buffer to fill.
	blocker := make(chan struct{})
	logger := logging.NewWithWriter(logging.LevelInfo, blockingWriter{release: blocker})
	sink := NewLogSink(logger, 1)

	for i := 0; i < 10; i++ {
		sink.Record(Event{Action: "spam"})
	}
	close(blocker)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	assert.Greater(t, sink.Dropped(), int64(0), "overflow must be counted, not blocked on")
}

type blockingWriter struct {
	release chan struct{}
}

func (w blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}
