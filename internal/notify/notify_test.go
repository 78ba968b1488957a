package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorderKeepsMostRecentAndForwards(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := NewRecorder(2, NewLogSink(zap.New(core)))

	rec.Notify("one", Info)
	rec.Notify("two", Warning)
	rec.Notify("three", Error)

	assert.Equal(t, []Message{{Text: "two", Severity: Warning}, {Text: "three", Severity: Error}}, rec.Messages())
	assert.Equal(t, 3, logs.Len())
	assert.Len(t, rec.Drain(), 2)
	assert.Empty(t, rec.Messages())
}
