package testlog

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	h := NewHandler()
	log := slog.New(h)

	log.Info("worker started", "worker", 1)
	log.With("pool", "main").Warn("reply id does not match request", "request", "a", "reply", "b")
	log.Debug("queued")

	assert.Equal(t, []string{
		"INFO: worker started worker=1",
		"WARN: reply id does not match request pool=main, request=a, reply=b",
		"DEBUG: queued",
	}, h.Lines())
	assert.True(t, h.Contains("pool=main"))
	assert.False(t, h.Contains("ERROR"))
}

func TestHandlerIgnoreDebug(t *testing.T) {
	log, h := NewLogger(WithIgnoreDebug())

	log.Debug("dropped")
	log.Error("kept", "error", "boom")

	assert.Equal(t, []string{"ERROR: kept error=boom"}, h.Lines())
}
