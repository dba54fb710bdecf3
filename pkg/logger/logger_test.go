package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromZap(zap.New(core))

	log.Info("order completed", "order_id", "O1", "network", "BSC")
	log.With("chain", "TRON").Warn("endpoint failed", "endpoint", "trongrid")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "order completed", entries[0].Message)
		assert.Equal(t, "O1", entries[0].ContextMap()["order_id"])
		assert.Equal(t, "TRON", entries[1].ContextMap()["chain"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}
