package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerEmitsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &ZapLogger{log: zap.New(core)}

	log.Info("payment created", map[string]any{
		"payment_hash": "0xaaa",
		"chain_id":     int64(137),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "payment created", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "0xaaa", fields["payment_hash"])
	assert.Equal(t, int64(137), fields["chain_id"])
}

func TestZapFieldsKeepStableOrder(t *testing.T) {
	fields := toZapFields(map[string]any{"b": 2, "a": 1, "c": 3})
	require.Len(t, fields, 3)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "b", fields[1].Key)
	assert.Equal(t, "c", fields[2].Key)
}

func TestNewZapLoggerLevelFallback(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "", "verbose"} {
		assert.NotNil(t, NewZapLogger(level))
	}
}
