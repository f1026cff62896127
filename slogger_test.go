// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSLogger(t *testing.T) {
	logger := DefaultSLogger()

	// Should return a non-nil logger
	assert.NotNil(t, logger)

	// Should be able to call Debug and Info without panic (discards output)
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
}

func TestGateDebug(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		logger, records := newCapturingLogger()
		gated := gateDebug(logger, true)

		gated.Debug("debug message")
		gated.Info("info message")

		require.Len(t, *records, 2)
		assert.Equal(t, slog.LevelDebug, (*records)[0].Level)
		assert.Equal(t, slog.LevelInfo, (*records)[1].Level)
	})

	t.Run("disabled", func(t *testing.T) {
		logger, records := newCapturingLogger()
		gated := gateDebug(logger, false)

		gated.Debug("debug message")
		gated.Info("info message")

		require.Len(t, *records, 1)
		assert.Equal(t, "info message", (*records)[0].Message)
	})
}

func TestWithSpanID(t *testing.T) {
	logger, records := newCapturingLogger()
	spanned := withSpanID(logger, "abc")

	args := []any{slog.String("key", "value")}
	spanned.Info("info message", args...)
	spanned.Debug("debug message")

	require.Len(t, *records, 2)
	for _, record := range *records {
		assert.Equal(t, "abc", recordAttr(record, "spanID").String())
	}
	assert.Equal(t, "value", recordAttr((*records)[0], "key").String())

	// The caller's arguments must not be modified
	assert.Len(t, args, 1)
}
