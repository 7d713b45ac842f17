package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("json at info", func(t *testing.T) {
		logger, err := New("info", "json")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("console at debug", func(t *testing.T) {
		logger, err := New("debug", "console")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("empty format defaults to json", func(t *testing.T) {
		_, err := New("warn", "")
		require.NoError(t, err)
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New("loud", "json")
		require.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New("info", "xml")
		require.Error(t, err)
	})
}

func TestContextRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContextWithoutLogger(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Safe to use even when nothing was stored.
	logger.Info("noop")
}
