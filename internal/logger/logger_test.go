package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
		ok        bool
		wantErr   bool
	}{
		{0, zapcore.DebugLevel, true, false},
		{1, zapcore.DebugLevel, true, false},
		{2, zapcore.InfoLevel, true, false},
		{3, zapcore.WarnLevel, true, false},
		{4, zapcore.ErrorLevel, true, false},
		{254, zapcore.ErrorLevel, true, false},
		{Silent, 0, false, false},
		{-1, 0, false, true},
		{256, 0, false, true},
	}

	for _, tt := range tests {
		level, ok, err := Level(tt.verbosity)
		if tt.wantErr {
			assert.Error(t, err, "verbosity %d", tt.verbosity)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.ok, ok, "verbosity %d", tt.verbosity)
		if ok {
			assert.Equal(t, tt.want, level, "verbosity %d", tt.verbosity)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("silent is a no-op", func(t *testing.T) {
		l, err := New(Silent)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	})

	t.Run("warn level filters info", func(t *testing.T) {
		l, err := New(3)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New(300)
		assert.Error(t, err)
	})
}

func TestNewProduction(t *testing.T) {
	l, err := NewProduction(2)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewProduction(Silent)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestSet(t *testing.T) {
	l := zap.NewNop()
	Set(l)
	assert.Same(t, l, Log())
	Sync()
}
