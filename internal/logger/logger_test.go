package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"bogus": zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
	}
	for in, want := range cases {
		l, err := New(in, "json", "conversation-router")
		require.NoError(t, err)
		require.True(t, l.Core().Enabled(want), "level %q should enable %s", in, want)
		if want > zapcore.DebugLevel {
			require.False(t, l.Core().Enabled(want-1), "level %q should not enable %s", in, want-1)
		}
	}
}

func TestNew_Console(t *testing.T) {
	l, err := New("debug", "console", "")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
