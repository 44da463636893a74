package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigLevels(t *testing.T) {
	t.Parallel()

	require.Equal(t, zapcore.InfoLevel, config(Options{}).Level.Level())
	require.Equal(t, zapcore.DebugLevel, config(Options{Verbose: true}).Level.Level())
}

func TestConfigEncodings(t *testing.T) {
	t.Parallel()

	console := config(Options{})
	require.Equal(t, "console", console.Encoding)
	require.Empty(t, console.EncoderConfig.TimeKey)
	require.True(t, console.DisableStacktrace)

	structured := config(Options{JSON: true, Verbose: true})
	require.Equal(t, "json", structured.Encoding)
	require.Nil(t, structured.Sampling)
	require.False(t, structured.DisableStacktrace)
	require.Equal(t, []string{"stderr"}, structured.OutputPaths)
}

func TestNewBuildsLogger(t *testing.T) {
	t.Parallel()

	for _, opts := range []Options{{}, {JSON: true, Version: "1.2.3"}} {
		logger, err := New(opts)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}
