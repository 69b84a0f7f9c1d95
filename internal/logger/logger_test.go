package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "app.log")

	closer, err := Init(Config{Level: "debug", Format: "json", File: logFile})
	require.NoError(t, err)

	Info().Str("case", "file").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"case":"file"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	_, err := Init(Config{Level: "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestHertzLevelMapping(t *testing.T) {
	assert.Equal(t, hlog.LevelDebug, hertzLevel(zerolog.DebugLevel))
	assert.Equal(t, hlog.LevelWarn, hertzLevel(zerolog.WarnLevel))
	assert.Equal(t, hlog.LevelInfo, hertzLevel(zerolog.InfoLevel))
	assert.Equal(t, hlog.LevelFatal, hertzLevel(zerolog.PanicLevel))
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Ctx(context.Background()))
	ctx := WithContext(context.Background())
	assert.NotNil(t, Ctx(ctx))
}
