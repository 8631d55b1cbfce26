package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core, zap.AddCaller()))
	t.Cleanup(func() { Replace(zap.NewNop()) })
	return logs
}

func TestHelpersReportCaller(t *testing.T) {
	logs := observe(t)

	Info("from helper")
	Warn("warned", zap.String("path", "/x"))
	L().Info("from global")
	Named("scanner").Debug("from named")

	entries := logs.All()
	require.Len(t, entries, 4)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logging_test.go", filepath.Base(e.Caller.File), e.Message)
	}
	assert.Equal(t, "scanner", entries[3].LoggerName)
	assert.Equal(t, "/x", entries[1].ContextMap()["path"])
}

func TestSetLevel(t *testing.T) {
	SetLevel("warn")
	t.Cleanup(func() { SetLevel("info") })
	assert.Equal(t, zapcore.WarnLevel, globalLevel.Level())

	SetLevel("bogus")
	assert.Equal(t, zapcore.WarnLevel, globalLevel.Level())
}
