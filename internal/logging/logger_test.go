package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, filter map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core), filter)
	t.Cleanup(CloseAll)
	return logs
}

func TestCategoriesAreNamedLoggers(t *testing.T) {
	logs := observe(t, nil)

	Orchestrator("dispatched %d nodes", 3)
	StoreDebug("saved %s", "s1")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "orchestrator", entries[0].LoggerName)
	assert.Equal(t, "dispatched 3 nodes", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "store", entries[1].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestCategoryToggle(t *testing.T) {
	logs := observe(t, map[string]bool{"conflict": false, "planner": true})

	Conflict("should be dropped")
	Planner("kept")
	Research("unlisted categories default on")

	assert.False(t, IsCategoryEnabled(CategoryConflict))
	assert.True(t, IsCategoryEnabled(CategoryResearch))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestNoopBeforeInitialize(t *testing.T) {
	CloseAll()
	assert.NotPanics(t, func() {
		Session("nothing happens")
		Get(CategoryEvents).With("k", "v").Error("still nothing")
	})
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategorySession).With("session", "abc").Info("resumed")

	entries := logs.FilterField(zap.String("session", "abc")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "resumed", entries[0].Message)
}

func TestTimerLogging(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryStore, "save")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.GreaterOrEqual(t, elapsed, 2*time.Millisecond)
	slow := logs.FilterLoggerName("performance").All()
	require.Len(t, slow, 1)
	assert.Contains(t, slow[0].Message, "store/save took")
}

func TestInitializeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sleuth.log")
	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: path}))
	t.Cleanup(CloseAll)

	Boot("hello")
	require.NoError(t, Sync())
	assert.FileExists(t, path)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
