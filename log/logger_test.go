package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSplitsByLevel(t *testing.T) {
	var info, warn bytes.Buffer
	l := New(DefaultOptions().WithOutputEncoder(ConsoleOutputEncoder).WithLevel(DebugLevel), &info, &warn).Named("query")
	l.Debugw("batch committed", "batch", 3)
	l.Warnw("slow trigger", "ms", 1200)
	_ = l.Sync()

	assert.Contains(t, info.String(), "batch committed")
	assert.Contains(t, info.String(), "[DEBUG]")
	assert.Contains(t, info.String(), "query")
	assert.NotContains(t, info.String(), "slow trigger")
	assert.Contains(t, warn.String(), "slow trigger")
}

func TestLevelFilter(t *testing.T) {
	var info, warn bytes.Buffer
	l := New(DefaultOptions().WithLevel(WarnLevel), &info, &warn)
	l.Info("hidden")
	l.Error("shown")
	_ = l.Sync()
	assert.Empty(t, info.String())
	assert.Contains(t, warn.String(), "shown")
}

func TestParse(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, DebugLevel, level)
	_, err = ParseLevel("loud")
	assert.Error(t, err)

	_, err = ParseOutputEncoder("console")
	assert.NoError(t, err)
	_, err = ParseOutputEncoder("xml")
	assert.Error(t, err)
}
