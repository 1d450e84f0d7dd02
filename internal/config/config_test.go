package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func write(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "notebook.yml", `
log:
  level: debug
data_dir: /srv/data
trigger: 5 seconds
broadcast:
  delay: 250ms
  loop: false
metrics:
  enabled: true
`)
	config, err := Load(path)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "console", config.Log.Encoder)
	assert.Equal(t, "/srv/data", config.DataDir)
	assert.Equal(t, "5 seconds", config.Trigger)
	assert.Equal(t, 250*time.Millisecond, config.Broadcast.Delay)
	assert.False(t, config.Broadcast.Loop)
	assert.Equal(t, "localhost:9999", config.Broadcast.Addr)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "localhost:9090", config.Metrics.Addr)
	assert.Equal(t, 10*time.Second, config.SocketDuration)
}

func TestLoadOverlayAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "notebook.yml", "env: dev\ndata_dir: base\ntrigger: once\n")
	write(t, dir, "notebook-dev.yml", "data_dir: overlay\n")
	t.Setenv("NOTEBOOK_BROADCAST_ADDR", "127.0.0.1:7000")

	config, err := Load(path)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "dev", config.Env)
	assert.Equal(t, "overlay", config.DataDir)
	assert.Equal(t, "once", config.Trigger)
	assert.Equal(t, "127.0.0.1:7000", config.Broadcast.Addr)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err = os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	config, err := Load("")
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "data", config.DataDir)
	assert.Equal(t, "availableNow", config.Trigger)
	assert.True(t, config.Broadcast.Loop)
	assert.Equal(t, time.Second, config.Broadcast.Delay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
