package store

import (
	"testing"

	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFSBackend(t *testing.T, dir string) Backend {
	t.Helper()
	backend, err := NewFSBackend(log.Nop(), dir, 0)
	require.NoError(t, err)
	return backend
}

func testBackend(t *testing.T, backend Backend) {
	id, v, err := backend.Latest("offsets")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), id)
	assert.Nil(t, v)

	for i := int64(0); i < 4; i++ {
		require.NoError(t, backend.Put("offsets", i, []byte{byte(i)}))
	}
	id, v, err = backend.Latest("offsets")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.Equal(t, []byte{3}, v)

	require.NoError(t, backend.Purge("offsets", 2))
	_, err = backend.Get("offsets", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	v, err = backend.Get("offsets", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, v)
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	testBackend(t, backend)
	assert.NoError(t, backend.Close())
}

func TestFSBackend(t *testing.T) {
	dir := t.TempDir()
	backend := tempFSBackend(t, dir)
	testBackend(t, backend)
	require.NoError(t, backend.Close())

	reopened := tempFSBackend(t, dir)
	defer reopened.Close()
	id, v, err := reopened.Latest("offsets")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.Equal(t, []byte{3}, v)
	_, err = reopened.Get("offsets", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointLogs(t *testing.T) {
	checkpoint := NewCheckpoint(NewMemoryBackend(), 2)
	id, _, err := checkpoint.LatestOffsets()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), id)

	entry := OffsetEntry{
		Start:       map[string]source.Offset{"file": {"index": 1}},
		End:         map[string]source.Offset{"file": {"index": 3}, "kafka": {"tx-0": 1 << 60}},
		WatermarkMs: 1500,
		TimestampMs: 1700000000000,
		Metadata:    map[string][]byte{"file": []byte("a.csv\nb.csv")},
	}
	require.NoError(t, checkpoint.WriteOffsets(0, entry))
	id, got, err := checkpoint.LatestOffsets()
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
	assert.Equal(t, entry, got)

	require.NoError(t, checkpoint.WriteCommit(0, CommitEntry{WatermarkMs: 1500}))
	id, commit, err := checkpoint.LatestCommit()
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
	assert.Equal(t, int64(1500), commit.WatermarkMs)

	for i := int64(1); i < 4; i++ {
		require.NoError(t, checkpoint.WriteOffsets(i, entry))
		require.NoError(t, checkpoint.WriteCommit(i, CommitEntry{}))
		require.NoError(t, checkpoint.Purge(i))
	}
	_, err = checkpoint.ReadOffsets(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = checkpoint.ReadOffsets(2)
	assert.NoError(t, err)
}

type counters struct {
	Counts map[string]int64
}

func TestGobRegisterOrGet(t *testing.T) {
	checkpoint := NewCheckpoint(NewMemoryBackend(), 10)
	initializer := func() counters { return counters{Counts: map[string]int64{}} }

	states := NewStateStore(checkpoint)
	require.NoError(t, states.Load(0))
	st, err := GobRegisterOrGet(states, "count", initializer)
	require.NoError(t, err)
	st.Pointer().Counts["spark"] = 2
	require.NoError(t, states.Save(0))
	st.Pointer().Counts["spark"] = 5
	require.NoError(t, states.Save(1))

	again, err := GobRegisterOrGet(states, "count", initializer)
	require.NoError(t, err)
	assert.Same(t, st.Pointer(), again.Pointer())
	_, err = GobRegisterOrGet(states, "count", func() int { return 0 })
	assert.ErrorIs(t, err, ErrStateTypeMismatch)

	restored := NewStateStore(checkpoint)
	require.NoError(t, restored.Load(0))
	st, err = GobRegisterOrGet(restored, "count", initializer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Pointer().Counts["spark"])

	st.Clear()
	assert.Empty(t, st.Pointer().Counts)
}

func TestCheckpointQueryID(t *testing.T) {
	checkpoint := NewCheckpoint(tempFSBackend(t, t.TempDir()), 2)
	id, err := checkpoint.QueryID()
	require.NoError(t, err)
	assert.Equal(t, "", id)
	require.NoError(t, checkpoint.SetQueryID("4f1c"))
	for i := int64(0); i < 5; i++ {
		require.NoError(t, checkpoint.WriteCommit(i, CommitEntry{}))
		require.NoError(t, checkpoint.Purge(i))
	}
	id, err = checkpoint.QueryID()
	require.NoError(t, err)
	assert.Equal(t, "4f1c", id)
	require.NoError(t, checkpoint.Backend().Close())
}
