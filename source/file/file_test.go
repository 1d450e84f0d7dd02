package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var people = types.NewSchema(
	types.NewField("name", types.StringType),
	types.NewField("age", types.LongType),
	types.NewField("city", types.StringType),
)

func writeFile(t *testing.T, dir, name, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func open(t *testing.T, s source.Source) {
	t.Helper()
	require.NoError(t, s.Open(source.NewContext(context.Background(), log.Nop())))
}

func TestFileSourceAdmitsFilesPerTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, dir, "b.csv", "name,age,city\nbob,17,Oslo\n", base.Add(2*time.Second))
	writeFile(t, dir, "a.csv", "name,age,city\nann,30,Rome\n", base.Add(time.Second))
	writeFile(t, dir, ".hidden.csv", "x,1,y\n", base)

	schema, factory, err := Provide(CSV, options.Options{"path": dir, "header": "true", "maxFilesPerTrigger": "1"}, &people)
	require.NoError(t, err)
	assert.True(t, schema.Equal(people))
	s, err := factory()
	require.NoError(t, err)
	open(t, s)

	first, err := s.LatestOffset()
	require.NoError(t, err)
	assert.Equal(t, source.Offset{"files": 1}, first)
	rows, err := s.GetBatch(nil, first)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"ann", int64(30), "Rome"}}, rows)

	second, err := s.LatestOffset()
	require.NoError(t, err)
	rows, err = s.GetBatch(first, second)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"bob", int64(17), "Oslo"}}, rows)

	third, err := s.LatestOffset()
	require.NoError(t, err)
	assert.True(t, third.Equal(second))

	snapshot, err := s.(source.Snapshotter).Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	writeFile(t, dir, "c.csv", "name,age,city\ncid,44,Oslo\n", base.Add(3*time.Second))
	restarted := New(Options{Path: dir, Format: CSV, Schema: people, Header: true, Separator: ',', Mode: Permissive})
	require.NoError(t, restarted.(source.Snapshotter).Restore(snapshot))
	open(t, restarted)
	defer restarted.Close()

	rows, err = restarted.GetBatch(first, second)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"bob", int64(17), "Oslo"}}, rows)
	fourth, err := restarted.LatestOffset()
	require.NoError(t, err)
	rows, err = restarted.GetBatch(second, fourth)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"cid", int64(44), "Oslo"}}, rows)
}

func TestParseModes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "people.csv", "ann,30,Rome\nbob,old,Oslo\ncid,12\n", time.Now())
	read := func(mode Mode) ([]types.Row, error) {
		return ReadFile(path, Options{Format: CSV, Schema: people, Separator: ',', Mode: mode})
	}

	rows, err := read(Permissive)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{
		{"ann", int64(30), "Rome"},
		{"bob", nil, "Oslo"},
		{"cid", int64(12), nil},
	}, rows)

	rows, err = read(DropMalformed)
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{"ann", int64(30), "Rome"}}, rows)

	_, err = read(FailFast)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestReadJSONAndText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "people.json", "{\"name\":\"ann\",\"age\":30}\n\n{\"NAME\":\"bob\",\"city\":\"Oslo\"}\nnot json\n", time.Now())

	rows, err := ReadFile(path, Options{Format: JSON, Schema: people, Mode: Permissive})
	require.NoError(t, err)
	assert.Equal(t, []types.Row{
		{"ann", int64(30), nil},
		{"bob", nil, "Oslo"},
		{nil, nil, nil},
	}, rows)

	rows, err = ReadFile(path, Options{Format: Text})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, types.Row{"not json"}, rows[3])
}

func TestStaticReadInfersSchema(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.csv", "id;name;score\n1;ann;2.5\n2;bob;3\n", time.Now())
	writeFile(t, dir, "notes.txt", "ignored\n", time.Now())

	schema, rows, err := Read(CSV, options.Options{"path": dir, "header": "true", "inferSchema": "true", "sep": ";", "pathGlobFilter": "*.csv"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "id LONG, name STRING, score DOUBLE", schema.DDL())
	got, err := rows()
	require.NoError(t, err)
	assert.Equal(t, []types.Row{{int64(1), "ann", 2.5}, {int64(2), "bob", 3.0}}, got)

	schema, _, err = Read(CSV, options.Options{"path": dir, "pathGlobFilter": "*.csv", "sep": ";"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "_c0 STRING, _c1 STRING, _c2 STRING", schema.DDL())

	_, _, err = Read(CSV, options.Options{"path": filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)
}

func TestProvideValidation(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Provide(CSV, options.Options{"path": dir}, nil)
	assert.Error(t, err)
	_, _, err = Provide(CSV, options.Options{"path": dir, "mode": "lenient"}, &people)
	assert.Error(t, err)
	_, _, err = Provide(CSV, options.Options{"path": dir, "maxFilesPerTrigger": "-1"}, &people)
	assert.Error(t, err)
	schema, _, err := Provide(Text, options.Options{"path": dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"value"}, schema.Names())
}

func TestEnumeratorOrdering(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, dir, "old.csv", "", base)
	writeFile(t, dir, "new.csv", "", base.Add(time.Minute))
	writeFile(t, dir, "skip.json", "", base)

	e := NewEnumerator(log.Nop(), dir, "*.csv", true)
	require.NoError(t, e.ScanDir())
	taken := e.Take(1)
	require.Len(t, taken, 1)
	assert.Equal(t, "new.csv", filepath.Base(taken[0].Path))
	require.NoError(t, e.ScanDir())
	taken = e.Take(0)
	require.Len(t, taken, 1)
	assert.Equal(t, "old.csv", filepath.Base(taken[0].Path))
	assert.NoError(t, e.Close())
}
