// Package stream is the declarative API over the engine: sessions read static and
// streaming DataFrames, transform them, and start streaming queries writing to sinks.
package stream

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/common/status"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/sink/console"
	sinkfile "github.com/RuiFG/streaming/streaming-table/sink/file"
	sinkkafka "github.com/RuiFG/streaming/streaming-table/sink/kafka"
	sinkmemory "github.com/RuiFG/streaming/streaming-table/sink/memory"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/source/file"
	"github.com/RuiFG/streaming/streaming-table/source/kafka"
	"github.com/RuiFG/streaming/streaming-table/source/memory"
	"github.com/RuiFG/streaming/streaming-table/source/rate"
	"github.com/RuiFG/streaming/streaming-table/source/socket"
	"github.com/RuiFG/streaming/streaming-table/sql"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

var (
	ErrSessionStopped = errors.New("session is stopped")
	ErrTableNotFound  = errors.New("table or view not found")
	ErrUnknownFormat  = errors.New("unknown data source format")
)

type SessionOptions struct {
	Name string
	// CheckpointRoot holds the checkpoints of named queries started without a
	// checkpointLocation option. Empty keeps such checkpoints in memory.
	CheckpointRoot string
	// Out receives Show, PrintSchema and console sink output.
	Out    io.Writer
	Logger log.Logger
	Scope  tally.Scope
}

var DefaultSessionOptions = SessionOptions{Name: "streaming-table"}

// Session is the entry point: it owns the catalog of temporary views, the registered
// source and sink formats and the active streaming queries.
type Session struct {
	options SessionOptions
	logger  log.Logger
	scope   tally.Scope
	status  status.Status

	mutex   sync.RWMutex
	views   map[string]*DataFrame
	sources map[string]source.Provider
	sinks   map[string]sink.Provider
	streams *StreamingQueryManager
}

func NewSession(options SessionOptions) *Session {
	if options.Out == nil {
		options.Out = os.Stdout
	}
	if options.Logger == nil {
		options.Logger = log.Global()
	}
	if options.Scope == nil {
		options.Scope = tally.NoopScope
	}
	s := &Session{
		options: options,
		logger:  options.Logger.Named("session").With("name", options.Name),
		scope:   options.Scope,
		views:   map[string]*DataFrame{},
		sources: map[string]source.Provider{
			"socket": socket.Provide,
			"csv":    file.Provider(file.CSV),
			"json":   file.Provider(file.JSON),
			"text":   file.Provider(file.Text),
			"rate":   rate.Provide,
			"kafka":  kafka.Provide,
		},
		sinks: map[string]sink.Provider{
			"console": console.Provider(options.Out),
			"memory":  sinkmemory.Provide,
			"csv":     sinkfile.Provider(file.CSV),
			"json":    sinkfile.Provider(file.JSON),
			"kafka":   sinkkafka.Provide,
			"noop":    sink.ProvideNoop,
		},
	}
	s.streams = newStreamingQueryManager(s)
	status.CAP(&s.status, status.Ready, status.Running)
	return s
}

// RegisterSource makes a source format available to ReadStream().Format(format).
func (s *Session) RegisterSource(format string, provider source.Provider) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sources[strings.ToLower(format)] = provider
}

// RegisterSink makes a sink format available to WriteStream().Format(format).
func (s *Session) RegisterSink(format string, provider sink.Provider) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sinks[strings.ToLower(format)] = provider
}

func (s *Session) sourceProvider(format string) (source.Provider, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if p, ok := s.sources[strings.ToLower(format)]; ok {
		return p, nil
	}
	return nil, errors.WithMessagef(ErrUnknownFormat, "source %q", format)
}

func (s *Session) sinkProvider(format string) (sink.Provider, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if p, ok := s.sinks[strings.ToLower(format)]; ok {
		return p, nil
	}
	return nil, errors.WithMessagef(ErrUnknownFormat, "sink %q", format)
}

func (s *Session) Logger() log.Logger { return s.logger }

func (s *Session) Read() *DataFrameReader {
	return &DataFrameReader{session: s, readerOptions: readerOptions{format: "csv"}}
}

func (s *Session) ReadStream() *DataStreamReader { return &DataStreamReader{session: s} }

func (s *Session) Streams() *StreamingQueryManager { return s.streams }

func (s *Session) newDataFrame(node plan.Node) *DataFrame {
	return &DataFrame{session: s, plan: node}
}

// CreateDataFrame builds a static DataFrame; values are normalized to schema.
func (s *Session) CreateDataFrame(rows []types.Row, schema types.Schema) (*DataFrame, error) {
	normalized := make([]types.Row, len(rows))
	for i, row := range rows {
		if len(row) != schema.Len() {
			return nil, errors.Errorf("row %d has %d values, the schema has %d", i, len(row), schema.Len())
		}
		out := make(types.Row, len(row))
		for j, v := range row {
			n, err := types.Normalize(v, schema.Fields[j].Type)
			if err != nil {
				return nil, errors.WithMessagef(err, "row %d column %s", i, schema.Fields[j].Name)
			}
			out[j] = n
		}
		normalized[i] = out
	}
	return s.newDataFrame(plan.NewLocalRelation("LocalRelation", schema, normalized)), nil
}

// FromStructs builds a static DataFrame whose schema is inferred from T.
func FromStructs[T any](s *Session, values []T) (*DataFrame, error) {
	rows, schema, err := types.FromStructs(values)
	if err != nil {
		return nil, err
	}
	return s.CreateDataFrame(rows, schema)
}

// MemoryStream is a streaming DataFrame over rows added to m from code.
func (s *Session) MemoryStream(m *memory.Stream) *DataFrame {
	return s.newDataFrame(&plan.StreamingRelation{Name: m.String(), Output: m.Schema(), New: m.Factory()})
}

func viewKey(name string) string { return strings.ToLower(name) }

func (s *Session) registerView(name string, df *DataFrame) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.views[viewKey(name)] = df
}

// DropTempView removes a view and reports whether it existed.
func (s *Session) DropTempView(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.views[viewKey(name)]
	delete(s.views, viewKey(name))
	return ok
}

// Table returns the DataFrame registered under name, as a view or a memory sink table.
func (s *Session) Table(name string) (*DataFrame, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	df, ok := s.views[viewKey(name)]
	if !ok {
		return nil, errors.WithMessagef(ErrTableNotFound, "%s", name)
	}
	return df, nil
}

// Tables lists the registered view names.
func (s *Session) Tables() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	return names
}

// SQL runs a SELECT statement over the registered views.
func (s *Session) SQL(query string) (*DataFrame, error) {
	if !status.Load(&s.status).Running() {
		return nil, ErrSessionStopped
	}
	stmt, err := sql.Parse(query)
	if err != nil {
		return nil, err
	}
	node, err := s.planSelect(stmt)
	if err != nil {
		return nil, err
	}
	return s.newDataFrame(node), nil
}

// Stop stops every active query. The session can't start queries afterwards.
func (s *Session) Stop() error {
	if !status.CAP(&s.status, status.Running, status.Closed) {
		return nil
	}
	s.logger.Infow("stopping session.")
	return s.streams.StopAll()
}
