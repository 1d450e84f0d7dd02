package stream

import (
	"strings"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/source/file"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

// readerOptions is the builder state shared by static and streaming readers.
type readerOptions struct {
	format string
	schema *types.Schema
	opts   options.Options
	err    error
}

func (r *readerOptions) setOption(key, value string) {
	if r.opts == nil {
		r.opts = options.Options{}
	}
	r.opts[key] = value
}

func (r *readerOptions) setSchemaDDL(ddl string) {
	schema, err := types.ParseDDL(ddl)
	if err != nil {
		r.err = errors.WithMessage(err, "invalid reader schema")
		return
	}
	r.schema = &schema
}

func (r *readerOptions) withPath(path []string) options.Options {
	opts := options.Options{}
	for k, v := range r.opts {
		opts[k] = v
	}
	if len(path) > 0 {
		opts["path"] = path[0]
	}
	return opts
}

// DataFrameReader loads static DataFrames from files.
type DataFrameReader struct {
	session *Session
	readerOptions
}

func (r *DataFrameReader) Format(format string) *DataFrameReader {
	r.format = strings.ToLower(format)
	return r
}

func (r *DataFrameReader) Schema(schema types.Schema) *DataFrameReader {
	r.schema = &schema
	return r
}

// SchemaDDL sets the schema from a DDL string such as "name STRING, age INT".
func (r *DataFrameReader) SchemaDDL(ddl string) *DataFrameReader {
	r.setSchemaDDL(ddl)
	return r
}

func (r *DataFrameReader) Option(key, value string) *DataFrameReader {
	r.setOption(key, value)
	return r
}

func (r *DataFrameReader) Options(opts map[string]string) *DataFrameReader {
	for k, v := range opts {
		r.setOption(k, v)
	}
	return r
}

// Load reads every file under path. Without a schema CSV and JSON files are sampled to
// infer one.
func (r *DataFrameReader) Load(path ...string) (*DataFrame, error) {
	if r.err != nil {
		return nil, r.err
	}
	switch file.Format(r.format) {
	case file.CSV, file.JSON, file.Text:
	default:
		return nil, errors.WithMessagef(ErrUnknownFormat, "static source %q", r.format)
	}
	schema, read, err := file.Read(file.Format(r.format), r.withPath(path), r.schema)
	if err != nil {
		return nil, err
	}
	return r.session.newDataFrame(&plan.LocalRelation{Name: r.format, Output: schema, Rows: read}), nil
}

func (r *DataFrameReader) CSV(path string) (*DataFrame, error)  { return r.Format("csv").Load(path) }
func (r *DataFrameReader) JSON(path string) (*DataFrame, error) { return r.Format("json").Load(path) }
func (r *DataFrameReader) Text(path string) (*DataFrame, error) { return r.Format("text").Load(path) }

// DataStreamReader creates streaming DataFrames from the registered source formats.
type DataStreamReader struct {
	session *Session
	readerOptions
}

func (r *DataStreamReader) Format(format string) *DataStreamReader {
	r.format = strings.ToLower(format)
	return r
}

func (r *DataStreamReader) Schema(schema types.Schema) *DataStreamReader {
	r.schema = &schema
	return r
}

func (r *DataStreamReader) SchemaDDL(ddl string) *DataStreamReader {
	r.setSchemaDDL(ddl)
	return r
}

func (r *DataStreamReader) Option(key, value string) *DataStreamReader {
	r.setOption(key, value)
	return r
}

func (r *DataStreamReader) Options(opts map[string]string) *DataStreamReader {
	for k, v := range opts {
		r.setOption(k, v)
	}
	return r
}

// Load resolves the source; path, when given, becomes the "path" option.
func (r *DataStreamReader) Load(path ...string) (*DataFrame, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.format == "" {
		return nil, errors.New("stream source format is not set")
	}
	provider, err := r.session.sourceProvider(r.format)
	if err != nil {
		return nil, err
	}
	schema, factory, err := provider(r.withPath(path), r.schema)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s source", r.format)
	}
	return r.session.newDataFrame(&plan.StreamingRelation{Name: r.format, Output: schema, New: factory}), nil
}

func (r *DataStreamReader) CSV(path string) (*DataFrame, error)  { return r.Format("csv").Load(path) }
func (r *DataStreamReader) JSON(path string) (*DataFrame, error) { return r.Format("json").Load(path) }
func (r *DataStreamReader) Text(path string) (*DataFrame, error) { return r.Format("text").Load(path) }
