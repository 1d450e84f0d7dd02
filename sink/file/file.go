// Package file writes every batch into its own part file under a directory.
package file

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	sourcefile "github.com/RuiFG/streaming/streaming-table/source/file"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const tmpDir = "_temporary"

type Options struct {
	Path      string
	Format    sourcefile.Format
	Header    bool
	Separator rune
	FileMode  fs.FileMode
}

// EncodeFn encodes the rows of one batch into file content.
type EncodeFn func(schema types.Schema, rows []types.Row) ([]byte, error)

func Provider(format sourcefile.Format) sink.Provider {
	return func(opts options.Options, schema types.Schema, mode plan.OutputMode) (sink.Sink, error) {
		return Provide(format, opts, schema, mode)
	}
}

// Provide creates a file sink. Only append mode is supported: a part file can't be
// changed once written.
func Provide(format sourcefile.Format, opts options.Options, schema types.Schema, mode plan.OutputMode) (sink.Sink, error) {
	if err := sink.RequireMode("file sink", mode, plan.Append); err != nil {
		return nil, err
	}
	o := Options{Format: format, Separator: ',', FileMode: 0o644}
	var err error
	if o.Path, err = opts.Required("path"); err != nil {
		return nil, err
	}
	if o.Header, err = opts.Bool("header", false); err != nil {
		return nil, err
	}
	sep := []rune(opts.String("sep", ","))
	if len(sep) != 1 {
		return nil, errors.Errorf("option sep must be a single character, got %q", string(sep))
	}
	o.Separator = sep[0]
	return New(o)
}

type fileSink struct {
	options  Options
	encodeFn EncodeFn
}

func New(options Options) (sink.Sink, error) {
	if options.Path == "" {
		return nil, errors.New("dir can't be empty")
	}
	if err := os.MkdirAll(filepath.Join(options.Path, tmpDir), 0o755); err != nil {
		return nil, errors.WithMessagef(err, "failed to create output directory %s", options.Path)
	}
	if stat, err := os.Stat(options.Path); err != nil {
		return nil, err
	} else if !stat.IsDir() {
		return nil, errors.Errorf("%s is not a directory", options.Path)
	}
	s := &fileSink{options: options}
	switch options.Format {
	case sourcefile.CSV:
		s.encodeFn = s.encodeCSV
	case sourcefile.JSON:
		s.encodeFn = encodeJSON
	default:
		return nil, errors.Errorf("file sink does not support format %s", options.Format)
	}
	return s, nil
}

func (s *fileSink) partName(batchID int64) string {
	return fmt.Sprintf("part-%05d.%s", batchID, s.options.Format)
}

// AddBatch writes the batch into a temporary file and renames it into place, so a part
// file is either complete or absent. An existing part file means the batch was written.
func (s *fileSink) AddBatch(batch *sink.Batch) error {
	target := filepath.Join(s.options.Path, s.partName(batch.ID))
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if len(batch.Rows) == 0 {
		return nil
	}
	data, err := s.encodeFn(batch.Schema, batch.Rows)
	if err != nil {
		return errors.WithMessagef(err, "failed to encode batch %d", batch.ID)
	}
	tmp := filepath.Join(s.options.Path, tmpDir, s.partName(batch.ID))
	if err = os.WriteFile(tmp, data, s.options.FileMode); err != nil {
		return errors.WithMessagef(err, "failed to write batch %d", batch.ID)
	}
	return os.Rename(tmp, target)
}

func (s *fileSink) encodeCSV(schema types.Schema, rows []types.Row) ([]byte, error) {
	var buffer bytes.Buffer
	w := csv.NewWriter(&buffer)
	w.Comma = s.options.Separator
	if s.options.Header {
		if err := w.Write(schema.Names()); err != nil {
			return nil, err
		}
	}
	record := make([]string, schema.Len())
	for _, row := range rows {
		for i, v := range row {
			if v == nil {
				record[i] = ""
			} else if list, ok := v.([]string); ok {
				record[i] = strings.Join(list, ",")
			} else {
				record[i] = types.Format(v)
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buffer.Bytes(), w.Error()
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case types.Window:
		return map[string]string{"start": x.Start.Format(time.RFC3339Nano), "end": x.End.Format(time.RFC3339Nano)}
	default:
		return v
	}
}

// encodeJSON writes one object per line, keys in schema order, nulls omitted.
func encodeJSON(schema types.Schema, rows []types.Row) ([]byte, error) {
	var buffer bytes.Buffer
	for _, row := range rows {
		buffer.WriteByte('{')
		first := true
		for i, v := range row {
			if v == nil {
				continue
			}
			key, err := json.Marshal(schema.Fields[i].Name)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(jsonValue(v))
			if err != nil {
				return nil, err
			}
			if !first {
				buffer.WriteByte(',')
			}
			first = false
			buffer.Write(key)
			buffer.WriteByte(':')
			buffer.Write(value)
		}
		buffer.WriteString("}\n")
	}
	return buffer.Bytes(), nil
}

func (s *fileSink) Close() error { return nil }

func (s *fileSink) String() string {
	return "FileSink[" + s.options.Path + "]"
}
