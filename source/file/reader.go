package file

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var ErrMalformedRecord = errors.New("malformed record")

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	Text Format = "text"
)

// Mode decides what happens to records that don't fit the schema.
type Mode string

const (
	// Permissive sets unparsable fields to null.
	Permissive Mode = "PERMISSIVE"
	// DropMalformed drops records with any unparsable field.
	DropMalformed Mode = "DROPMALFORMED"
	// FailFast fails the read on the first malformed record.
	FailFast Mode = "FAILFAST"
)

type Options struct {
	Path               string
	Format             Format
	Schema             types.Schema
	Header             bool
	Separator          rune
	MaxFilesPerTrigger int
	PathGlobFilter     string
	LatestFirst        bool
	Mode               Mode
	InferSchema        bool
}

func parseOptions(format Format, opts options.Options) (Options, error) {
	o := Options{Format: format, Separator: ',', Mode: Permissive}
	var err error
	if o.Path, err = opts.Required("path"); err != nil {
		return o, err
	}
	if o.Header, err = opts.Bool("header", false); err != nil {
		return o, err
	}
	if o.InferSchema, err = opts.Bool("inferSchema", false); err != nil {
		return o, err
	}
	if sep := opts.String("sep", opts.String("delimiter", ",")); sep != "" {
		if sep == `\t` {
			sep = "\t"
		}
		if len([]rune(sep)) != 1 {
			return o, errors.Errorf("option sep must be a single character, got %q", sep)
		}
		o.Separator = []rune(sep)[0]
	}
	max, err := opts.Int("maxFilesPerTrigger", 0)
	if err != nil {
		return o, err
	}
	if max < 0 {
		return o, errors.Errorf("option maxFilesPerTrigger must be positive, got %d", max)
	}
	o.MaxFilesPerTrigger = int(max)
	o.PathGlobFilter = opts.String("pathGlobFilter", "")
	if o.PathGlobFilter != "" {
		if _, err = filepath.Match(o.PathGlobFilter, ""); err != nil {
			return o, errors.WithMessagef(err, "invalid pathGlobFilter %q", o.PathGlobFilter)
		}
	}
	if o.LatestFirst, err = opts.Bool("latestFirst", false); err != nil {
		return o, err
	}
	switch mode := Mode(strings.ToUpper(opts.String("mode", string(Permissive)))); mode {
	case Permissive, DropMalformed, FailFast:
		o.Mode = mode
	default:
		return o, errors.Errorf("unknown parse mode %q, accepted modes are PERMISSIVE, DROPMALFORMED, FAILFAST", mode)
	}
	return o, nil
}

// ReadFile parses one file into rows of o.Schema.
func ReadFile(path string, o Options) ([]types.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open %s", path)
	}
	defer f.Close()
	var rows []types.Row
	switch o.Format {
	case CSV:
		rows, err = readCSV(f, o)
	case JSON:
		rows, err = readJSON(f, o)
	default:
		rows, err = readText(f)
	}
	return rows, errors.WithMessagef(err, "failed to read %s", path)
}

func newCSVReader(r io.Reader, o Options) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = o.Separator
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return reader
}

func readCSV(r io.Reader, o Options) ([]types.Row, error) {
	reader := newCSVReader(r, o)
	var rows []types.Row
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			if o.Mode == FailFast {
				return nil, errors.WithMessagef(ErrMalformedRecord, "%v", err)
			}
			continue
		}
		if first && o.Header {
			first = false
			continue
		}
		first = false
		if len(record) == 1 && record[0] == "" && o.Schema.Len() > 1 {
			continue
		}
		row, ok := make(types.Row, o.Schema.Len()), len(record) == o.Schema.Len()
		for i, f := range o.Schema.Fields {
			if i >= len(record) {
				break
			}
			v, err := types.Parse(record[i], f.Type)
			if err != nil {
				ok = false
				continue
			}
			row[i] = v
		}
		if !ok {
			switch o.Mode {
			case FailFast:
				return nil, errors.WithMessagef(ErrMalformedRecord, "%q does not match schema %s", strings.Join(record, string(o.Separator)), o.Schema.DDL())
			case DropMalformed:
				continue
			}
		}
		rows = append(rows, row)
	}
}

func lookup(object map[string]any, name string) (any, bool) {
	if v, ok := object[name]; ok {
		return v, true
	}
	for k, v := range object {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func jsonValue(v any, dataType types.DataType) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		return types.Parse(x.String(), dataType)
	case string:
		return types.Parse(x, dataType)
	case []any:
		if dataType != types.ArrayType {
			return nil, types.ErrTypeMismatch
		}
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = types.Format(e)
		}
		return out, nil
	default:
		return types.Normalize(x, dataType)
	}
}

func decodeJSONLine(line []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	var object map[string]any
	if err := decoder.Decode(&object); err != nil {
		return nil, err
	}
	return object, nil
}

// readJSON reads JSON Lines: one object per line.
func readJSON(r io.Reader, o Options) ([]types.Row, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var rows []types.Row
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ok := true
		row := make(types.Row, o.Schema.Len())
		object, err := decodeJSONLine(line)
		if err != nil {
			ok = false
		} else {
			for i, f := range o.Schema.Fields {
				raw, found := lookup(object, f.Name)
				if !found {
					continue
				}
				v, err := jsonValue(raw, f.Type)
				if err != nil {
					ok = false
					continue
				}
				row[i] = v
			}
		}
		if !ok {
			switch o.Mode {
			case FailFast:
				return nil, errors.WithMessagef(ErrMalformedRecord, "%s does not match schema %s", line, o.Schema.DDL())
			case DropMalformed:
				continue
			}
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

func readText(r io.Reader) ([]types.Row, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var rows []types.Row
	for scanner.Scan() {
		rows = append(rows, types.Row{scanner.Text()})
	}
	return rows, scanner.Err()
}

// TextSchema is the fixed schema of the text format.
func TextSchema() types.Schema {
	return types.NewSchema(types.NewField("value", types.StringType))
}

// inferSchema samples files to derive a schema when the user declared none.
func inferSchema(paths []string, o Options) (types.Schema, error) {
	switch o.Format {
	case Text:
		return TextSchema(), nil
	case JSON:
		return inferJSON(paths)
	default:
		return inferCSV(paths, o)
	}
}

func inferCSV(paths []string, o Options) (types.Schema, error) {
	var (
		names []string
		kinds []types.DataType
	)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return types.Schema{}, err
		}
		reader := newCSVReader(f, o)
		first := true
		for {
			record, err := reader.Read()
			if err != nil {
				break
			}
			if first && o.Header {
				first = false
				if names == nil {
					names = append([]string(nil), record...)
				}
				continue
			}
			first = false
			for i, text := range record {
				if i >= len(kinds) {
					kinds = append(kinds, types.NullType)
				}
				t := types.StringType
				if o.InferSchema {
					t = types.InferType(text)
				}
				if text != "" {
					kinds[i] = types.MergeTypes(kinds[i], t)
				}
			}
		}
		_ = f.Close()
	}
	if len(names) > len(kinds) {
		kinds = append(kinds, make([]types.DataType, len(names)-len(kinds))...)
	}
	schema := types.Schema{}
	for i, kind := range kinds {
		name := "_c" + strconv.Itoa(i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		if kind == types.NullType {
			kind = types.StringType
		}
		schema.Fields = append(schema.Fields, types.NewField(name, kind))
	}
	if schema.Len() == 0 {
		return schema, errors.New("unable to infer schema for CSV, it must be specified manually")
	}
	return schema, nil
}

func inferJSON(paths []string) (types.Schema, error) {
	kinds := map[string]types.DataType{}
	var order []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.Schema{}, err
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			object, err := decodeJSONLine(line)
			if err != nil {
				continue
			}
			keys := make([]string, 0, len(object))
			for k := range object {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if _, ok := kinds[k]; !ok {
					order = append(order, k)
					kinds[k] = types.NullType
				}
				var t types.DataType
				switch x := object[k].(type) {
				case nil:
					continue
				case json.Number:
					t = types.InferType(x.String())
				case bool:
					t = types.BooleanType
				case []any:
					t = types.ArrayType
				default:
					t = types.StringType
				}
				kinds[k] = types.MergeTypes(kinds[k], t)
			}
		}
	}
	if len(order) == 0 {
		return types.Schema{}, errors.New("unable to infer schema for JSON, it must be specified manually")
	}
	sort.Strings(order)
	schema := types.Schema{}
	for _, name := range order {
		kind := kinds[name]
		if kind == types.NullType {
			kind = types.StringType
		}
		schema.Fields = append(schema.Fields, types.NewField(name, kind))
	}
	return schema, nil
}

// listFiles resolves a file, a directory or a glob into sorted file paths.
func listFiles(path, pattern string) ([]string, error) {
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		return []string{path}, nil
	}
	var candidates []string
	if err == nil {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				candidates = append(candidates, filepath.Join(path, entry.Name()))
			}
		}
	} else if candidates, err = filepath.Glob(path); err != nil || len(candidates) == 0 {
		return nil, errors.Errorf("path does not exist: %s", path)
	}
	var out []string
	for _, c := range candidates {
		base := filepath.Base(c)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
			continue
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, base); !ok {
				continue
			}
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Read is the bounded counterpart of Provide: it resolves the schema and returns a
// function reading every file under the path option.
func Read(format Format, opts options.Options, schema *types.Schema) (types.Schema, func() ([]types.Row, error), error) {
	o, err := parseOptions(format, opts)
	if err != nil {
		return types.Schema{}, nil, err
	}
	paths, err := listFiles(o.Path, o.PathGlobFilter)
	if err != nil {
		return types.Schema{}, nil, err
	}
	switch {
	case format == Text:
		o.Schema = TextSchema()
	case schema != nil:
		o.Schema = *schema
	default:
		if o.Schema, err = inferSchema(paths, o); err != nil {
			return types.Schema{}, nil, err
		}
	}
	return o.Schema, func() ([]types.Row, error) {
		var rows []types.Row
		for _, path := range paths {
			fileRows, err := ReadFile(path, o)
			if err != nil {
				return nil, err
			}
			rows = append(rows, fileRows...)
		}
		return rows, nil
	}, nil
}
