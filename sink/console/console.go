// Package console prints every batch as a table to a writer, stdout by default.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

const (
	DefaultNumRows  = 20
	DefaultTruncate = 20
	separator       = "-------------------------------------------"
)

type Options struct {
	Writer  io.Writer
	NumRows int
	// Truncate cuts cells longer than this many characters, 0 disables it.
	Truncate int
}

var DefaultOptions = Options{Writer: os.Stdout, NumRows: DefaultNumRows, Truncate: DefaultTruncate}

// Provider returns a sink.Provider printing to writer.
func Provider(writer io.Writer) sink.Provider {
	return func(opts options.Options, schema types.Schema, mode plan.OutputMode) (sink.Sink, error) {
		s, err := Provide(opts, schema, mode)
		if err != nil {
			return nil, err
		}
		if writer != nil {
			s.(*console).options.Writer = writer
		}
		return s, nil
	}
}

// Provide reads "numRows" and "truncate", which is either a boolean or a width.
func Provide(opts options.Options, _ types.Schema, _ plan.OutputMode) (sink.Sink, error) {
	o := DefaultOptions
	numRows, err := opts.Int("numRows", DefaultNumRows)
	if err != nil {
		return nil, err
	}
	o.NumRows = int(numRows)
	if truncate, ok := opts.Get("truncate"); ok {
		switch strings.ToLower(truncate) {
		case "true":
		case "false":
			o.Truncate = 0
		default:
			width, err := strconv.Atoi(truncate)
			if err != nil {
				return nil, errors.Errorf("invalid truncate option %q", truncate)
			}
			o.Truncate = width
		}
	}
	return New(o), nil
}

type console struct {
	mutex   sync.Mutex
	options Options
}

func New(options Options) sink.Sink {
	if options.Writer == nil {
		options.Writer = os.Stdout
	}
	return &console{options: options}
}

func (c *console) AddBatch(batch *sink.Batch) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, err := fmt.Fprintf(c.options.Writer, "%s\nBatch: %d\n%s\n%s\n", separator, batch.ID, separator,
		ShowString(batch.Schema, batch.Rows, c.options.NumRows, c.options.Truncate))
	return err
}

func (c *console) Close() error { return nil }

func (c *console) String() string {
	return "ConsoleSink[numRows: " + strconv.Itoa(c.options.NumRows) + ", truncate: " + strconv.Itoa(c.options.Truncate) + "]"
}

func cell(v any, truncate int) string {
	s := types.Format(v)
	if truncate > 0 && utf8.RuneCountInString(s) > truncate {
		runes := []rune(s)
		if truncate < 4 {
			return string(runes[:truncate])
		}
		return string(runes[:truncate-3]) + "..."
	}
	return s
}

func pad(s string, width int, right bool) string {
	n := width - utf8.RuneCountInString(s)
	if n <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", n) + s
	}
	return s + strings.Repeat(" ", n)
}

// ShowString renders at most numRows rows as a grid. Cells are right aligned when
// truncating and left aligned otherwise.
func ShowString(schema types.Schema, rows []types.Row, numRows, truncate int) string {
	shown := rows
	if numRows >= 0 && len(rows) > numRows {
		shown = rows[:numRows]
	}
	table := make([][]string, 0, len(shown)+1)
	header := make([]string, schema.Len())
	for i, f := range schema.Fields {
		header[i] = cell(f.Name, truncate)
	}
	table = append(table, header)
	for _, row := range shown {
		line := make([]string, schema.Len())
		for i := range line {
			var v any
			if i < len(row) {
				v = row[i]
			}
			line[i] = cell(v, truncate)
		}
		table = append(table, line)
	}
	widths := make([]int, schema.Len())
	for i := range widths {
		widths[i] = 3
		for _, line := range table {
			if n := utf8.RuneCountInString(line[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	var b strings.Builder
	border := func() {
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}
	writeLine := func(line []string) {
		b.WriteString("|")
		for i, s := range line {
			b.WriteString(pad(s, widths[i], truncate > 0))
			b.WriteString("|")
		}
		b.WriteString("\n")
	}
	border()
	writeLine(table[0])
	border()
	for _, line := range table[1:] {
		writeLine(line)
	}
	border()
	if len(shown) < len(rows) {
		if len(shown) == 1 {
			b.WriteString("only showing top 1 row\n")
		} else {
			fmt.Fprintf(&b, "only showing top %d rows\n", len(shown))
		}
	}
	return b.String()
}
