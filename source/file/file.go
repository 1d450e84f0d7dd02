// Package file streams the files of a directory as they appear. Every trigger admits up
// to maxFilesPerTrigger new files; the admitted list is snapshotted into the offset log
// so a restarted query re-reads exactly the same files for a logged batch.
package file

import (
	"os"
	"strconv"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const partition = "files"

// Provider returns the source.Provider of format.
func Provider(format Format) source.Provider {
	return func(opts options.Options, schema *types.Schema) (types.Schema, source.Factory, error) {
		return Provide(format, opts, schema)
	}
}

func Provide(format Format, opts options.Options, schema *types.Schema) (types.Schema, source.Factory, error) {
	o, err := parseOptions(format, opts)
	if err != nil {
		return types.Schema{}, nil, err
	}
	switch {
	case format == Text:
		if schema != nil && !schema.Equal(TextSchema()) {
			return types.Schema{}, nil, errors.New("the text source only supports the schema \"value STRING\"")
		}
		o.Schema = TextSchema()
	case schema == nil:
		return types.Schema{}, nil, errors.Errorf("schema must be specified when creating a streaming source DataFrame from %s files", format)
	default:
		o.Schema = *schema
	}
	if info, err := os.Stat(o.Path); err != nil || !info.IsDir() {
		return types.Schema{}, nil, errors.Errorf("path %s is not a directory", o.Path)
	}
	return o.Schema, func() (source.Source, error) { return New(o), nil }, nil
}

type fileSource struct {
	options    Options
	logger     log.Logger
	enumerator *Enumerator

	mutex sync.Mutex
	// admitted lists every file handed to a batch, in batch order
	admitted []string
}

func New(options Options) source.Source {
	return &fileSource{options: options}
}

func (s *fileSource) Schema() types.Schema { return s.options.Schema }

func (s *fileSource) Open(ctx source.Context) error {
	s.logger = ctx.Logger().Named("file").With("path", s.options.Path)
	s.enumerator = NewEnumerator(s.logger, s.options.Path, s.options.PathGlobFilter, s.options.LatestFirst)
	s.mutex.Lock()
	s.enumerator.MarkSeen(s.admitted)
	s.mutex.Unlock()
	if err := s.enumerator.ScanDir(); err != nil {
		return err
	}
	if err := s.enumerator.StartWatchDir(); err != nil {
		s.logger.Warnw("unable to watch directory, new files are found by scanning each trigger.", "err", err)
	}
	return nil
}

func (s *fileSource) LatestOffset() (source.Offset, error) {
	if err := s.enumerator.ScanDir(); err != nil {
		s.logger.Warnw("failed to scan directory.", "err", err)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, location := range s.enumerator.Take(s.options.MaxFilesPerTrigger) {
		s.admitted = append(s.admitted, location.Path)
	}
	if len(s.admitted) == 0 {
		return nil, nil
	}
	return source.Offset{partition: int64(len(s.admitted))}, nil
}

func (s *fileSource) GetBatch(start, end source.Offset) ([]types.Row, error) {
	s.mutex.Lock()
	from, to := start[partition], end[partition]
	if to > int64(len(s.admitted)) || from > to {
		s.mutex.Unlock()
		return nil, errors.WithMessagef(source.ErrOffsetNotFound, "files (%d, %d] were never admitted", from, to)
	}
	files := append([]string(nil), s.admitted[from:to]...)
	s.mutex.Unlock()
	var rows []types.Row
	for _, path := range files {
		fileRows, err := ReadFile(path, s.options)
		if err != nil {
			return nil, err
		}
		s.logger.Debugw("read file.", "file", path, "rows", len(fileRows))
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

func (s *fileSource) Commit(source.Offset) error { return nil }

func (s *fileSource) Snapshot() ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return json.Marshal(s.admitted)
}

func (s *fileSource) Restore(state []byte) error {
	var admitted []string
	if err := json.Unmarshal(state, &admitted); err != nil {
		return errors.WithMessage(err, "invalid file source snapshot")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.admitted = admitted
	return nil
}

func (s *fileSource) Close() error {
	if s.enumerator == nil {
		return nil
	}
	return s.enumerator.Close()
}

func (s *fileSource) String() string {
	return "FileStreamSource[" + s.options.Path + ", format: " + string(s.options.Format) +
		", maxFilesPerTrigger: " + strconv.Itoa(s.options.MaxFilesPerTrigger) + "]"
}
