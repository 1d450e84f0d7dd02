// Package socket reads newline-delimited text from a TCP server. It keeps received lines
// in memory until they are committed and cannot replay them after a restart.
package socket

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/options"
	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

const partition = "0"

type Options struct {
	Host             string
	Port             int
	IncludeTimestamp bool
	DialTimeout      time.Duration
}

func schemaOf(includeTimestamp bool) types.Schema {
	schema := types.NewSchema(types.NewField("value", types.StringType))
	if includeTimestamp {
		schema.Fields = append(schema.Fields, types.NewField("timestamp", types.TimestampType))
	}
	return schema
}

// Provide reads the host, port and includeTimestamp options.
func Provide(opts options.Options, schema *types.Schema) (types.Schema, source.Factory, error) {
	if schema != nil {
		return types.Schema{}, nil, errors.New("the socket source does not support a user-specified schema")
	}
	host, err := opts.Required("host")
	if err != nil {
		return types.Schema{}, nil, err
	}
	port, err := opts.Int("port", 0)
	if err != nil {
		return types.Schema{}, nil, err
	}
	if port <= 0 {
		return types.Schema{}, nil, errors.New("option port is required")
	}
	includeTimestamp, err := opts.Bool("includeTimestamp", false)
	if err != nil {
		return types.Schema{}, nil, err
	}
	o := Options{Host: host, Port: int(port), IncludeTimestamp: includeTimestamp, DialTimeout: 10 * time.Second}
	return schemaOf(includeTimestamp), func() (source.Source, error) { return New(o), nil }, nil
}

type socketSource struct {
	options Options
	logger  log.Logger
	conn    net.Conn
	done    chan error

	mutex sync.Mutex
	// rows[0] is the line with offset committed+1
	rows      []types.Row
	committed int64
}

func New(options Options) source.Source {
	return &socketSource{options: options}
}

func (s *socketSource) Schema() types.Schema {
	return schemaOf(s.options.IncludeTimestamp)
}

func (s *socketSource) Replayable() bool { return false }

func (s *socketSource) Open(ctx source.Context) error {
	s.logger = ctx.Logger().Named("socket")
	s.logger.Warnw("the socket source should be used for testing only, it is not fault tolerant.", "address", s.address())
	dialer := net.Dialer{Timeout: s.options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address())
	if err != nil {
		return errors.WithMessagef(err, "failed to connect to %s", s.address())
	}
	s.conn = conn
	s.done = safe.Go(s.receive)
	return nil
}

func (s *socketSource) address() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

func (s *socketSource) receive() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		row := types.Row{scanner.Text()}
		if s.options.IncludeTimestamp {
			row = append(row, time.Now().UTC())
		}
		s.mutex.Lock()
		s.rows = append(s.rows, row)
		s.mutex.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warnw("stopped receiving from socket.", "err", err)
		return err
	}
	s.logger.Info("socket closed by peer.")
	return nil
}

func (s *socketSource) LatestOffset() (source.Offset, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	total := s.committed + int64(len(s.rows))
	if total == 0 {
		return nil, nil
	}
	return source.Offset{partition: total}, nil
}

func (s *socketSource) GetBatch(start, end source.Offset) ([]types.Row, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	from, to := start[partition], end[partition]
	if from < s.committed || to > s.committed+int64(len(s.rows)) {
		return nil, errors.WithMessagef(source.ErrOffsetNotFound, "socket lines (%d, %d] are not buffered", from, to)
	}
	batch := make([]types.Row, 0, to-from)
	for _, row := range s.rows[from-s.committed : to-s.committed] {
		batch = append(batch, row.Copy())
	}
	return batch, nil
}

func (s *socketSource) Commit(end source.Offset) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := end[partition] - s.committed
	if n <= 0 {
		return nil
	}
	if n > int64(len(s.rows)) {
		return errors.Errorf("offset %d to commit is beyond received lines %d", end[partition], s.committed+int64(len(s.rows)))
	}
	s.rows = s.rows[n:]
	s.committed += n
	return nil
}

func (s *socketSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *socketSource) String() string {
	return "TextSocketSource[host: " + s.options.Host + ", port: " + strconv.Itoa(s.options.Port) + "]"
}
