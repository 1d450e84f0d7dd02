package socket

import (
	"context"
	"net"
	"strconv"
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

func TestSocketSource(t *testing.T) {
	defer goleak.VerifyNone(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	schema, factory, err := Provide(options.Options{"host": "127.0.0.1", "port": strconv.Itoa(port), "includeTimestamp": "true"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "timestamp"}, schema.Names())

	s, err := factory()
	require.NoError(t, err)
	assert.False(t, source.IsReplayable(s))
	require.NoError(t, s.Open(source.NewContext(context.Background(), log.Nop())))
	conn := <-accepted

	offset, err := s.LatestOffset()
	require.NoError(t, err)
	assert.Nil(t, offset)

	_, err = conn.Write([]byte("apache spark\nspark streaming\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		offset, err = s.LatestOffset()
		return err == nil && offset.Equal(source.Offset{partition: 2})
	}, 5*time.Second, 10*time.Millisecond)

	rows, err := s.GetBatch(nil, offset)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "spark streaming", rows[1][0])
	assert.IsType(t, time.Time{}, rows[1][1])

	require.NoError(t, s.Commit(offset))
	_, err = s.GetBatch(nil, offset)
	assert.ErrorIs(t, err, source.ErrOffsetNotFound)

	require.NoError(t, conn.Close())
	require.NoError(t, s.Close())
}

func TestProvideValidation(t *testing.T) {
	_, _, err := Provide(options.Options{"port": "9999"}, nil)
	assert.Error(t, err)
	_, _, err = Provide(options.Options{"host": "localhost"}, nil)
	assert.Error(t, err)
	schema := types.NewSchema(types.NewField("value", types.StringType))
	_, _, err = Provide(options.Options{"host": "localhost", "port": "9999"}, &schema)
	assert.Error(t, err)
}
