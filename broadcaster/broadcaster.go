// Package broadcaster serves the lines of a text file to a single TCP client, one line
// at a time, to feed the socket source.
package broadcaster

import (
	"bufio"
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/pkg/errors"
)

var ErrEmptyFile = errors.New("nothing to broadcast, the file has no lines")

type Options struct {
	// Addr is the listen address, ":0" picks a free port.
	Addr string
	File string
	// Delay is the pause after every line.
	Delay time.Duration
	// Loop starts over from the first line at the end of the file.
	Loop   bool
	Logger log.Logger
}

var DefaultOptions = Options{Addr: "localhost:9999", Delay: time.Second, Loop: true}

type Broadcaster struct {
	options  Options
	logger   log.Logger
	listener net.Listener
	sent     atomic.Int64
}

func New(options Options) *Broadcaster {
	if options.Logger == nil {
		options.Logger = log.Global()
	}
	return &Broadcaster{options: options, logger: options.Logger.Named("broadcaster")}
}

// Listen binds the address so clients can connect before Serve runs.
func (b *Broadcaster) Listen() error {
	if b.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", b.options.Addr)
	if err != nil {
		return errors.WithMessagef(err, "failed to listen on %s", b.options.Addr)
	}
	b.listener = listener
	return nil
}

// Addr is the bound address, nil before Listen.
func (b *Broadcaster) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Sent counts the lines written so far.
func (b *Broadcaster) Sent() int64 { return b.sent.Load() }

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open %s", path)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.WithMessagef(err, "failed to read %s", path)
	}
	if len(lines) == 0 {
		return nil, errors.WithMessagef(ErrEmptyFile, "%s", path)
	}
	return lines, nil
}

// Serve accepts one client and writes the file to it. It returns nil when ctx is done
// or, without Loop, after the last line; a client that went away is an error.
func (b *Broadcaster) Serve(ctx context.Context) error {
	lines, err := readLines(b.options.File)
	if err != nil {
		return err
	}
	if err = b.Listen(); err != nil {
		return err
	}
	listener := b.listener
	stopListener := context.AfterFunc(ctx, func() { _ = listener.Close() })
	b.logger.Infow("waiting for a client.", "address", listener.Addr().String(), "file", b.options.File)
	conn, err := listener.Accept()
	stopListener()
	_ = listener.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.WithMessage(err, "failed to accept a client")
	}
	defer conn.Close()
	stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConn()
	b.logger.Infow("client connected.", "remote", conn.RemoteAddr().String())

	writer := bufio.NewWriter(conn)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		for _, line := range lines {
			if _, err = writer.WriteString(line + "\n"); err == nil {
				err = writer.Flush()
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.WithMessage(err, "client went away")
			}
			b.sent.Add(1)
			if b.options.Delay <= 0 {
				continue
			}
			timer.Reset(b.options.Delay)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		}
		if !b.options.Loop {
			b.logger.Infow("end of file reached.", "sent", b.Sent())
			return nil
		}
	}
}
