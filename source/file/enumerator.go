package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

type Location struct {
	Path    string
	ModTime time.Time
}

// Enumerator discovers the files of a directory, each exactly once. Files are found by
// explicit scans and, between scans, by watching the directory.
type Enumerator struct {
	logger      log.Logger
	dir         string
	pattern     string
	latestFirst bool

	mutex   sync.Mutex
	seen    map[string]struct{}
	pending []Location

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan error
}

func NewEnumerator(logger log.Logger, dir, pattern string, latestFirst bool) *Enumerator {
	return &Enumerator{
		logger:      logger,
		dir:         dir,
		pattern:     pattern,
		latestFirst: latestFirst,
		seen:        map[string]struct{}{},
		done:        make(chan struct{}),
	}
}

func (e *Enumerator) accept(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
		return false
	}
	if e.pattern == "" {
		return true
	}
	ok, err := filepath.Match(e.pattern, base)
	return err == nil && ok
}

// ScanDir adds every unseen regular file of the directory.
func (e *Enumerator) ScanDir() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return errors.WithMessagef(err, "failed to list %s", e.dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !e.accept(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		e.AddLocation(Location{Path: filepath.Join(e.dir, entry.Name()), ModTime: info.ModTime()})
	}
	return nil
}

func (e *Enumerator) AddLocation(location Location) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if _, ok := e.seen[location.Path]; ok {
		return
	}
	e.seen[location.Path] = struct{}{}
	e.pending = append(e.pending, location)
}

// MarkSeen excludes paths from discovery, used for files admitted before a restart.
func (e *Enumerator) MarkSeen(paths []string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for _, p := range paths {
		e.seen[p] = struct{}{}
	}
}

// Take removes up to max pending files, oldest first unless latestFirst. max <= 0 takes all.
func (e *Enumerator) Take(max int) []Location {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	sort.SliceStable(e.pending, func(i, j int) bool {
		a, b := e.pending[i], e.pending[j]
		if !a.ModTime.Equal(b.ModTime) {
			if e.latestFirst {
				return a.ModTime.After(b.ModTime)
			}
			return a.ModTime.Before(b.ModTime)
		}
		return a.Path < b.Path
	})
	n := len(e.pending)
	if max > 0 && max < n {
		n = max
	}
	taken := append([]Location(nil), e.pending[:n]...)
	e.pending = e.pending[n:]
	return taken
}

func (e *Enumerator) StartWatchDir() (err error) {
	if e.watcher, err = fsnotify.NewWatcher(); err != nil {
		return err
	}
	if err = e.watcher.Add(e.dir); err != nil {
		_ = e.watcher.Close()
		return errors.WithMessagef(err, "failed to watch %s", e.dir)
	}
	e.stopped = safe.Go(func() error {
		for {
			select {
			case <-e.done:
				return nil
			case event, ok := <-e.watcher.Events:
				if !ok {
					return nil
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				info, err := os.Stat(event.Name)
				if err != nil || info.IsDir() || !e.accept(event.Name) {
					continue
				}
				e.logger.Debugf("discovered new file %s.", event.Name)
				e.AddLocation(Location{Path: event.Name, ModTime: info.ModTime()})
			case err, ok := <-e.watcher.Errors:
				if !ok {
					return nil
				}
				e.logger.Warnw("received watcher error, falling back to directory scans.", "dir", e.dir, "err", err)
			}
		}
	})
	return nil
}

func (e *Enumerator) Close() error {
	close(e.done)
	if e.watcher == nil {
		return nil
	}
	err := e.watcher.Close()
	<-e.stopped
	return err
}
