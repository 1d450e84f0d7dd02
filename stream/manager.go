package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var ErrDuplicateQueryName = errors.New("a query with this name is already active")

// StreamingQueryManager tracks the queries of a session.
type StreamingQueryManager struct {
	session *Session

	mutex      sync.Mutex
	active     map[string]*execution.StreamingQuery
	starting   map[string]bool
	listeners  []execution.Listener
	terminated *execution.StreamingQuery
	changed    chan struct{}
}

func newStreamingQueryManager(session *Session) *StreamingQueryManager {
	return &StreamingQueryManager{
		session:  session,
		active:   map[string]*execution.StreamingQuery{},
		starting: map[string]bool{},
		changed:  make(chan struct{}),
	}
}

func (m *StreamingQueryManager) reserve(name string) error {
	if name == "" {
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.starting[name] {
		return errors.WithMessagef(ErrDuplicateQueryName, "%s", name)
	}
	for _, q := range m.active {
		if q.Name() == name {
			return errors.WithMessagef(ErrDuplicateQueryName, "%s", name)
		}
	}
	m.starting[name] = true
	return nil
}

func (m *StreamingQueryManager) release(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.starting, name)
}

// Active lists the running queries ordered by name, then id.
func (m *StreamingQueryManager) Active() []*execution.StreamingQuery {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]*execution.StreamingQuery, 0, len(m.active))
	for _, q := range m.active {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Get returns the active query with id, nil when there is none.
func (m *StreamingQueryManager) Get(id string) *execution.StreamingQuery {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active[id]
}

// AddListener registers l for the life cycle events of every query of the session.
func (m *StreamingQueryManager) AddListener(l execution.Listener) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *StreamingQueryManager) listenersSnapshot() []execution.Listener {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]execution.Listener(nil), m.listeners...)
}

// AwaitAnyTermination blocks until a query terminated since the manager was created or
// ResetTerminated was last called, returning that query's error.
func (m *StreamingQueryManager) AwaitAnyTermination(ctx context.Context) error {
	for {
		m.mutex.Lock()
		if m.terminated != nil {
			q := m.terminated
			m.mutex.Unlock()
			return q.Exception()
		}
		changed := m.changed
		m.mutex.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResetTerminated forgets past terminations so AwaitAnyTermination waits for new ones.
func (m *StreamingQueryManager) ResetTerminated() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.terminated = nil
}

// StopAll stops every active query and combines their errors.
func (m *StreamingQueryManager) StopAll() error {
	var err error
	for _, q := range m.Active() {
		err = multierr.Append(err, q.Stop())
	}
	return err
}

func (m *StreamingQueryManager) OnQueryStarted(q *execution.StreamingQuery) {
	m.mutex.Lock()
	m.active[q.ID()] = q
	m.mutex.Unlock()
	m.session.logger.Infow("query started.", "id", q.ID(), "name", q.Name())
	for _, l := range m.listenersSnapshot() {
		l.OnQueryStarted(q)
	}
}

func (m *StreamingQueryManager) OnQueryProgress(q *execution.StreamingQuery, progress *execution.StreamingQueryProgress) {
	for _, l := range m.listenersSnapshot() {
		l.OnQueryProgress(q, progress)
	}
}

func (m *StreamingQueryManager) OnQueryTerminated(q *execution.StreamingQuery, err error) {
	m.mutex.Lock()
	if m.active[q.ID()] == q {
		delete(m.active, q.ID())
	}
	m.terminated = q
	close(m.changed)
	m.changed = make(chan struct{})
	m.mutex.Unlock()
	for _, l := range m.listenersSnapshot() {
		l.OnQueryTerminated(q, err)
	}
}
