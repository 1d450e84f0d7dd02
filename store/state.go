package store

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrStateTypeMismatch = errors.New("state type mismatch")

type StateController[T any] interface {
	Pointer() *T
	Locker() *sync.RWMutex
	Clear()
}

type snapshotter interface {
	snapshot() ([]byte, error)
}

type state[T any] struct {
	pointer     *T
	mutex       *sync.RWMutex
	initializer func() T
}

func (s *state[T]) Pointer() *T           { return s.pointer }
func (s *state[T]) Locker() *sync.RWMutex { return s.mutex }

func (s *state[T]) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	*s.pointer = s.initializer()
}

func (s *state[T]) snapshot() ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(s.pointer); err != nil {
		return nil, errors.WithMessage(err, "failed to encode state")
	}
	return buffer.Bytes(), nil
}

// StateStore holds the named operator states of one query. States are versioned by the
// batch that produced them: Load restores the version of a batch, Save writes one.
type StateStore struct {
	mutex      sync.Mutex
	checkpoint *Checkpoint
	registered map[string]snapshotter
	// restored holds loaded payloads until their operator registers.
	restored map[string][]byte
}

func NewStateStore(checkpoint *Checkpoint) *StateStore {
	return &StateStore{
		checkpoint: checkpoint,
		registered: map[string]snapshotter{},
		restored:   map[string][]byte{},
	}
}

// Load restores the states saved by batchID. A batch that saved nothing yields empty states.
func (s *StateStore) Load(batchID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.registered = map[string]snapshotter{}
	s.restored = map[string][]byte{}
	data, err := s.checkpoint.backend.Get(stateBucket, batchID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	container := &structpb.Struct{}
	if err = proto.Unmarshal(data, container); err != nil {
		return errors.WithMessagef(err, "failed to decode state of batch %d", batchID)
	}
	for key, v := range container.Fields {
		payload, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return errors.WithMessagef(err, "failed to decode state %s of batch %d", key, batchID)
		}
		s.restored[key] = payload
	}
	return nil
}

// Save snapshots every registered state as the version of batchID.
func (s *StateStore) Save(batchID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.registered) == 0 {
		return nil
	}
	fields := make(map[string]any, len(s.registered))
	for key, st := range s.registered {
		payload, err := st.snapshot()
		if err != nil {
			return errors.WithMessagef(err, "failed to snapshot state %s", key)
		}
		fields[key] = base64.StdEncoding.EncodeToString(payload)
	}
	container, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(container)
	if err != nil {
		return errors.WithMessagef(err, "failed to encode state of batch %d", batchID)
	}
	return s.checkpoint.backend.Put(stateBucket, batchID, data)
}

// GobRegisterOrGet returns the state registered under key, restoring it from the last
// loaded version when one exists. The state is gob encoded, so T must expose its fields.
func GobRegisterOrGet[T any](store *StateStore, key string, initializer func() T) (StateController[T], error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if registered, ok := store.registered[key]; ok {
		st, ok := registered.(*state[T])
		if !ok {
			return nil, errors.WithMessagef(ErrStateTypeMismatch, "state %s is a %T", key, registered)
		}
		return st, nil
	}
	st := &state[T]{pointer: new(T), mutex: &sync.RWMutex{}, initializer: initializer}
	*st.pointer = initializer()
	if payload, ok := store.restored[key]; ok {
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(st.pointer); err != nil {
			return nil, errors.WithMessagef(err, "failed to decode state %s", key)
		}
		delete(store.restored, key)
	}
	store.registered[key] = st
	return st, nil
}
