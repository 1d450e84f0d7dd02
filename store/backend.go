// Package store persists a query's checkpoint: the offset log, the commit log and
// versioned operator state, all keyed by batch id.
package store

import (
	"sort"
	"strconv"
	"sync"

	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/pkg/errors"
	"github.com/xujiajun/nutsdb"
)

var ErrNotFound = errors.New("not found in checkpoint")

type Backend interface {
	Put(bucket string, batchID int64, value []byte) error
	Get(bucket string, batchID int64) ([]byte, error)
	// Latest returns the highest batch id of bucket, or -1 when it is empty.
	Latest(bucket string) (int64, []byte, error)
	// Purge drops every entry of bucket older than before.
	Purge(bucket string, before int64) error
	Close() error
}

func formatBatchID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseBatchID(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}

// buckets is the in-memory view shared by both backends.
type buckets struct {
	mutex sync.RWMutex
	data  map[string]map[int64][]byte
}

func (b *buckets) put(bucket string, id int64, value []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.data[bucket] == nil {
		b.data[bucket] = map[int64][]byte{}
	}
	b.data[bucket][id] = value
}

func (b *buckets) get(bucket string, id int64) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if v, ok := b.data[bucket][id]; ok {
		return v, nil
	}
	return nil, errors.WithMessagef(ErrNotFound, "%s/%d", bucket, id)
}

func (b *buckets) latest(bucket string) (int64, []byte) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	latest := int64(-1)
	for id := range b.data[bucket] {
		if id > latest {
			latest = id
		}
	}
	if latest < 0 {
		return -1, nil
	}
	return latest, b.data[bucket][latest]
}

// expired removes and returns the ids of bucket older than before, ascending.
func (b *buckets) expired(bucket string, before int64) []int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var ids []int64
	for id := range b.data[bucket] {
		if id < before {
			ids = append(ids, id)
			delete(b.data[bucket], id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type memory struct {
	buckets
}

func (m *memory) Put(bucket string, batchID int64, value []byte) error {
	m.put(bucket, batchID, append([]byte(nil), value...))
	return nil
}

func (m *memory) Get(bucket string, batchID int64) ([]byte, error) {
	return m.get(bucket, batchID)
}

func (m *memory) Latest(bucket string) (int64, []byte, error) {
	id, v := m.latest(bucket)
	return id, v, nil
}

func (m *memory) Purge(bucket string, before int64) error {
	m.expired(bucket, before)
	return nil
}

func (m *memory) Close() error { return nil }

// NewMemoryBackend keeps the checkpoint in process memory; it does not survive a restart.
func NewMemoryBackend() Backend {
	return &memory{buckets{data: map[string]map[int64][]byte{}}}
}

type fs struct {
	buckets
	logger log.Logger
	db     *nutsdb.DB
	//writes counts puts since open, a merge runs every mergeEvery writes
	writes     int
	mergeEvery int
}

func (f *fs) init() error {
	return f.db.View(func(tx *nutsdb.Tx) error {
		var names []string
		if err := tx.IterateBuckets(nutsdb.DataStructureBPTree, "*", func(bucket string) bool {
			names = append(names, bucket)
			return true
		}); err != nil {
			return errors.WithMessage(err, "unable to iterate checkpoint buckets, the checkpoint may be corrupted")
		}
		for _, bucket := range names {
			entries, err := tx.GetAll(bucket)
			if err != nil {
				if errors.Is(err, nutsdb.ErrBucketEmpty) {
					continue
				}
				return errors.WithMessagef(err, "failed to read checkpoint bucket %s", bucket)
			}
			for _, entry := range entries {
				id, err := parseBatchID(string(entry.Key))
				if err != nil {
					f.logger.Warnw("skip unknown checkpoint entry.", "bucket", bucket, "key", string(entry.Key))
					continue
				}
				f.put(bucket, id, entry.Value)
			}
		}
		return nil
	})
}

func (f *fs) Put(bucket string, batchID int64, value []byte) error {
	value = append([]byte(nil), value...)
	if err := f.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, []byte(formatBatchID(batchID)), value, 0)
	}); err != nil {
		return errors.WithMessagef(err, "failed to persist %s/%d", bucket, batchID)
	}
	f.put(bucket, batchID, value)
	f.writes++
	if f.mergeEvery > 0 && f.writes%f.mergeEvery == 0 {
		if err := f.db.Merge(); err != nil {
			f.logger.Warnw("failed to merge checkpoint files.", "err", err)
		}
	}
	return nil
}

func (f *fs) Get(bucket string, batchID int64) ([]byte, error) {
	return f.get(bucket, batchID)
}

func (f *fs) Latest(bucket string) (int64, []byte, error) {
	id, v := f.latest(bucket)
	return id, v, nil
}

func (f *fs) Purge(bucket string, before int64) error {
	ids := f.expired(bucket, before)
	if len(ids) == 0 {
		return nil
	}
	return f.db.Update(func(tx *nutsdb.Tx) error {
		for _, id := range ids {
			if err := tx.Delete(bucket, []byte(formatBatchID(id))); err != nil {
				return errors.WithMessagef(err, "failed to purge %s/%d", bucket, id)
			}
		}
		return nil
	})
}

func (f *fs) Close() error {
	return f.db.Close()
}

// NewFSBackend stores the checkpoint in a nutsdb database under dir, merging its data
// files every mergeEvery writes.
func NewFSBackend(logger log.Logger, dir string, mergeEvery int) (Backend, error) {
	opts := nutsdb.DefaultOptions
	opts.SegmentSize = 8 * nutsdb.MB
	opts.Dir = dir
	db, err := nutsdb.Open(opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open checkpoint at %s", dir)
	}
	backend := &fs{
		buckets:    buckets{data: map[string]map[int64][]byte{}},
		logger:     logger,
		db:         db,
		mergeEvery: mergeEvery,
	}
	if err = backend.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}
