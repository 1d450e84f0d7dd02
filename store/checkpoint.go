package store

import (
	"encoding/base64"
	"strconv"

	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	offsetsBucket = "offsets"
	commitsBucket = "commits"
	stateBucket   = "state"
	// metadataBucket holds one entry, the id of the query owning the checkpoint.
	metadataBucket = "metadata"
)

// OffsetEntry is written before a batch runs: it pins the exact input of the batch so
// that a restart replays it unchanged.
type OffsetEntry struct {
	// Start and End per source, Start is nil for a source's first batch.
	Start       map[string]source.Offset
	End         map[string]source.Offset
	WatermarkMs int64
	TimestampMs int64
	// Metadata carries source snapshots needed to serve End again.
	Metadata map[string][]byte
}

// CommitEntry is written once the sink accepted a batch.
type CommitEntry struct {
	WatermarkMs int64
}

type Checkpoint struct {
	backend Backend
	retain  int
}

// NewCheckpoint keeps at least retain batches of logs and state around.
func NewCheckpoint(backend Backend, retain int) *Checkpoint {
	if retain < 1 {
		retain = 1
	}
	return &Checkpoint{backend: backend, retain: retain}
}

func (c *Checkpoint) Backend() Backend { return c.backend }

func offsetsToStruct(offsets map[string]source.Offset) map[string]any {
	out := make(map[string]any, len(offsets))
	for name, offset := range offsets {
		if offset == nil {
			continue
		}
		partitions := make(map[string]any, len(offset))
		for partition, v := range offset {
			partitions[partition] = strconv.FormatInt(v, 10)
		}
		out[name] = partitions
	}
	return out
}

func offsetsFromStruct(s *structpb.Struct) (map[string]source.Offset, error) {
	out := map[string]source.Offset{}
	if s == nil {
		return out, nil
	}
	for name, v := range s.Fields {
		offset := source.Offset{}
		for partition, pv := range v.GetStructValue().GetFields() {
			n, err := strconv.ParseInt(pv.GetStringValue(), 10, 64)
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid offset %s/%s", name, partition)
			}
			offset[partition] = n
		}
		out[name] = offset
	}
	return out, nil
}

func (e OffsetEntry) marshal() ([]byte, error) {
	metadata := make(map[string]any, len(e.Metadata))
	for name, m := range e.Metadata {
		metadata[name] = base64.StdEncoding.EncodeToString(m)
	}
	s, err := structpb.NewStruct(map[string]any{
		"start":            offsetsToStruct(e.Start),
		"end":              offsetsToStruct(e.End),
		"batchWatermarkMs": strconv.FormatInt(e.WatermarkMs, 10),
		"batchTimestampMs": strconv.FormatInt(e.TimestampMs, 10),
		"metadata":         metadata,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func unmarshalOffsetEntry(data []byte) (OffsetEntry, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return OffsetEntry{}, err
	}
	var (
		e   OffsetEntry
		err error
	)
	if e.Start, err = offsetsFromStruct(s.Fields["start"].GetStructValue()); err != nil {
		return e, err
	}
	if e.End, err = offsetsFromStruct(s.Fields["end"].GetStructValue()); err != nil {
		return e, err
	}
	if e.WatermarkMs, err = strconv.ParseInt(s.Fields["batchWatermarkMs"].GetStringValue(), 10, 64); err != nil {
		return e, errors.WithMessage(err, "invalid batch watermark")
	}
	if e.TimestampMs, err = strconv.ParseInt(s.Fields["batchTimestampMs"].GetStringValue(), 10, 64); err != nil {
		return e, errors.WithMessage(err, "invalid batch timestamp")
	}
	e.Metadata = map[string][]byte{}
	for name, v := range s.Fields["metadata"].GetStructValue().GetFields() {
		if e.Metadata[name], err = base64.StdEncoding.DecodeString(v.GetStringValue()); err != nil {
			return e, errors.WithMessagef(err, "invalid metadata of %s", name)
		}
	}
	return e, nil
}

func (c *Checkpoint) WriteOffsets(batchID int64, entry OffsetEntry) error {
	data, err := entry.marshal()
	if err != nil {
		return errors.WithMessagef(err, "failed to encode offsets of batch %d", batchID)
	}
	return c.backend.Put(offsetsBucket, batchID, data)
}

func (c *Checkpoint) ReadOffsets(batchID int64) (OffsetEntry, error) {
	data, err := c.backend.Get(offsetsBucket, batchID)
	if err != nil {
		return OffsetEntry{}, err
	}
	entry, err := unmarshalOffsetEntry(data)
	return entry, errors.WithMessagef(err, "failed to decode offsets of batch %d", batchID)
}

// LatestOffsets returns the last logged batch, with id -1 for a fresh checkpoint.
func (c *Checkpoint) LatestOffsets() (int64, OffsetEntry, error) {
	id, data, err := c.backend.Latest(offsetsBucket)
	if err != nil || id < 0 {
		return -1, OffsetEntry{}, err
	}
	entry, err := unmarshalOffsetEntry(data)
	if err != nil {
		return -1, OffsetEntry{}, errors.WithMessagef(err, "failed to decode offsets of batch %d", id)
	}
	return id, entry, nil
}

func (c *Checkpoint) WriteCommit(batchID int64, entry CommitEntry) error {
	s, err := structpb.NewStruct(map[string]any{"nextBatchWatermarkMs": strconv.FormatInt(entry.WatermarkMs, 10)})
	if err != nil {
		return err
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return errors.WithMessagef(err, "failed to encode commit of batch %d", batchID)
	}
	return c.backend.Put(commitsBucket, batchID, data)
}

// LatestCommit returns the last committed batch, with id -1 when nothing committed yet.
func (c *Checkpoint) LatestCommit() (int64, CommitEntry, error) {
	id, data, err := c.backend.Latest(commitsBucket)
	if err != nil || id < 0 {
		return -1, CommitEntry{}, err
	}
	s := &structpb.Struct{}
	if err = proto.Unmarshal(data, s); err != nil {
		return -1, CommitEntry{}, errors.WithMessagef(err, "failed to decode commit of batch %d", id)
	}
	watermark, err := strconv.ParseInt(s.Fields["nextBatchWatermarkMs"].GetStringValue(), 10, 64)
	if err != nil {
		return -1, CommitEntry{}, errors.WithMessagef(err, "invalid watermark in commit of batch %d", id)
	}
	return id, CommitEntry{WatermarkMs: watermark}, nil
}

// Purge drops logs and state older than the retained window ending at batchID.
func (c *Checkpoint) Purge(batchID int64) error {
	before := batchID - int64(c.retain) + 1
	if before <= 0 {
		return nil
	}
	for _, bucket := range []string{offsetsBucket, commitsBucket, stateBucket} {
		if err := c.backend.Purge(bucket, before); err != nil {
			return err
		}
	}
	return nil
}

// QueryID returns the query id stored in the checkpoint, "" for a fresh checkpoint.
func (c *Checkpoint) QueryID() (string, error) {
	data, err := c.backend.Get(metadataBucket, 0)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s := &structpb.Struct{}
	if err = proto.Unmarshal(data, s); err != nil {
		return "", errors.WithMessage(err, "failed to decode checkpoint metadata")
	}
	return s.Fields["id"].GetStringValue(), nil
}

func (c *Checkpoint) SetQueryID(id string) error {
	s, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return errors.WithMessage(err, "failed to encode checkpoint metadata")
	}
	return c.backend.Put(metadataBucket, 0, data)
}
