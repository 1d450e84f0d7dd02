// Package execution runs logical plans: once over bounded inputs, or as a streaming
// query that processes its sources in micro-batches.
//
// A micro-batch first logs the offsets it is about to process, then runs the plan over
// the rows in those offset ranges, hands the result to the sink, and finally saves
// operator state and logs the commit. A query restarted on the same checkpoint re-runs
// a batch that was logged but not committed with exactly the same offsets.
package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/common/status"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/metrics"
	"github.com/RuiFG/streaming/streaming-table/plan"
	"github.com/RuiFG/streaming/streaming-table/sink"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/store"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Listener is notified of the life cycle of queries.
type Listener interface {
	OnQueryStarted(query *StreamingQuery)
	OnQueryProgress(query *StreamingQuery, progress *StreamingQueryProgress)
	OnQueryTerminated(query *StreamingQuery, err error)
}

type QueryOptions struct {
	Name    string
	Mode    plan.OutputMode
	Trigger Trigger
	// CheckpointLocation is the directory of the offset and commit logs and the state.
	// Without one the checkpoint lives in memory and dies with the query.
	CheckpointLocation string
	MinBatchesToRetain int
	// NoDataMicroBatches runs a batch without new data when the watermark moved, so
	// that stateful operators can emit and evict finalized groups.
	NoDataMicroBatches bool
	ProgressRetained   int
	// IdleDelay is the pause between two offset checks that found no data.
	IdleDelay time.Duration
	Scope     tally.Scope
	Logger    log.Logger
	Listener  Listener
}

var DefaultQueryOptions = QueryOptions{
	Mode:               plan.Append,
	Trigger:            ProcessingTime(0),
	MinBatchesToRetain: 100,
	NoDataMicroBatches: true,
	ProgressRetained:   100,
	IdleDelay:          10 * time.Millisecond,
}

type sourceState struct {
	key        string
	relation   *plan.StreamingRelation
	source     source.Source
	committed  source.Offset
	restore    []byte
	resumeFrom source.Offset
}

type StreamingQuery struct {
	id      string
	runID   string
	options QueryOptions
	logger  log.Logger
	plan    plan.Node
	schema  types.Schema
	sink    sink.Sink
	metrics *metrics.Query

	checkpoint *store.Checkpoint
	states     *store.StateStore
	tracker    *WatermarkTracker
	root       operator
	stateful   bool
	sources    []*sourceState

	status status.Status
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	nextBatchID    int64
	pending        *store.OffsetEntry
	watermarkMoved bool
	lastTrigger    time.Time

	mutex     sync.Mutex
	exception error
	closeErr  error
	recent    []*StreamingQueryProgress
	current   StreamingQueryStatus
	checkSeq  int64
	idleSeq   int64
	changed   chan struct{}
}

func openCheckpoint(logger log.Logger, options QueryOptions) (*store.Checkpoint, error) {
	if options.CheckpointLocation == "" {
		return store.NewCheckpoint(store.NewMemoryBackend(), options.MinBatchesToRetain), nil
	}
	backend, err := store.NewFSBackend(logger, options.CheckpointLocation, 64)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open checkpoint %s", options.CheckpointLocation)
	}
	return store.NewCheckpoint(backend, options.MinBatchesToRetain), nil
}

// Start validates node for options.Mode, recovers from the checkpoint and starts
// running batches on a new goroutine. The query owns s and closes it when it stops.
func Start(node plan.Node, s sink.Sink, options QueryOptions) (q *StreamingQuery, err error) {
	if err = plan.CheckStreaming(node, options.Mode); err != nil {
		return nil, err
	}
	if options.Logger == nil {
		options.Logger = log.Global()
	}
	if options.IdleDelay <= 0 {
		options.IdleDelay = DefaultQueryOptions.IdleDelay
	}
	if options.ProgressRetained <= 0 {
		options.ProgressRetained = DefaultQueryOptions.ProgressRetained
	}
	checkpoint, err := openCheckpoint(options.Logger, options)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = checkpoint.Backend().Close()
		}
	}()
	id, err := checkpoint.QueryID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
		if err = checkpoint.SetQueryID(id); err != nil {
			return nil, err
		}
	}
	q = &StreamingQuery{
		id:         id,
		runID:      uuid.NewString(),
		options:    options,
		plan:       node,
		schema:     node.Schema(),
		sink:       s,
		checkpoint: checkpoint,
		states:     store.NewStateStore(checkpoint),
		tracker:    NewWatermarkTracker(),
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		changed:    make(chan struct{}),
		current:    StreamingQueryStatus{Message: "Initializing sources"},
	}
	name := options.Name
	if name == "" {
		name = q.id
	}
	q.logger = options.Logger.Named("query").With("name", name, "runId", q.runID)
	q.metrics = metrics.NewQuery(options.Scope, name)
	if err = q.recover(); err != nil {
		return nil, err
	}
	compiler := &compiler{states: q.states, tracker: q.tracker}
	if q.root, err = compiler.compile(node); err != nil {
		_ = q.closeSources()
		return nil, err
	}
	q.stateful = compiler.aggregates > 0
	q.ctx, q.cancel = context.WithCancel(context.Background())
	status.CAP(&q.status, status.Ready, status.Running)
	q.logger.Infow("starting query.", "id", q.id, "mode", options.Mode, "trigger", options.Trigger, "batch", q.nextBatchID)
	if options.Listener != nil {
		options.Listener.OnQueryStarted(q)
	}
	go q.run()
	return q, nil
}

// recover creates the sources and positions them after the last committed batch.
func (q *StreamingQuery) recover() error {
	var relations []*plan.StreamingRelation
	plan.Walk(q.plan, func(n plan.Node) bool {
		if r, ok := n.(*plan.StreamingRelation); ok {
			relations = append(relations, r)
		}
		return true
	})
	offsetID, entry, err := q.checkpoint.LatestOffsets()
	if err != nil {
		return err
	}
	commitID, commit, err := q.checkpoint.LatestCommit()
	if err != nil {
		return err
	}
	if commitID >= 0 {
		if err = q.states.Load(commitID); err != nil {
			return err
		}
	}
	replay := offsetID >= 0 && commitID < offsetID
	switch {
	case offsetID < 0:
		q.nextBatchID = 0
	case replay:
		q.nextBatchID = offsetID
		q.tracker.Restore(entry.WatermarkMs)
	default:
		q.nextBatchID = offsetID + 1
		q.tracker.Restore(commit.WatermarkMs)
	}
	for i, relation := range relations {
		src, err := relation.New()
		if err != nil {
			_ = q.closeSources()
			return errors.WithMessagef(err, "failed to create source %s", relation.Name)
		}
		state := &sourceState{key: strconv.Itoa(i), relation: relation, source: src}
		q.sources = append(q.sources, state)
		if offsetID < 0 {
			continue
		}
		if !source.IsReplayable(src) {
			q.logger.Warnw("source can't replay data after a restart, data received before it is lost.", "source", src.String())
			if replay {
				delete(entry.Start, state.key)
				delete(entry.End, state.key)
			}
			continue
		}
		state.restore = entry.Metadata[state.key]
		if replay {
			state.committed = entry.Start[state.key].Clone()
		} else {
			state.committed = entry.End[state.key].Clone()
		}
		state.resumeFrom = state.committed
	}
	if replay {
		q.pending = &entry
	}
	return nil
}

func (q *StreamingQuery) openSources() error {
	ctx := source.NewContext(q.ctx, q.logger)
	for _, s := range q.sources {
		if snapshotter, ok := s.source.(source.Snapshotter); ok && s.restore != nil {
			if err := snapshotter.Restore(s.restore); err != nil {
				return errors.WithMessagef(err, "failed to restore %s", s.source)
			}
		}
		if resumable, ok := s.source.(source.Resumable); ok && s.resumeFrom != nil {
			if err := resumable.Resume(s.resumeFrom); err != nil {
				return errors.WithMessagef(err, "failed to resume %s", s.source)
			}
		}
		if err := s.source.Open(ctx); err != nil {
			return errors.WithMessagef(err, "failed to open %s", s.source)
		}
	}
	return nil
}

func (q *StreamingQuery) closeSources() error {
	var err error
	for _, s := range q.sources {
		err = multierr.Append(err, s.source.Close())
	}
	return err
}

func (q *StreamingQuery) run() {
	err := safe.Run(q.runStream)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	q.terminate(err)
}

func (q *StreamingQuery) runStream() error {
	if err := q.openSources(); err != nil {
		return err
	}
	if q.pending != nil {
		q.logger.Infow("re-running batch logged before the restart.", "batch", q.nextBatchID)
		if err := q.runBatch(q.nextBatchID, *q.pending); err != nil {
			return err
		}
		q.pending = nil
	}
	switch q.options.Trigger.kind {
	case once:
		_, err := q.runOnce()
		return err
	case availableNow:
		for q.ctx.Err() == nil {
			ran, err := q.runOnce()
			if err != nil || !ran {
				return err
			}
		}
		return nil
	}
	interval := q.options.Trigger.interval
	for {
		triggerStart := time.Now()
		ran, err := q.runOnce()
		if err != nil {
			return err
		}
		var wait time.Duration
		if interval > 0 {
			wait = interval - time.Since(triggerStart)
		} else if !ran {
			wait = q.options.IdleDelay
		}
		if wait <= 0 {
			if q.ctx.Err() != nil {
				return nil
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// runOnce checks the sources for new data and runs a batch when there is some, or when
// stateful operators need a batch to react to a moved watermark.
func (q *StreamingQuery) runOnce() (bool, error) {
	q.mutex.Lock()
	q.checkSeq++
	seq := q.checkSeq
	q.current = StreamingQueryStatus{Message: "Getting offsets from sources", IsTriggerActive: true}
	q.mutex.Unlock()

	latest := make([]source.Offset, len(q.sources))
	g, _ := errgroup.WithContext(q.ctx)
	for i, s := range q.sources {
		i, s := i, s
		g.Go(func() error {
			offset, err := s.source.LatestOffset()
			latest[i] = offset
			return errors.WithMessagef(err, "failed to get latest offset of %s", s.source)
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	hasData := false
	entry := store.OffsetEntry{
		Start:       map[string]source.Offset{},
		End:         map[string]source.Offset{},
		WatermarkMs: q.tracker.CurrentMs(),
		TimestampMs: time.Now().UnixMilli(),
		Metadata:    map[string][]byte{},
	}
	for i, s := range q.sources {
		end := s.committed
		if len(latest[i]) > 0 && !latest[i].Equal(s.committed) {
			hasData = true
			end = latest[i]
		}
		if s.committed != nil {
			entry.Start[s.key] = s.committed.Clone()
		}
		if end != nil {
			entry.End[s.key] = end.Clone()
		}
		if snapshotter, ok := s.source.(source.Snapshotter); ok {
			data, err := snapshotter.Snapshot()
			if err != nil {
				return false, errors.WithMessagef(err, "failed to snapshot %s", s.source)
			}
			entry.Metadata[s.key] = data
		}
	}
	if !hasData && !(q.options.NoDataMicroBatches && q.stateful && q.watermarkMoved) {
		q.mutex.Lock()
		q.idleSeq = seq
		q.current = StreamingQueryStatus{Message: "Waiting for data to arrive"}
		q.signal()
		q.mutex.Unlock()
		return false, nil
	}
	if err := q.checkpoint.WriteOffsets(q.nextBatchID, entry); err != nil {
		return false, err
	}
	return true, q.runBatch(q.nextBatchID, entry)
}

func (q *StreamingQuery) runBatch(batchID int64, entry store.OffsetEntry) error {
	started := time.Now()
	q.setStatus(StreamingQueryStatus{Message: "Processing new data", IsDataAvailable: true, IsTriggerActive: true})
	logger := q.logger.With("batch", batchID)

	inputs := map[*plan.StreamingRelation][]types.Row{}
	counts := make([]int64, len(q.sources))
	var mutex sync.Mutex
	g, _ := errgroup.WithContext(q.ctx)
	for i, s := range q.sources {
		i, s := i, s
		start, end := entry.Start[s.key], entry.End[s.key]
		if len(end) == 0 || end.Equal(start) {
			continue
		}
		g.Go(func() error {
			rows, err := s.source.GetBatch(start, end)
			if err != nil {
				return errors.WithMessagef(err, "failed to get batch %d of %s", batchID, s.source)
			}
			mutex.Lock()
			inputs[s.relation] = rows
			counts[i] = int64(len(rows))
			mutex.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	gotBatch := time.Now()

	ctx := &batchContext{
		batchID:     batchID,
		mode:        q.options.Mode,
		inputs:      inputs,
		watermarkMs: entry.WatermarkMs,
		tracker:     q.tracker,
	}
	rows, err := q.root.execute(ctx)
	if err != nil {
		return errors.WithMessagef(err, "failed to execute batch %d", batchID)
	}
	executed := time.Now()
	if err = q.sink.AddBatch(&sink.Batch{ID: batchID, Schema: q.schema, Rows: rows, Mode: q.options.Mode}); err != nil {
		return errors.WithMessagef(err, "failed to add batch %d to %s", batchID, q.sink)
	}
	added := time.Now()

	q.watermarkMoved = q.tracker.Advance()
	if err = q.states.Save(batchID); err != nil {
		return err
	}
	if err = q.checkpoint.WriteCommit(batchID, store.CommitEntry{WatermarkMs: q.tracker.CurrentMs()}); err != nil {
		return err
	}
	for _, s := range q.sources {
		end := entry.End[s.key]
		if len(end) > 0 {
			if err := s.source.Commit(end); err != nil {
				logger.Warnw("failed to commit source offsets.", "source", s.source.String(), "err", err)
			}
		}
		s.committed = end
	}
	if err = q.checkpoint.Purge(batchID); err != nil {
		logger.Warnw("failed to purge old checkpoint entries.", "err", err)
	}
	q.nextBatchID = batchID + 1
	committed := time.Now()

	var inputRows int64
	for _, n := range counts {
		inputRows += n
	}
	progress := &StreamingQueryProgress{
		ID:           q.id,
		RunID:        q.runID,
		Name:         q.options.Name,
		Timestamp:    started.UTC().Format("2006-01-02T15:04:05.000Z"),
		BatchID:      batchID,
		NumInputRows: inputRows,
		DurationMs: map[string]int64{
			"getBatch":         gotBatch.Sub(started).Milliseconds(),
			"queryPlanning":    0,
			"execution":        executed.Sub(gotBatch).Milliseconds(),
			"addBatch":         added.Sub(executed).Milliseconds(),
			"walCommit":        committed.Sub(added).Milliseconds(),
			"triggerExecution": committed.Sub(started).Milliseconds(),
		},
		EventTime:      q.tracker.EventTimeStats(),
		StateOperators: ctx.stateful,
		Sink:           SinkProgress{Description: q.sink.String(), NumOutputRows: int64(len(rows))},
	}
	sinceLast := 0.0
	if !q.lastTrigger.IsZero() {
		sinceLast = started.Sub(q.lastTrigger).Seconds()
	}
	q.lastTrigger = started
	elapsed := committed.Sub(started).Seconds()
	progress.InputRowsPerSecond = perSecond(inputRows, sinceLast)
	progress.ProcessedRowsPerSecond = perSecond(inputRows, elapsed)
	for i, s := range q.sources {
		progress.Sources = append(progress.Sources, SourceProgress{
			Description:            s.source.String(),
			StartOffset:            entry.Start[s.key].String(),
			EndOffset:              entry.End[s.key].String(),
			NumInputRows:           counts[i],
			InputRowsPerSecond:     perSecond(counts[i], sinceLast),
			ProcessedRowsPerSecond: perSecond(counts[i], elapsed),
		})
	}

	q.metrics.Batches.Inc(1)
	q.metrics.InputRows.Inc(inputRows)
	q.metrics.OutputRows.Inc(int64(len(rows)))
	q.metrics.BatchDuration.Record(committed.Sub(started))
	var stateRows int64
	for _, op := range ctx.stateful {
		stateRows += op.NumRowsTotal
	}
	q.metrics.StateRows.Update(float64(stateRows))
	q.metrics.Watermark.Update(float64(q.tracker.CurrentMs()))

	q.mutex.Lock()
	q.recent = append(q.recent, progress)
	if len(q.recent) > q.options.ProgressRetained {
		q.recent = q.recent[len(q.recent)-q.options.ProgressRetained:]
	}
	q.current = StreamingQueryStatus{Message: "Waiting for next trigger"}
	q.signal()
	q.mutex.Unlock()
	logger.Debugw("batch committed.", "inputRows", inputRows, "outputRows", len(rows), "durationMs", committed.Sub(started).Milliseconds())
	if q.options.Listener != nil {
		q.options.Listener.OnQueryProgress(q, progress)
	}
	return nil
}

// signal wakes everyone waiting on a change; callers hold q.mutex.
func (q *StreamingQuery) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *StreamingQuery) setStatus(s StreamingQueryStatus) {
	q.mutex.Lock()
	q.current = s
	q.mutex.Unlock()
}

func (q *StreamingQuery) terminate(err error) {
	closeErr := multierr.Combine(q.closeSources(), q.sink.Close(), q.checkpoint.Backend().Close())
	q.mutex.Lock()
	q.exception = err
	q.closeErr = closeErr
	q.current = StreamingQueryStatus{Message: "Stopped"}
	status.CAP(&q.status, status.Running, status.Closed)
	q.signal()
	q.mutex.Unlock()
	if err != nil {
		q.logger.Errorw("query terminated with error.", "err", err)
	} else {
		q.logger.Infow("query stopped.")
	}
	if closeErr != nil {
		q.logger.Warnw("failed to release query resources.", "err", closeErr)
	}
	if q.cancel != nil {
		q.cancel()
	}
	if q.options.Listener != nil {
		q.options.Listener.OnQueryTerminated(q, err)
	}
	close(q.done)
}

func (q *StreamingQuery) ID() string    { return q.id }
func (q *StreamingQuery) RunID() string { return q.runID }
func (q *StreamingQuery) Name() string  { return q.options.Name }

func (q *StreamingQuery) IsActive() bool {
	return status.Load(&q.status).Running()
}

// Exception is the error that terminated the query, nil while it runs or after a
// clean stop.
func (q *StreamingQuery) Exception() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.exception
}

// AwaitTermination blocks until the query stops or ctx is done.
func (q *StreamingQuery) AwaitTermination(ctx context.Context) error {
	select {
	case <-q.done:
		return q.Exception()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the query terminated.
func (q *StreamingQuery) Done() <-chan struct{} { return q.done }

// Stop interrupts the query and waits for it to release its sources and sink.
func (q *StreamingQuery) Stop() error {
	q.cancel()
	<-q.done
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closeErr
}

// ProcessAllAvailable blocks until every row available in the sources when it was
// called has been processed and committed, or the query terminated.
func (q *StreamingQuery) ProcessAllAvailable(ctx context.Context) error {
	q.mutex.Lock()
	// only checks starting after this point are guaranteed to see the current data
	target := q.checkSeq + 1
	q.mutex.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	for {
		q.mutex.Lock()
		if q.idleSeq >= target {
			q.mutex.Unlock()
			return nil
		}
		changed := q.changed
		q.mutex.Unlock()
		select {
		case <-changed:
		case <-q.done:
			return q.Exception()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *StreamingQuery) LastProgress() *StreamingQueryProgress {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.recent) == 0 {
		return nil
	}
	return q.recent[len(q.recent)-1]
}

func (q *StreamingQuery) RecentProgress() []*StreamingQueryProgress {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	out := make([]*StreamingQueryProgress, len(q.recent))
	copy(out, q.recent)
	return out
}

func (q *StreamingQuery) Status() StreamingQueryStatus {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.current
}

// Explain renders the plan the query runs.
func (q *StreamingQuery) Explain() string { return plan.Explain(q.plan) }

func (q *StreamingQuery) String() string {
	return "StreamingQuery[id = " + q.id + ", runId = " + q.runID + ", name = " + q.options.Name + "]"
}
