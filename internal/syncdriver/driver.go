// Package syncdriver implements the Sync Driver (spec.md §4.8): builds
// the requested streams' dependency DAG, runs each in topological order,
// and emits RECORD/STATE/SOURCE_STATUS messages in strict sequence.
package syncdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/message"
	"github.com/data-connectors/source-klaviyo/internal/orchestrator"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/spool"
	"github.com/data-connectors/source-klaviyo/internal/state"
	"github.com/data-connectors/source-klaviyo/internal/stream"
	"github.com/data-connectors/source-klaviyo/pkg/config"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	"github.com/data-connectors/source-klaviyo/pkg/logger"
	"github.com/data-connectors/source-klaviyo/pkg/metrics"
	"go.uber.org/zap"
)

// CatalogEntry names one stream the caller wants read, and in which mode
// (spec.md §6 "--catalog").
type CatalogEntry struct {
	Name     string
	SyncMode stream.SyncMode
}

// Driver owns the streams, writer and config for a single `read`
// invocation.
type Driver struct {
	streams  map[string]stream.Stream
	writer   *message.Writer
	cfg      *config.Config
	spoolDir string
}

// New constructs a Driver over every stream the connector provides.
func New(deps stream.Deps, w *message.Writer, spoolDir string) *Driver {
	return &Driver{
		streams:  stream.All(deps),
		writer:   w,
		cfg:      deps.Config,
		spoolDir: spoolDir,
	}
}

// Read drives catalog in dependency order, mutating mgr and writing
// messages to the Driver's Writer, per spec.md §4.8's algorithm.
func (d *Driver) Read(ctx context.Context, catalog []CatalogEntry, mgr *state.Manager) error {
	ordered, err := d.resolve(catalog)
	if err != nil {
		return err
	}

	var failedStreams []string
	streamFailures := 0

	for _, entry := range ordered {
		s := d.streams[entry.Name]

		if err := d.writer.Status(message.StatusRunning, nil, nil); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "syncdriver: write RUNNING status")
		}

		recordCount, runErr := d.runStream(ctx, s, entry.SyncMode, mgr)

		if runErr != nil && !apperrors.IsCancelled(runErr) {
			logger.WithContext(ctx).Error("syncdriver: stream failed",
				zap.String("stream", entry.Name), zap.Error(runErr))

			if apperrors.IsType(runErr, apperrors.ErrorTypeNonFatal) {
				d.emitErrorState(mgr)
				continue
			}

			if config.IsUnlimited(d.cfg.MaxStreamFailures) || streamFailures < d.cfg.MaxStreamFailures {
				streamFailures++
				failedStreams = append(failedStreams, entry.Name)
				_ = d.writer.Status(message.StatusErrored, &message.StatusMessage{
					Summary: runErr.Error(),
					Code:    "stream_failure",
					Type:    string(apperrors.ErrorTypeStreamFailure),
				}, &message.StreamStatus{Name: entry.Name, Status: message.StatusErrored, RecordsEmitted: recordCount})
				continue
			}

			// Over budget: still owed a STATUS(ERRORED) and a final STATE
			// before terminating (spec.md §7).
			_ = d.writer.Status(message.StatusErrored, &message.StatusMessage{
				Summary: runErr.Error(),
				Code:    "stream_failure",
				Type:    string(apperrors.ErrorTypeStreamFailure),
			}, &message.StreamStatus{Name: entry.Name, Status: message.StatusErrored, RecordsEmitted: recordCount})
			if err := d.checkpoint(mgr); err != nil {
				return err
			}
			return apperrors.Wrap(runErr, apperrors.ErrorTypeStreamFailure, "syncdriver: stream failure budget exceeded")
		}

		if runErr != nil {
			return runErr
		}

		if err := d.checkpoint(mgr); err != nil {
			return err
		}
		if err := d.writer.Status(message.StatusSuccess, nil, &message.StreamStatus{
			Name: entry.Name, Status: message.StatusSuccess, RecordsEmitted: recordCount,
		}); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "syncdriver: write SUCCESS status")
		}
	}

	if err := d.checkpoint(mgr); err != nil {
		return err
	}

	if len(failedStreams) > 0 {
		return apperrors.New(apperrors.ErrorTypeStreamFailure,
			fmt.Sprintf("streams failed: %v", failedStreams)).WithDetail("streams", failedStreams)
	}
	return nil
}

// runStream drains one stream end to end, returning the number of
// records emitted and the first non-tolerated error.
func (d *Driver) runStream(ctx context.Context, s stream.Stream, mode stream.SyncMode, mgr *state.Manager) (int64, error) {
	if err := s.OnBeforeRead(ctx); err != nil {
		return 0, err
	}
	defer s.OnAfterRead(ctx)

	slices, err := s.StreamSlices(ctx, mode, mgr)
	if err != nil {
		return 0, err
	}

	var count int64
	throughput := metrics.NewThroughputTracker(s.Name())
	emit := func(rec map[string]interface{}) error {
		if err := d.writer.Record(s.Name(), rec); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "syncdriver: write RECORD")
		}
		count++
		metrics.RecordsProcessed.WithLabelValues(s.Name(), "success").Inc()
		throughput.Increment(1)

		if !d.cfg.Backfill {
			current, _ := mgr.Get(s.Name())
			mgr.Advance(s.Name(), s.UpdatedCutoff(current.Cutoff, rec))
		}

		interval := s.CheckpointInterval()
		if interval < 0 {
			interval = d.cfg.Performance.DefaultCheckpointInterval
		}
		if interval > 0 && count%int64(interval) == 0 {
			throughput.GetAndReset()
			return d.checkpoint(mgr)
		}
		return nil
	}
	defer throughput.GetAndReset()

	sharded := len(slices) > 0 && slices[0].Sharded

	if !sharded {
		sliceFailures := 0
		for _, sl := range slices {
			if err := s.ReadRecords(ctx, mode, sl, mgr, emit); err != nil {
				if apperrors.IsCancelled(err) {
					return count, err
				}
				if apperrors.IsType(err, apperrors.ErrorTypeNonFatal) {
					// Advisory: the stream already emitted everything it
					// could and is only flagging a skipped sub-fetch.
					// Surface it as-is rather than spending the slice
					// failure budget on it (spec.md §7).
					return count, err
				}
				if config.IsUnlimited(d.cfg.MaxSliceFailures) || sliceFailures < d.cfg.MaxSliceFailures {
					sliceFailures++
					logger.WithContext(ctx).Error("syncdriver: slice failed, continuing",
						zap.String("stream", s.Name()), zap.Error(err))
					continue
				}
				return count, apperrors.Wrap(err, apperrors.ErrorTypeSliceFailure, "syncdriver: slice failure budget exceeded")
			}
		}
		return count, nil
	}

	parallel, dedup := 10, true
	window := defaultDedupWindow
	if sh, ok := s.(stream.Sharder); ok {
		parallel, dedup = sh.ShardPolicy()
		window = sh.DedupWindow()
	}

	ranges := make([]shard.Range, len(slices))
	for i, sl := range slices {
		ranges[i] = sl.Range
	}

	var produce orchestrator.ShardProducer = func(ctx context.Context, r shard.Range) spool.Generator {
		return func(ctx context.Context, emitToSpool func(map[string]interface{}) error) error {
			return s.ReadRecords(ctx, mode, stream.Slice{Range: r, Sharded: true}, mgr, emitToSpool)
		}
	}

	opts := orchestrator.Options{
		Parallel:     parallel,
		SpoolDir:     d.spoolDir,
		Dedup:        dedup,
		PrimaryKey:   s.PrimaryKey(),
		CursorField:  s.CursorField(),
		DedupWindow:  window,
		StreamName:   s.Name(),
		FlushBytes:   d.cfg.Performance.SpoolFlushBytes,
		PollInterval: d.cfg.Performance.SpoolPollInterval,
	}

	err = orchestrator.Run(ctx, ranges, produce, opts, emit)
	return count, err
}

func (d *Driver) checkpoint(mgr *state.Manager) error {
	if d.cfg.Backfill {
		return nil
	}
	if err := d.writer.State(mgr.Snapshot(), d.cfg.CompressState); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "syncdriver: write STATE")
	}
	metrics.CheckpointsEmitted.WithLabelValues("run").Inc()
	return nil
}

func (d *Driver) emitErrorState(mgr *state.Manager) {
	if d.cfg.Backfill {
		return
	}
	_ = d.writer.State(mgr.Snapshot(), d.cfg.CompressState)
}

// resolve builds the dependency DAG over the catalog's requested streams
// and returns them in topological order (spec.md §4.8 steps 1-2).
func (d *Driver) resolve(catalog []CatalogEntry) ([]CatalogEntry, error) {
	byName := make(map[string]CatalogEntry, len(catalog))
	for _, e := range catalog {
		if _, ok := d.streams[e.Name]; !ok {
			return nil, apperrors.New(apperrors.ErrorTypeClientFault, "syncdriver: unknown stream "+e.Name)
		}
		byName[e.Name] = e
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	visitState := make(map[string]int, len(byName))
	var ordered []CatalogEntry

	var visit func(name string) error
	visit = func(name string) error {
		switch visitState[name] {
		case visited:
			return nil
		case visiting:
			return apperrors.New(apperrors.ErrorTypeClientFault, "syncdriver: dependency cycle at "+name)
		}
		visitState[name] = visiting
		for _, dep := range d.streams[name].Dependencies() {
			if _, requested := byName[dep]; !requested {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visitState[name] = visited
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, e := range catalog {
		if err := visit(e.Name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

const defaultDedupWindow = 2 * time.Minute
