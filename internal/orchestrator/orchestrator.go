// Package orchestrator implements the Parallel-Sequential Orchestrator
// (spec.md §4.6): runs N shards concurrently, each through its own
// Spool, but yields records strictly in shard-generation order, with
// cross-shard primary-key dedup over the overlap window.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/record"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/spool"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	"github.com/data-connectors/source-klaviyo/pkg/metrics"
)

// ShardProducer generates the spool.Generator for one shard. It is
// invoked once per shard, concurrently across shards, bounded by
// Options.Parallel.
type ShardProducer func(ctx context.Context, r shard.Range) spool.Generator

// Options configures a single orchestrator Run (spec.md §4.6, §4.7's
// per-stream policies).
type Options struct {
	// Parallel bounds concurrent shard producers (spec.md §4.6 step 1).
	Parallel int
	// SpoolDir is the process-owned temp directory spools are created
	// under.
	SpoolDir string
	// Dedup enables cross-shard primary-key dedup. Ignored (forced
	// false) when PrimaryKey is empty (spec.md §4.6 edge cases).
	Dedup bool
	// PrimaryKey and CursorField name the record fields used for dedup
	// bookkeeping.
	PrimaryKey  string
	CursorField string
	// DedupWindow is how far before the next shard's start a record's
	// cursor must fall to be retained in the current shard's key set
	// (spec.md §4.6 step 3, "−2 minutes").
	DedupWindow time.Duration
	// StreamName labels the dedup-skip metric; optional.
	StreamName string
	// FlushBytes and PollInterval override each shard's Spool buffered-
	// writer flush threshold and fallback poll period (performance.
	// spool_flush_bytes, performance.spool_poll_interval); zero keeps
	// the Spool package defaults.
	FlushBytes   int
	PollInterval time.Duration
}

// Run drains ranges in order, calling emit for every surviving record.
// It returns the first non-cancellation producer error, after
// signalling every in-flight producer and spool to abandon (spec.md
// §4.6 step 5).
func Run(ctx context.Context, ranges []shard.Range, produce ShardProducer, opts Options, emit func(record map[string]interface{}) error) error {
	if len(ranges) == 0 {
		return nil
	}
	dedup := opts.Dedup && opts.PrimaryKey != ""

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	spools := make([]*spool.Spool, len(ranges))
	sem := make(chan struct{}, max(opts.Parallel, 1))
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	recordErr := func(err error) {
		if err == nil || apperrors.IsCancelled(err) {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
			abort()
		}
		errMu.Unlock()
	}

	var watchWg sync.WaitGroup

	for i, r := range ranges {
		sp := spool.NewWithOptions(opts.SpoolDir, opts.StreamName, opts.FlushBytes, opts.PollInterval)
		spools[i] = sp

		wg.Add(1)
		go func(i int, r shard.Range, sp *spool.Spool) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			defer func() { <-sem }()

			gen := produce(runCtx, r)
			sp.Start(runCtx, gen)
		}(i, r, sp)

		// Watch this shard's producer independent of drain order: the
		// sequential loop below only reaches spools[i]'s WriteErr once it
		// has drained every earlier shard, which could be long after this
		// producer actually failed (spec.md §4.6 step 5 requires the
		// abort to happen as soon as any producer fails).
		watchWg.Add(1)
		go func(sp *spool.Spool) {
			defer watchWg.Done()
			select {
			case <-sp.DoneCh():
				recordErr(sp.WriteErr())
			case <-runCtx.Done():
			}
		}(sp)
	}

	var lastIDs map[string]struct{}

	for i, r := range ranges {
		sp := spools[i]
		currentIDs := map[string]struct{}{}
		var nextFrom time.Time
		if i+1 < len(ranges) {
			nextFrom = ranges[i+1].From
		}

		drainErr := sp.Process(runCtx, func(rec map[string]interface{}) error {
			rr := record.New("", rec)

			if dedup {
				if pk, ok := rr.PrimaryKey(opts.PrimaryKey); ok {
					if lastIDs != nil {
						if _, seen := lastIDs[pk]; seen {
							if opts.StreamName != "" {
								metrics.DedupSkipped.WithLabelValues(opts.StreamName).Inc()
							}
							return nil
						}
					}
					if !r.Last && withinDedupWindow(rr, opts, nextFrom) {
						currentIDs[pk] = struct{}{}
					}
				}
			}

			return emit(rec)
		})

		sp.Cleanup()

		if drainErr != nil {
			recordErr(drainErr)
			wg.Wait()
			watchWg.Wait()
			errMu.Lock()
			err := firstErr
			errMu.Unlock()
			if err == nil {
				err = drainErr
			}
			return err
		}

		if dedup {
			lastIDs = currentIDs
		}
	}

	wg.Wait()
	watchWg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

func withinDedupWindow(rr record.Record, opts Options, nextFrom time.Time) bool {
	if opts.CursorField == "" || nextFrom.IsZero() {
		// No cursor to judge proximity by: keep the key, it's cheap and
		// the alternative (never deduping) is worse.
		return true
	}
	cursor, ok := rr.Cursor(opts.CursorField)
	if !ok {
		return true
	}
	threshold := nextFrom.Add(-opts.DedupWindow)
	return cursor.After(threshold)
}
