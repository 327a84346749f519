package stream

import (
	"context"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
)

// Events is the highest-volume stream: hourly shards, dedup on, 20-way
// parallel (spec.md §4.7).
type Events struct {
	deps Deps
}

func NewEvents(deps Deps) *Events { return &Events{deps: deps} }

func (s *Events) Name() string       { return "events" }
func (s *Events) PrimaryKey() string { return "id" }

// CursorField is fixed to "datetime" unless EventsCursorInitializeDriven
// selects the dual updated/created policy (spec.md §9 Open Question).
func (s *Events) CursorField() string {
	if s.deps.Config.EventsCursorInitializeDriven {
		if s.deps.Config.Initialize {
			return "created"
		}
		return "updated"
	}
	return "datetime"
}

func (s *Events) JSONSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"id":         map[string]string{"type": "string"},
			"datetime":   map[string]string{"type": "string", "format": "date-time"},
			"attributes": map[string]string{"type": "object"},
		},
		Required: []string{"id", "datetime"},
	}
}

func (s *Events) CheckpointInterval() int   { return 100000 }
func (s *Events) Dependencies() []string    { return nil }
func (s *Events) SupportsIncremental() bool { return true }

func (s *Events) OnBeforeRead(ctx context.Context) error { return nil }
func (s *Events) OnAfterRead(ctx context.Context) error  { return nil }

func (s *Events) UpdatedCutoff(current int64, rec map[string]interface{}) int64 {
	return cutoffFromField(current, rec, s.CursorField())
}

func (s *Events) StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error) {
	from, err := seedOrResume(ctx, s.deps, mgr, s.Name(), mode, 0,
		seedEarliestRecordPeek(s.deps, klaviyoapi.EndpointEvents, "/events", s.CursorField()))
	if err != nil {
		return nil, err
	}

	cfg := effectiveShardDefaults(s.deps.Config, hourlyEventsLike)
	ranges := shard.Plan(from, time.Time{}, cfg.step, cfg.startOverlap, cfg.stepOverlap)
	slices := make([]Slice, len(ranges))
	for i, r := range ranges {
		slices[i] = Slice{Range: r, Sharded: true}
	}
	return slices, nil
}

func (s *Events) ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	filter := klaviyoapi.JoinFilters(
		klaviyoapi.FilterGreaterOrEqual(s.CursorField(), slice.Range.WidenedFrom),
		klaviyoapi.FilterLessThan(s.CursorField(), slice.Range.WidenedTo),
	)
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, klaviyoapi.EndpointEvents, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: klaviyoapi.EndpointEvents,
			Path:        "/events",
			Query: map[string]string{
				"filter": filter,
				"sort":   s.CursorField(),
			},
		})
	}
	return klaviyoapi.Paginate(ctx, fetch, func(page []map[string]interface{}) error {
		for _, rec := range page {
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ShardPolicy exposes this stream's sharding knobs to the sync driver's
// orchestrator wiring.
func (s *Events) ShardPolicy() (parallel int, dedup bool) { return 20, true }

// DedupWindow is the overlap lookback used to bound cross-shard dedup
// memory (spec.md §4.6).
func (s *Events) DedupWindow() time.Duration {
	return effectiveShardDefaults(s.deps.Config, hourlyEventsLike).dedupWindow
}
