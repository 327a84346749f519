package stream

import (
	"context"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
)

// Metrics: no cursor; full dump each run (spec.md §4.7).
type Metrics struct {
	deps Deps
}

func NewMetrics(deps Deps) *Metrics { return &Metrics{deps: deps} }

func (s *Metrics) Name() string       { return "metrics" }
func (s *Metrics) PrimaryKey() string { return "id" }
func (s *Metrics) CursorField() string { return "" }

func (s *Metrics) JSONSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"id":         map[string]string{"type": "string"},
			"attributes": map[string]string{"type": "object"},
		},
		Required: []string{"id"},
	}
}

func (s *Metrics) CheckpointInterval() int   { return 0 }
func (s *Metrics) Dependencies() []string    { return nil }
func (s *Metrics) SupportsIncremental() bool { return false }

func (s *Metrics) OnBeforeRead(ctx context.Context) error { return nil }
func (s *Metrics) OnAfterRead(ctx context.Context) error  { return nil }

// UpdatedCutoff is a no-op: Metrics has no cursor field.
func (s *Metrics) UpdatedCutoff(current int64, rec map[string]interface{}) int64 { return current }

func (s *Metrics) StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error) {
	return []Slice{{Range: shard.Range{Last: true}}}, nil
}

func (s *Metrics) ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, klaviyoapi.EndpointMetrics, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: klaviyoapi.EndpointMetrics,
			Path:        "/metrics",
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
