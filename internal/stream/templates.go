package stream

import (
	"context"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
)

// templateResumeRewind tolerates server clock skew by re-reading the
// hour preceding the last watermark on every resume (spec.md §4.7).
const templateResumeRewind = time.Hour

// Templates: single linear pass, 1-hour watermark rewind on resume
// (spec.md §4.7).
type Templates struct {
	deps Deps
}

func NewTemplates(deps Deps) *Templates { return &Templates{deps: deps} }

func (s *Templates) Name() string       { return "templates" }
func (s *Templates) PrimaryKey() string { return "id" }

func (s *Templates) CursorField() string {
	if s.deps.Config.Initialize {
		return "created"
	}
	return "updated"
}

func (s *Templates) JSONSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"id":         map[string]string{"type": "string"},
			"updated":    map[string]string{"type": "string", "format": "date-time"},
			"attributes": map[string]string{"type": "object"},
		},
		Required: []string{"id"},
	}
}

func (s *Templates) CheckpointInterval() int   { return 0 }
func (s *Templates) Dependencies() []string    { return nil }
func (s *Templates) SupportsIncremental() bool { return true }

func (s *Templates) OnBeforeRead(ctx context.Context) error { return nil }
func (s *Templates) OnAfterRead(ctx context.Context) error  { return nil }

func (s *Templates) UpdatedCutoff(current int64, rec map[string]interface{}) int64 {
	return cutoffFromField(current, rec, s.CursorField())
}

func (s *Templates) StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error) {
	from, err := seedOrResume(ctx, s.deps, mgr, s.Name(), mode, templateResumeRewind, seedFixedRewind)
	if err != nil {
		return nil, err
	}
	return []Slice{{Range: shard.Range{From: from, Last: true}}}, nil
}

func (s *Templates) ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	filter := klaviyoapi.FilterGreaterOrEqual(s.CursorField(), slice.Range.From)
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, klaviyoapi.EndpointTemplates, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: klaviyoapi.EndpointTemplates,
			Path:        "/templates",
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
