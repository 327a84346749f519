package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	"github.com/data-connectors/source-klaviyo/pkg/logger"
)

// Campaigns: single linear pass; for each record, fan-out two bounded
// sub-requests (messages, tags), joined per record before emission
// (spec.md §4.7).
type Campaigns struct {
	deps Deps
}

func NewCampaigns(deps Deps) *Campaigns { return &Campaigns{deps: deps} }

func (s *Campaigns) Name() string       { return "campaigns" }
func (s *Campaigns) PrimaryKey() string { return "id" }

// CursorField is fixed to updated_at unless CampaignsCursorInitializeDriven
// selects the Initialize-driven policy (spec.md §9 Open Question).
func (s *Campaigns) CursorField() string {
	if s.deps.Config.CampaignsCursorInitializeDriven {
		if s.deps.Config.Initialize {
			return "created_at"
		}
		return "updated_at"
	}
	return "updated_at"
}

func (s *Campaigns) JSONSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"id":         map[string]string{"type": "string"},
			"updated_at": map[string]string{"type": "string", "format": "date-time"},
			"attributes": map[string]string{"type": "object"},
			"messages":   map[string]string{"type": "array"},
			"tags":       map[string]string{"type": "array"},
		},
		Required: []string{"id"},
	}
}

func (s *Campaigns) CheckpointInterval() int   { return 0 }
func (s *Campaigns) Dependencies() []string    { return nil }
func (s *Campaigns) SupportsIncremental() bool { return true }

func (s *Campaigns) OnBeforeRead(ctx context.Context) error { return nil }
func (s *Campaigns) OnAfterRead(ctx context.Context) error  { return nil }

func (s *Campaigns) UpdatedCutoff(current int64, rec map[string]interface{}) int64 {
	return cutoffFromField(current, rec, s.CursorField())
}

func (s *Campaigns) StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error) {
	from, err := seedOrResume(ctx, s.deps, mgr, s.Name(), mode, 0, seedFixedRewind)
	if err != nil {
		return nil, err
	}
	return []Slice{{Range: shard.Range{From: from, Last: true}}}, nil
}

func (s *Campaigns) ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	filter := klaviyoapi.FilterGreaterOrEqual(s.CursorField(), slice.Range.From)
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, klaviyoapi.EndpointCampaigns, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: klaviyoapi.EndpointCampaigns,
			Path:        "/campaigns",
			Query: map[string]string{
				"filter": filter,
				"sort":   s.CursorField(),
			},
		})
	}
	var skipped int
	paginateErr := klaviyoapi.Paginate(ctx, fetch, func(page []map[string]interface{}) error {
		for _, rec := range page {
			if err := s.enrich(ctx, rec); err != nil {
				if !apperrors.IsType(err, apperrors.ErrorTypeNonFatal) {
					return err
				}
				skipped++
				logger.WithContext(ctx).Warn("campaigns: enrichment skipped for one record",
					zap.Any("campaign_id", rec["id"]), zap.Error(err))
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if paginateErr != nil {
		return paginateErr
	}
	if skipped > 0 {
		return apperrors.New(apperrors.ErrorTypeNonFatal, "campaigns: enrichment failed for some records").
			WithDetail("skipped", skipped)
	}
	return nil
}

// enrich fans out the two bounded sub-requests every campaign record
// carries, both still composed through the shared rate limiter. A
// failed sub-request is scoped to this one record: it is reported as
// ErrorTypeNonFatal so the caller can emit the record anyway rather
// than aborting the whole campaigns slice over one record's messages
// or tags.
func (s *Campaigns) enrich(ctx context.Context, rec map[string]interface{}) error {
	id, _ := rec["id"].(string)
	if id == "" {
		return nil
	}

	msgs, err := s.fetchRelated(ctx, klaviyoapi.EndpointCampaignMsgs, "/campaign-messages", id)
	if err != nil {
		return nonFatalUnlessCancelled(err, "campaigns: fetch campaign-messages failed", id)
	}
	rec["messages"] = msgs

	tags, err := s.fetchRelated(ctx, klaviyoapi.EndpointTags, "/tags", id)
	if err != nil {
		return nonFatalUnlessCancelled(err, "campaigns: fetch tags failed", id)
	}
	rec["tags"] = tags
	return nil
}

// nonFatalUnlessCancelled demotes a sub-request's error to
// ErrorTypeNonFatal, preserving cancellation so a cooperative shutdown
// is never mistaken for a skippable enrichment failure.
func nonFatalUnlessCancelled(err error, msg, recordID string) error {
	if apperrors.IsCancelled(err) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeNonFatal, msg).WithDetail("id", recordID)
}

func (s *Campaigns) fetchRelated(ctx context.Context, endpointKey, path, campaignID string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, endpointKey, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: endpointKey,
			Path:        path,
			Query: map[string]string{
				"filter": klaviyoapi.JoinFilters(equalsFilter("campaign_id", campaignID)),
			},
		})
	}
	err := klaviyoapi.Paginate(ctx, fetch, func(page []map[string]interface{}) error {
		out = append(out, page...)
		return nil
	})
	return out, err
}

func equalsFilter(field, value string) string {
	return "equals(" + field + ",\"" + value + "\")"
}
