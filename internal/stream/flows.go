package stream

import (
	"context"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
)

// Flows: single linear pass; for each flow, fetch flow-actions and tags,
// then for each action fetch messages, then for each message fetch its
// template relationship; emits a composed record (spec.md §4.7).
type Flows struct {
	deps Deps
}

func NewFlows(deps Deps) *Flows { return &Flows{deps: deps} }

func (s *Flows) Name() string       { return "flows" }
func (s *Flows) PrimaryKey() string { return "id" }

func (s *Flows) CursorField() string {
	if s.deps.Config.Initialize {
		return "created"
	}
	return "updated"
}

func (s *Flows) JSONSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"id":         map[string]string{"type": "string"},
			"updated":    map[string]string{"type": "string", "format": "date-time"},
			"attributes": map[string]string{"type": "object"},
			"tags":       map[string]string{"type": "array"},
			"actions":    map[string]string{"type": "array"},
		},
		Required: []string{"id"},
	}
}

func (s *Flows) CheckpointInterval() int   { return 0 }
func (s *Flows) Dependencies() []string    { return nil }
func (s *Flows) SupportsIncremental() bool { return true }

func (s *Flows) OnBeforeRead(ctx context.Context) error { return nil }
func (s *Flows) OnAfterRead(ctx context.Context) error  { return nil }

func (s *Flows) UpdatedCutoff(current int64, rec map[string]interface{}) int64 {
	return cutoffFromField(current, rec, s.CursorField())
}

func (s *Flows) StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error) {
	from, err := seedOrResume(ctx, s.deps, mgr, s.Name(), mode, 0, seedFixedRewind)
	if err != nil {
		return nil, err
	}
	return []Slice{{Range: shard.Range{From: from, Last: true}}}, nil
}

func (s *Flows) ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	filter := klaviyoapi.FilterGreaterOrEqual(s.CursorField(), slice.Range.From)
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, klaviyoapi.EndpointFlows, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: klaviyoapi.EndpointFlows,
			Path:        "/flows",
			Query: map[string]string{
				"filter": filter,
				"sort":   s.CursorField(),
			},
		})
	}
	return klaviyoapi.Paginate(ctx, fetch, func(page []map[string]interface{}) error {
		for _, rec := range page {
			if err := s.enrich(ctx, rec); err != nil {
				return err
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Flows) enrich(ctx context.Context, flow map[string]interface{}) error {
	id, _ := flow["id"].(string)
	if id == "" {
		return nil
	}

	tags, err := s.fetchRelated(ctx, klaviyoapi.EndpointTags, "/tags", "flow_id", id)
	if err != nil {
		return err
	}
	flow["tags"] = tags

	actions, err := s.fetchRelated(ctx, klaviyoapi.EndpointFlowActions, "/flow-actions", "flow_id", id)
	if err != nil {
		return err
	}
	for _, action := range actions {
		actionID, _ := action["id"].(string)
		if actionID == "" {
			continue
		}
		messages, err := s.fetchRelated(ctx, klaviyoapi.EndpointFlowMessages, "/flow-messages", "flow_action_id", actionID)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			tmpl, err := s.fetchTemplate(ctx, msg)
			if err != nil {
				return err
			}
			if tmpl != nil {
				msg["template"] = tmpl
			}
		}
		action["messages"] = messages
	}
	flow["actions"] = actions
	return nil
}

func (s *Flows) fetchTemplate(ctx context.Context, msg map[string]interface{}) (map[string]interface{}, error) {
	templateID, ok := relationshipID(msg, "template")
	if !ok {
		return nil, nil
	}
	page, err := s.deps.Client.Fetch(ctx, klaviyoapi.Request{
		EndpointKey: klaviyoapi.EndpointTemplates,
		Path:        "/templates/" + templateID,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return page.Data[0], nil
}

func (s *Flows) fetchRelated(ctx context.Context, endpointKey, path, filterField, id string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	fetch := func(ctx context.Context, cursor string) (klaviyoapi.Page, error) {
		if cursor != "" {
			return s.deps.Client.FetchURL(ctx, endpointKey, cursor)
		}
		return s.deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: endpointKey,
			Path:        path,
			Query: map[string]string{
				"filter": klaviyoapi.JoinFilters(equalsFilter(filterField, id)),
			},
		})
	}
	err := klaviyoapi.Paginate(ctx, fetch, func(page []map[string]interface{}) error {
		out = append(out, page...)
		return nil
	})
	return out, err
}

// relationshipID reads a JSON:API `relationships.<name>.data.id` pointer
// out of a decoded record, the shape Klaviyo uses to link a message to
// its template.
func relationshipID(rec map[string]interface{}, name string) (string, bool) {
	rels, ok := rec["relationships"].(map[string]interface{})
	if !ok {
		return "", false
	}
	rel, ok := rels[name].(map[string]interface{})
	if !ok {
		return "", false
	}
	data, ok := rel["data"].(map[string]interface{})
	if !ok {
		return "", false
	}
	id, ok := data["id"].(string)
	return id, ok
}
