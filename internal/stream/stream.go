// Package stream defines the Stream interface (spec.md §4.7) and the
// concrete Klaviyo stream implementations.
package stream

import (
	"context"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/record"
	"github.com/data-connectors/source-klaviyo/internal/shard"
	"github.com/data-connectors/source-klaviyo/internal/state"
	"github.com/data-connectors/source-klaviyo/pkg/config"
)

// SyncMode selects between a one-shot full dump and an
// incremental/cursor-driven read (spec.md §4.7).
type SyncMode string

const (
	SyncModeFullRefresh SyncMode = "full_refresh"
	SyncModeIncremental  SyncMode = "incremental"
)

// Slice is one unit of work streamSlices yields: either the singleton
// undefined slice (whole-stream, unsharded streams) or a time range
// (spec.md §4.4, §4.7).
type Slice struct {
	// Range is set for sharded streams. In an unsharded stream's
	// singleton slice, Range.Last is true and Range.From may carry the
	// read's lower bound.
	Range shard.Range
	// Sharded reports whether Range is meaningful.
	Sharded bool
}

// JSONSchema is a minimal JSON-Schema-shaped document the `discover`
// command reports for a stream (spec.md §6).
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// Stream is the per-entity contract every Klaviyo stream implements
// (spec.md §4.7).
type Stream interface {
	Name() string
	PrimaryKey() string
	// CursorField returns the record field used as the watermark, or ""
	// if the stream only supports full refresh.
	CursorField() string
	JSONSchema() JSONSchema
	// CheckpointInterval is the record count between STATE emissions; 0
	// means "only at shard boundaries".
	CheckpointInterval() int
	// Dependencies names streams that must complete before this one
	// starts (spec.md §4.8 step 2).
	Dependencies() []string
	SupportsIncremental() bool

	// StreamSlices returns the lazy sequence of slices to drain for
	// this sync. For unsharded streams this is a single slice with
	// Sharded false.
	StreamSlices(ctx context.Context, mode SyncMode, mgr *state.Manager) ([]Slice, error)

	// ReadRecords drains slice, invoking emit for every normalized
	// record it produces, in ascending cursor order within the slice.
	ReadRecords(ctx context.Context, mode SyncMode, slice Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error

	// OnBeforeRead/OnAfterRead are idempotent per-stream lifecycle
	// hooks (spec.md §4.7).
	OnBeforeRead(ctx context.Context) error
	OnAfterRead(ctx context.Context) error

	// UpdatedCutoff returns max(current, epoch_ms(record[cursorField]))
	// for a just-emitted record (spec.md §4.7 getUpdatedState).
	UpdatedCutoff(current int64, rec map[string]interface{}) int64
}

// Deps bundles the collaborators every concrete stream needs, handed
// in by the registry/factory rather than looked up globally (spec.md
// §9's dependency-injected collaborator note).
type Deps struct {
	Client *klaviyoapi.Client
	Config *config.Config
}

// shardedDefaults carries the per-stream sharding policy observed in
// spec.md §4.7's "Concrete stream policies" table.
type shardedDefaults struct {
	step         time.Duration
	startOverlap time.Duration
	stepOverlap  time.Duration
	parallel     int
	dedupWindow  time.Duration
}

var hourlyEventsLike = shardedDefaults{
	step:         time.Hour,
	startOverlap: time.Minute,
	stepOverlap:  5 * time.Second,
	dedupWindow:  2 * time.Minute,
}

// effectiveShardDefaults applies cfg.Shard's overlap/dedup overrides
// onto base; a zero field in cfg.Shard keeps the stream's own default
// (spec.md §4.4).
func effectiveShardDefaults(cfg *config.Config, base shardedDefaults) shardedDefaults {
	eff := base
	if cfg.Shard.StartOverlap > 0 {
		eff.startOverlap = cfg.Shard.StartOverlap
	}
	if cfg.Shard.StepOverlap > 0 {
		eff.stepOverlap = cfg.Shard.StepOverlap
	}
	if cfg.Shard.DedupWindow > 0 {
		eff.dedupWindow = cfg.Shard.DedupWindow
	}
	return eff
}

// cutoffFromField converts a record's cursor field to epoch
// milliseconds and returns max(current, that value); current is
// returned unchanged if the field is absent or unparsable (spec.md
// §4.7 getUpdatedState).
func cutoffFromField(current int64, rec map[string]interface{}, field string) int64 {
	if field == "" {
		return current
	}
	t, ok := record.New("", rec).Cursor(field)
	if !ok {
		return current
	}
	if ms := t.UnixMilli(); ms > current {
		return ms
	}
	return current
}
