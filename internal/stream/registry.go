package stream

import "time"

// All constructs every stream this connector provides, keyed by name
// (spec.md §4.8 step 1 "construct all stream instances").
func All(deps Deps) map[string]Stream {
	return map[string]Stream{
		"events":    NewEvents(deps),
		"profiles":  NewProfiles(deps),
		"campaigns": NewCampaigns(deps),
		"flows":     NewFlows(deps),
		"templates": NewTemplates(deps),
		"metrics":   NewMetrics(deps),
	}
}

// Sharder is implemented by streams whose StreamSlices can return more
// than one slice, exposing the shard-parallelism knobs the sync driver
// hands to the orchestrator (spec.md §4.7's per-stream policy table).
// Streams that only ever produce the singleton slice need not implement
// it; the driver falls back to sane single-slice defaults.
type Sharder interface {
	ShardPolicy() (parallel int, dedup bool)
	DedupWindow() time.Duration
}
