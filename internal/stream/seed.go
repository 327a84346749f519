package stream

import (
	"context"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/record"
	"github.com/data-connectors/source-klaviyo/internal/state"
)

// seedFunc produces the from-scratch initial cutoff for a stream that has
// no prior watermark (spec.md §4.7 "Initial cutoff").
type seedFunc func(ctx context.Context) (time.Time, error)

// epoch2000 is Campaigns/Flows/Templates' from-scratch seed instant
// before the 1-hour rewind spec.md §4.7 calls for.
var epoch2000 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// seedFixedRewind seeds Campaigns/Flows/Templates from 2000-01-01 minus
// one hour (spec.md §4.7).
func seedFixedRewind(_ context.Context) (time.Time, error) {
	return epoch2000.Add(-time.Hour), nil
}

// seedEarliestRecordPeek seeds Events/Profiles by issuing a single
// ascending-sorted, one-record page fetch and taking that record's
// cursor value (spec.md §4.7 "one-page peek sorted ascending"). An empty
// first page seeds from the Unix epoch.
func seedEarliestRecordPeek(deps Deps, endpointKey, path, cursorField string) seedFunc {
	return func(ctx context.Context) (time.Time, error) {
		page, err := deps.Client.Fetch(ctx, klaviyoapi.Request{
			EndpointKey: endpointKey,
			Path:        path,
			Query: map[string]string{
				"sort":      cursorField,
				"page[size]": "1",
			},
		})
		if err != nil {
			return time.Time{}, err
		}
		if len(page.Data) == 0 {
			return time.Unix(0, 0).UTC(), nil
		}
		t, ok := record.New("", page.Data[0]).Cursor(cursorField)
		if !ok {
			return time.Unix(0, 0).UTC(), nil
		}
		return t, nil
	}
}

// seedOrResume returns the lower bound a stream should shard/filter from:
// the resumed watermark (minus resumeRewind, Templates' server-clock-skew
// allowance) when one exists and neither full refresh nor backfill is in
// effect, otherwise the stream's from-scratch seed. The seed is recorded
// into mgr so a zero-record run still has a watermark to checkpoint (S1).
func seedOrResume(ctx context.Context, deps Deps, mgr *state.Manager, name string, mode SyncMode, resumeRewind time.Duration, seed seedFunc) (time.Time, error) {
	if !deps.Config.Backfill && mode != SyncModeFullRefresh {
		if w, ok := mgr.Get(name); ok {
			return time.UnixMilli(w.Cutoff).Add(-resumeRewind), nil
		}
	}
	t, err := seed(ctx)
	if err != nil {
		return time.Time{}, err
	}
	mgr.Set(name, t.UnixMilli())
	return t, nil
}
