// Package shard implements the Shard Planner (spec.md §4.4): slices an
// unbounded time window into overlapping half-open ranges.
package shard

import "time"

// Range is a half-open time range [From, To) a single producer drains.
// StartOverlap widens the range's lower bound only for the first shard
// in a run (to absorb imprecision at the watermark itself); StepOverlap
// widens every shard's upper bound (to absorb server-side imprecision
// near the shard boundary, spec.md §4.4).
type Range struct {
	From time.Time
	To   time.Time

	// WidenedFrom/WidenedTo are From/To after applying the overlap; the
	// orchestrator dedups against records from WidenedFrom..From and
	// To..WidenedTo since those fall in a neighboring shard's core range.
	WidenedFrom time.Time
	WidenedTo   time.Time

	// Last reports whether this is the final shard in the plan (no
	// successor exists to dedup against, spec.md §4.6 edge cases).
	Last bool
}

// Plan generates successive shards covering [from, to) in steps of
// step, widened by startOverlap (first shard only) and stepOverlap
// (every shard). to defaults to time.Now() when zero.
func Plan(from time.Time, to time.Time, step time.Duration, startOverlap, stepOverlap time.Duration) []Range {
	if to.IsZero() {
		to = time.Now()
	}
	if step <= 0 || !from.Before(to) {
		return nil
	}

	var ranges []Range
	cursor := from
	first := true
	for cursor.Before(to) {
		end := cursor.Add(step)
		last := !end.Before(to)

		overlap := stepOverlap
		if first {
			overlap = startOverlap
		}

		r := Range{
			From:        cursor,
			To:          end,
			WidenedFrom: cursor.Add(-overlap),
			WidenedTo:   end.Add(stepOverlap),
			Last:        last,
		}
		ranges = append(ranges, r)

		cursor = end
		first = false
	}
	if len(ranges) > 0 {
		ranges[len(ranges)-1].Last = true
	}
	return ranges
}
