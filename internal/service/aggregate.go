package service

import (
	"slices"
	"time"

	"feedpulse/internal/item"

	"github.com/samber/lo"
)

// Aggregate merges topic results into the snapshot body.
//
// Items are deduplicated by link: topics of every occurrence are unioned,
// while title, source and date come from the most recent occurrence (the
// first one wins ties). The result is sorted newest first, stable for equal
// dates, and anything older than now-window is dropped. Failures are passed
// through in order.
func Aggregate(results []TopicResult, now time.Time, window time.Duration) ([]item.Item, []item.Failure) {
	var (
		merged   []item.Item
		byLink   = make(map[string]int)
		failures = make([]item.Failure, 0)
	)

	for _, res := range results {
		failures = append(failures, res.Failures...)
		for _, it := range res.Items {
			idx, seen := byLink[it.Link]
			if !seen {
				it.Topics = slices.Clone(it.Topics)
				byLink[it.Link] = len(merged)
				merged = append(merged, it)
				continue
			}

			existing := &merged[idx]
			existing.Topics = lo.Union(existing.Topics, it.Topics)
			if publishedAt(it).After(publishedAt(*existing)) {
				existing.Published = it.Published
				existing.DateISO = it.DateISO
				existing.Title = it.Title
				existing.Source = it.Source
			}
		}
	}

	slices.SortStableFunc(merged, func(a, b item.Item) int {
		return publishedAt(b).Compare(publishedAt(a))
	})

	cutoff := now.Add(-window)
	items := lo.Filter(merged, func(it item.Item, _ int) bool {
		return !publishedAt(it).Before(cutoff)
	})
	return items, failures
}

// publishedAt is the item date at the precision it is rendered with.
func publishedAt(it item.Item) time.Time {
	return it.Published.Truncate(time.Millisecond)
}
