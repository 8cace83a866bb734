package stats

import "sort"

const (
	// OthersLabel collects every label ranked below the top N.
	OthersLabel = "Others"
	// NoneLabel stands in for rows with no related value.
	NoneLabel = "None"
)

// RankBreakdown turns raw grouped counts into a ranked breakdown.
// Counts <= 0 are dropped and nil labels become "None". Entries are sorted
// by count descending, then label ascending. When top > 0 only the first
// top entries are kept and the remainder is summed into an "Others" entry,
// which is omitted when the remainder is zero. Duplicate labels (for
// example two NULL groups) are merged before ranking.
func RankBreakdown(dimension string, counts []LabelCount, top int) Breakdown {
	merged := make(map[string]int64, len(counts))
	for _, c := range counts {
		if c.Count <= 0 {
			continue
		}
		label := NoneLabel
		if c.Label != nil {
			label = *c.Label
		}
		merged[label] += c.Count
	}

	entries := make([]Entry, 0, len(merged))
	var total int64
	for label, count := range merged {
		entries = append(entries, Entry{Label: label, Count: count})
		total += count
	}
	sortEntries(entries)

	if top > 0 && len(entries) > top {
		var rest int64
		for _, e := range entries[top:] {
			rest += e.Count
		}
		entries = entries[:top]
		if rest > 0 {
			entries = append(entries, Entry{Label: OthersLabel, Count: rest})
		}
	}

	return Breakdown{Dimension: dimension, Total: total, Entries: entries}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
}

// TruncateLeaderboard keeps the first top items of an already ranked list
// and drops the rest. There is no "Others" bucket. top <= 0 keeps everything.
func TruncateLeaderboard[T any](items []T, top int) []T {
	if top <= 0 || len(items) <= top {
		return items
	}
	return items[:top]
}
