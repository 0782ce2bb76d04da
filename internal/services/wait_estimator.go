package services

import (
	"slices"

	"gate-admission/models"
)

// SortByJoinOrder orders entries by joinedAt, ties broken by id.
func SortByJoinOrder(entries []*models.GateQueueEntry) {
	slices.SortFunc(entries, func(a, b *models.GateQueueEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

// RankPending maps each pending entry id to its wait estimate: its 1-based
// rank among pending entries times unitMinutes. The current occupant is not
// counted.
func RankPending(pending []*models.GateQueueEntry, unitMinutes int) map[string]int {
	sorted := slices.Clone(pending)
	SortByJoinOrder(sorted)

	ranks := make(map[string]int, len(sorted))
	for i, entry := range sorted {
		ranks[entry.ID] = (i + 1) * unitMinutes
	}
	return ranks
}

// EstimatedWait is the wait given to a new entry that has ahead people in
// front of it.
func EstimatedWait(ahead, unitMinutes int) int {
	return ahead * unitMinutes
}

// PeopleAhead counts the active entries of the same gate that will be served
// before entry. A current occupant is always ahead of a pending entry.
func PeopleAhead(entry *models.GateQueueEntry, active []*models.GateQueueEntry) int {
	if entry.Status == models.GateEntryCurrent {
		return 0
	}

	ahead := 0
	for _, other := range active {
		if other.ID == entry.ID {
			continue
		}
		if other.Status == models.GateEntryCurrent || other.Before(entry) {
			ahead++
		}
	}
	return ahead
}
