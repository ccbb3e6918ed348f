package ledger

import "sort"

// RunningBalance computes the per-entry prefix sum over confirmed
// entries, ordered by createdAt ascending with id as the tiebreak.
// The tiebreak keeps balances reproducible when two entries share a
// timestamp. Unconfirmed entries are dropped from the projection.
func RunningBalance(entries []Entry) []BalanceRow {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	rows := make([]BalanceRow, 0, len(ordered))
	var balance int64
	for _, entry := range ordered {
		if !entry.Confirmed {
			continue
		}
		balance += entry.Quantity
		rows = append(rows, BalanceRow{Entry: entry, Balance: balance})
	}
	return rows
}

// TotalOf evaluates the projection at the newest confirmed entry.
// Equivalent to summing the confirmed quantities.
func TotalOf(entries []Entry) int64 {
	var total int64
	for _, entry := range entries {
		if entry.Confirmed {
			total += entry.Quantity
		}
	}
	return total
}
