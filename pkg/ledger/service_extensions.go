package ledger

import "context"

// TotalCredit returns the current spendable total. The value is
// recomputed from the log on every call, never cached in memory.
func (service *Service) TotalCredit(ctx context.Context) (int64, error) {
	return service.store.ConfirmedTotal(ctx)
}

// History scans confirmed entries with their running balances for
// audit display. The second return value is the unpaginated count.
func (service *Service) History(ctx context.Context, filter HistoryFilter) ([]BalanceRow, int64, error) {
	normalized, err := filter.Normalize()
	if err != nil {
		return nil, 0, err
	}
	return service.store.History(ctx, normalized)
}
