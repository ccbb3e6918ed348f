// Package sweep runs a periodic shortage check beside the ledger.
// The transactional shortage alert fires only when a debit lands
// exactly on the threshold; the sweeper catches ledgers that entered
// the shortage band some other way, such as a collapsed migration or
// an unguarded refund sequence.
package sweep

import (
	"context"
	"time"

	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

// Sweeper periodically alerts the administrator while the confirmed
// total sits at or below the threshold.
type Sweeper struct {
	store     ledger.Store
	threshold int64
	interval  time.Duration
	logger    *zap.Logger

	lastNotified *int64
}

// New wires a Sweeper. A non-positive interval defaults to one minute.
func New(store ledger.Store, threshold int64, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:     store,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on every tick until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweeper.Sweep(ctx); err != nil {
				sweeper.logger.Warn("shortage sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one shortage check. A repeat alert for an unchanged
// total is suppressed so a stuck ledger does not flood the inbox.
func (sweeper *Sweeper) Sweep(ctx context.Context) error {
	return sweeper.store.WithTx(ctx, func(ctx context.Context, transactionStore ledger.Store) error {
		total, err := transactionStore.ConfirmedTotal(ctx)
		if err != nil {
			return err
		}
		if total > sweeper.threshold {
			sweeper.lastNotified = nil
			return nil
		}
		if sweeper.lastNotified != nil && *sweeper.lastNotified == total {
			return nil
		}
		admin, found, err := transactionStore.FindAdmin(ctx)
		if err != nil {
			return err
		}
		if !found {
			sweeper.logger.Warn("credit shortage with no administrator to notify", zap.Int64("total", total))
			return nil
		}
		if err := transactionStore.AppendNotification(ctx, admin.ID, ledger.NotificationCreditShortage, total); err != nil {
			return err
		}
		sweeper.lastNotified = &total
		sweeper.logger.Info("credit shortage alert", zap.Int64("total", total), zap.Int64("admin_id", admin.ID))
		return nil
	})
}
