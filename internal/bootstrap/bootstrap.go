// Package bootstrap reconciles a freshly migrated ledger with a total
// observed in a legacy system. When the ledger already reproduces the
// observed total it is left untouched; otherwise the history collapses
// into one synthetic allocation so balances start from a known point.
package bootstrap

import (
	"context"

	"github.com/hutom-io/creditledger/internal/store/gormstore"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconcile verifies the confirmed ledger total against observedTotal
// and collapses the history when they disagree. A negative
// observedTotal disables reconciliation.
func Reconcile(ctx context.Context, db *gorm.DB, observedTotal int64, logger *zap.Logger) error {
	if observedTotal < 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		store := gormstore.New(transaction)
		if err := store.LockLedger(ctx); err != nil {
			return err
		}
		total, err := store.ConfirmedTotal(ctx)
		if err != nil {
			return err
		}
		if total == observedTotal {
			logger.Info("ledger matches observed total", zap.Int64("total", total))
			return nil
		}

		logger.Warn("ledger disagrees with observed total, collapsing history",
			zap.Int64("ledger_total", total),
			zap.Int64("observed_total", observedTotal),
		)
		if err := transaction.Where("1 = 1").Delete(&gormstore.CreditEntry{}).Error; err != nil {
			return err
		}
		if observedTotal == 0 {
			return nil
		}
		entryInput, err := ledger.NewEntryInput(ledger.CategoryAllocate, observedTotal, ledger.SystemActor(), "")
		if err != nil {
			return err
		}
		_, err = store.InsertEntry(ctx, entryInput)
		return err
	})
}
