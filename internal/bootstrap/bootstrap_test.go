package bootstrap

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/hutom-io/creditledger/internal/store/gormstore"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEntry(test *testing.T, db *gorm.DB, category ledger.Category, quantity int64) {
	test.Helper()
	entryInput, err := ledger.NewEntryInput(category, quantity, ledger.SystemActor(), "")
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	if _, err := gormstore.New(db).InsertEntry(context.Background(), entryInput); err != nil {
		test.Fatalf("insert entry: %v", err)
	}
}

func TestReconcileMatchingTotalKeepsHistory(test *testing.T) {
	test.Parallel()
	db := newTestDB(test)
	seedEntry(test, db, ledger.CategoryAllocate, 30)
	seedEntry(test, db, ledger.CategoryRevoke, -10)

	if err := Reconcile(context.Background(), db, 20, zap.NewNop()); err != nil {
		test.Fatalf("reconcile: %v", err)
	}

	var count int64
	if err := db.Model(&gormstore.CreditEntry{}).Count(&count).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 2 {
		test.Fatalf("expected history preserved, got %d rows", count)
	}
}

func TestReconcileMismatchCollapsesHistory(test *testing.T) {
	test.Parallel()
	db := newTestDB(test)
	seedEntry(test, db, ledger.CategoryAllocate, 30)
	seedEntry(test, db, ledger.CategoryRevoke, -10)

	if err := Reconcile(context.Background(), db, 45, zap.NewNop()); err != nil {
		test.Fatalf("reconcile: %v", err)
	}

	var entries []gormstore.CreditEntry
	if err := db.Find(&entries).Error; err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		test.Fatalf("expected collapsed history, got %d rows", len(entries))
	}
	if entries[0].Category != "allocate" || entries[0].Quantity != 45 || !entries[0].Confirmed {
		test.Fatalf("unexpected synthetic entry: %+v", entries[0])
	}
	if entries[0].EmployeeID != ledger.SystemEmployeeID {
		test.Fatalf("expected system attribution, got %q", entries[0].EmployeeID)
	}

	total, err := gormstore.New(db).ConfirmedTotal(context.Background())
	if err != nil {
		test.Fatalf("total: %v", err)
	}
	if total != 45 {
		test.Fatalf("expected total 45, got %d", total)
	}
}

func TestReconcileZeroObservedTotalEmptiesLedger(test *testing.T) {
	test.Parallel()
	db := newTestDB(test)
	seedEntry(test, db, ledger.CategoryAllocate, 30)

	if err := Reconcile(context.Background(), db, 0, zap.NewNop()); err != nil {
		test.Fatalf("reconcile: %v", err)
	}

	var count int64
	if err := db.Model(&gormstore.CreditEntry{}).Count(&count).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 0 {
		test.Fatalf("expected empty ledger, got %d rows", count)
	}
}

func TestReconcileDisabled(test *testing.T) {
	test.Parallel()
	db := newTestDB(test)
	seedEntry(test, db, ledger.CategoryAllocate, 30)

	if err := Reconcile(context.Background(), db, -1, zap.NewNop()); err != nil {
		test.Fatalf("reconcile: %v", err)
	}

	var count int64
	if err := db.Model(&gormstore.CreditEntry{}).Count(&count).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 1 {
		test.Fatalf("expected untouched ledger, got %d rows", count)
	}
}
