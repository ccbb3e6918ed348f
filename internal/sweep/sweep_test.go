package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hutom-io/creditledger/internal/store/gormstore"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type harness struct {
	db      *gorm.DB
	store   *gormstore.Store
	sweeper *Sweeper
}

func newHarness(test *testing.T, seedAdmin bool) *harness {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	if seedAdmin {
		if err := db.Create(&gormstore.User{ID: 1, EmployeeID: "admin", Name: "Administrator", Role: "admin"}).Error; err != nil {
			test.Fatalf("seed admin: %v", err)
		}
	}
	store := gormstore.New(db)
	return &harness{
		db:      db,
		store:   store,
		sweeper: New(store, ledger.DefaultShortageThreshold, time.Minute, zap.NewNop()),
	}
}

func (h *harness) seedTotal(test *testing.T, quantity int64) {
	test.Helper()
	category := ledger.CategoryAllocate
	if quantity < 0 {
		category = ledger.CategoryRevoke
	}
	entryInput, err := ledger.NewEntryInput(category, quantity, ledger.SystemActor(), "")
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	if _, err := h.store.InsertEntry(context.Background(), entryInput); err != nil {
		test.Fatalf("insert entry: %v", err)
	}
}

func (h *harness) shortageCount(test *testing.T) int64 {
	test.Helper()
	var count int64
	err := h.db.Model(&gormstore.Notification{}).
		Where("category = ?", string(ledger.NotificationCreditShortage)).
		Count(&count).Error
	if err != nil {
		test.Fatalf("count notifications: %v", err)
	}
	return count
}

func TestSweepAlertsInShortageBand(test *testing.T) {
	test.Parallel()
	h := newHarness(test, true)
	h.seedTotal(test, 5)

	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if got := h.shortageCount(test); got != 1 {
		test.Fatalf("expected one shortage alert, got %d", got)
	}
}

func TestSweepSuppressesRepeatAlertForUnchangedTotal(test *testing.T) {
	test.Parallel()
	h := newHarness(test, true)
	h.seedTotal(test, 5)

	for i := 0; i < 3; i++ {
		if err := h.sweeper.Sweep(context.Background()); err != nil {
			test.Fatalf("sweep %d: %v", i, err)
		}
	}
	if got := h.shortageCount(test); got != 1 {
		test.Fatalf("expected suppressed repeats, got %d alerts", got)
	}
}

func TestSweepRearmsAfterRecovery(test *testing.T) {
	test.Parallel()
	h := newHarness(test, true)
	h.seedTotal(test, 5)

	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep: %v", err)
	}
	h.seedTotal(test, 100)
	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep after recovery: %v", err)
	}
	if got := h.shortageCount(test); got != 1 {
		test.Fatalf("expected no alert above threshold, got %d", got)
	}

	h.seedTotal(test, -100)
	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep after relapse: %v", err)
	}
	if got := h.shortageCount(test); got != 2 {
		test.Fatalf("expected rearmed alert, got %d", got)
	}
}

func TestSweepAboveThresholdIsSilent(test *testing.T) {
	test.Parallel()
	h := newHarness(test, true)
	h.seedTotal(test, 100)

	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if got := h.shortageCount(test); got != 0 {
		test.Fatalf("expected no alerts, got %d", got)
	}
}

func TestSweepWithoutAdministratorLogsOnly(test *testing.T) {
	test.Parallel()
	h := newHarness(test, false)
	h.seedTotal(test, 5)

	if err := h.sweeper.Sweep(context.Background()); err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if got := h.shortageCount(test); got != 0 {
		test.Fatalf("expected no alerts without admin, got %d", got)
	}
}

func TestRunStopsOnContextCancel(test *testing.T) {
	test.Parallel()
	h := newHarness(test, true)
	h.sweeper.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.sweeper.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		test.Fatalf("sweeper did not stop on cancel")
	}
}
