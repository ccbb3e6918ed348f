package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hutom-io/creditledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ledgerLockRowID = 1

	adminRole = "admin"

	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteBusyCode             = 5

	errorOperationStore      = "store"
	errorSubjectEntry        = "entry"
	errorSubjectBalance      = "balance"
	errorSubjectHistory      = "history"
	errorSubjectLock         = "lock"
	errorSubjectUser         = "user"
	errorSubjectNotification = "notification"
	errorCodeAcquire         = "acquire"
	errorCodeAppend          = "append"
	errorCodeContended       = "contended"
	errorCodeCount           = "count"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeLookup          = "lookup"
	errorCodeScan            = "scan"
	errorCodeSum             = "sum"

	// Confirmed prefix sum per row; createdAt order with id tiebreak
	// keeps balances reproducible for equal timestamps.
	sqlBalanceView = `
		select id, category, quantity, status, employee_id, name, user_id, is_user_request, hu_id, created_at, updated_at,
			sum(case when status then quantity else 0 end)
				over (order by created_at, id rows between unbounded preceding and current row) as balance
		from credit_history
	`
)

// Store implements ledger.Store using GORM, for sqlite and postgres.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockLedger takes the single summary row for update, serializing all
// check-and-append sequences against the ledger.
func (store *Store) LockLedger(ctx context.Context) error {
	var lockRow LedgerLock
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ledgerLockRowID).
		Take(&lockRow).Error
	if isContention(err) {
		return wrapStoreError(errorSubjectLock, errorCodeContended, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (int64, error) {
	var huID *string
	if entryInput.HuID != "" {
		value := entryInput.HuID
		huID = &value
	}
	entry := CreditEntry{
		Category:      entryInput.Category.String(),
		Quantity:      entryInput.Quantity,
		Confirmed:     entryInput.Confirmed,
		EmployeeID:    entryInput.Actor.EmployeeID,
		DisplayName:   entryInput.Actor.DisplayName,
		UserID:        entryInput.Actor.UserID,
		IsUserRequest: entryInput.Actor.IsUserRequest,
		HuID:          huID,
	}
	if err := store.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return entry.ID, nil
}

func (store *Store) ConfirmedTotal(ctx context.Context) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditEntry{}).
		Select("coalesce(sum(quantity),0) as total").
		Where("status = ?", true).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.BalanceRow, int64, error) {
	var count int64
	if err := store.historyQuery(ctx, filter).Count(&count).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectHistory, errorCodeCount, err)
	}

	query := store.historyQuery(ctx, filter)
	if filter.Sort == ledger.SortCreatedAtAsc {
		query = query.Order("created_at ASC")
	} else {
		query = query.Order("created_at DESC")
	}
	query = query.Order("id ASC")
	if filter.Limit != -1 {
		query = query.Offset((filter.Page - 1) * filter.Limit).Limit(filter.Limit)
	}

	var rows []balanceViewRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectHistory, errorCodeScan, err)
	}
	balanceRows := make([]ledger.BalanceRow, 0, len(rows))
	for _, row := range rows {
		balanceRows = append(balanceRows, row.toBalanceRow())
	}
	return balanceRows, count, nil
}

func (store *Store) historyQuery(ctx context.Context, filter ledger.HistoryFilter) *gorm.DB {
	query := store.db.WithContext(ctx).
		Table("(?) as balance_view", store.db.Raw(sqlBalanceView)).
		Where("status = ?", true)
	if len(filter.Categories) > 0 {
		categories := make([]string, 0, len(filter.Categories))
		for _, category := range filter.Categories {
			categories = append(categories, category.String())
		}
		query = query.Where("category IN ?", categories)
	}
	if filter.EmployeeID != "" {
		query = query.Where("employee_id LIKE ?", "%"+filter.EmployeeID+"%")
	}
	if filter.DisplayName != "" {
		query = query.Where("name LIKE ?", "%"+filter.DisplayName+"%")
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("created_at >= ?", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("created_at < ?", filter.EndDate)
	}
	return query
}

func (store *Store) FindUser(ctx context.Context, userID int64) (ledger.UserAccount, error) {
	var user User
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.UserAccount{}, wrapStoreError(errorSubjectUser, errorCodeLookup, ledger.ErrUnknownUser)
	}
	if err != nil {
		return ledger.UserAccount{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return mapUserAccount(user), nil
}

func (store *Store) FindAdmin(ctx context.Context) (ledger.UserAccount, bool, error) {
	var user User
	err := store.db.WithContext(ctx).Where("role = ?", adminRole).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.UserAccount{}, false, nil
	}
	if err != nil {
		return ledger.UserAccount{}, false, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return mapUserAccount(user), true, nil
}

func (store *Store) AppendNotification(ctx context.Context, userID int64, category ledger.NotificationCategory, credits int64) error {
	notification := Notification{
		UserID:   userID,
		Category: string(category),
		Payload:  datatypes.JSON([]byte(fmt.Sprintf(`{"credits":%d}`, credits))),
	}
	if err := store.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeAppend, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

type balanceViewRow struct {
	CreditEntry
	Balance int64
}

func (row balanceViewRow) toBalanceRow() ledger.BalanceRow {
	huID := ""
	if row.HuID != nil {
		huID = *row.HuID
	}
	return ledger.BalanceRow{
		Entry: ledger.Entry{
			ID:            row.ID,
			Category:      ledger.Category(row.Category),
			Quantity:      row.Quantity,
			Confirmed:     row.Confirmed,
			EmployeeID:    row.EmployeeID,
			DisplayName:   row.DisplayName,
			UserID:        row.UserID,
			IsUserRequest: row.IsUserRequest,
			HuID:          huID,
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.UpdatedAt,
		},
		Balance: row.Balance,
	}
}

func mapUserAccount(user User) ledger.UserAccount {
	return ledger.UserAccount{
		ID:         user.ID,
		EmployeeID: user.EmployeeID,
		Name:       user.Name,
		IsAdmin:    user.Role == adminRole,
	}
}

// isContention detects lock-level conflicts that a caller may retry:
// postgres serialization or deadlock failures and sqlite busy errors.
func isContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteBusyCode
	}
	return false
}
