package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hutom-io/creditledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"

	errorOperationStore      = "store"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorSubjectHistory      = "history"
	errorSubjectLock         = "lock"
	errorSubjectNotification = "notification"
	errorSubjectTransaction  = "transaction"
	errorSubjectUser         = "user"
	errorCodeAcquire         = "acquire"
	errorCodeAppend          = "append"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeContended       = "contended"
	errorCodeCount           = "count"
	errorCodeInsert          = "insert"
	errorCodeLookup          = "lookup"
	errorCodeScan            = "scan"
	errorCodeSum             = "sum"

	sqlSelectLock = `
		select id from credit_ledger_lock where id = 1 for update
	`

	sqlInsertEntry = `
		insert into credit_history(category, quantity, status, employee_id, name, user_id, is_user_request, hu_id, created_at, updated_at)
		values($1, $2, $3, $4, $5, $6, $7, nullif($8,''), now(), now())
		returning id
	`

	sqlSumTotal = `
		select coalesce(sum(quantity),0) from credit_history where status
	`

	sqlSelectUserByID = `
		select id, employee_id, name, role from "user" where id = $1
	`

	sqlSelectAdmin = `
		select id, employee_id, name, role from "user" where role = 'admin' limit 1
	`

	sqlInsertNotification = `
		insert into notification(user_id, category, payload, created_at)
		values($1, $2, $3::jsonb, now())
	`

	// Confirmed prefix sum per row; createdAt order with id tiebreak
	// keeps balances reproducible for equal timestamps.
	sqlBalanceView = `
		select id, category, quantity, status, employee_id, name, user_id, is_user_request, coalesce(hu_id,'') as hu_id, created_at, updated_at,
			sum(case when status then quantity else 0 end)
				over (order by created_at, id rows between unbounded preceding and current row) as balance
		from credit_history
	`
)

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LockLedger(ctx context.Context) error {
	return lockLedger(ctx, store.pool)
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (int64, error) {
	return insertEntry(ctx, store.pool, entryInput)
}

func (store *Store) ConfirmedTotal(ctx context.Context) (int64, error) {
	return confirmedTotal(ctx, store.pool)
}

func (store *Store) History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.BalanceRow, int64, error) {
	return history(ctx, store.pool, filter)
}

func (store *Store) FindUser(ctx context.Context, userID int64) (ledger.UserAccount, error) {
	return findUser(ctx, store.pool, userID)
}

func (store *Store) FindAdmin(ctx context.Context) (ledger.UserAccount, bool, error) {
	return findAdmin(ctx, store.pool)
}

func (store *Store) AppendNotification(ctx context.Context, userID int64, category ledger.NotificationCategory, credits int64) error {
	return appendNotification(ctx, store.pool, userID, category, credits)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) LockLedger(ctx context.Context) error {
	return lockLedger(ctx, store.tx)
}

func (store *TxStore) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (int64, error) {
	return insertEntry(ctx, store.tx, entryInput)
}

func (store *TxStore) ConfirmedTotal(ctx context.Context) (int64, error) {
	return confirmedTotal(ctx, store.tx)
}

func (store *TxStore) History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.BalanceRow, int64, error) {
	return history(ctx, store.tx, filter)
}

func (store *TxStore) FindUser(ctx context.Context, userID int64) (ledger.UserAccount, error) {
	return findUser(ctx, store.tx, userID)
}

func (store *TxStore) FindAdmin(ctx context.Context) (ledger.UserAccount, bool, error) {
	return findAdmin(ctx, store.tx)
}

func (store *TxStore) AppendNotification(ctx context.Context, userID int64, category ledger.NotificationCategory, credits int64) error {
	return appendNotification(ctx, store.tx, userID, category, credits)
}

func lockLedger(ctx context.Context, runner querier) error {
	var lockID int64
	err := runner.QueryRow(ctx, sqlSelectLock).Scan(&lockID)
	if isContention(err) {
		return wrapStoreError(errorSubjectLock, errorCodeContended, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, err)
	}
	return nil
}

func insertEntry(ctx context.Context, runner querier, entryInput ledger.EntryInput) (int64, error) {
	var entryID int64
	err := runner.QueryRow(ctx, sqlInsertEntry,
		entryInput.Category.String(),
		entryInput.Quantity,
		entryInput.Confirmed,
		entryInput.Actor.EmployeeID,
		entryInput.Actor.DisplayName,
		entryInput.Actor.UserID,
		entryInput.Actor.IsUserRequest,
		entryInput.HuID,
	).Scan(&entryID)
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return entryID, nil
}

func confirmedTotal(ctx context.Context, runner querier) (int64, error) {
	var sum int64
	if err := runner.QueryRow(ctx, sqlSumTotal).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func history(ctx context.Context, runner querier, filter ledger.HistoryFilter) ([]ledger.BalanceRow, int64, error) {
	predicate, args := historyPredicate(filter)

	var count int64
	countQuery := fmt.Sprintf("select count(*) from (%s) as balance_view %s", sqlBalanceView, predicate)
	if err := runner.QueryRow(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, wrapStoreError(errorSubjectHistory, errorCodeCount, err)
	}

	direction := "desc"
	if filter.Sort == ledger.SortCreatedAtAsc {
		direction = "asc"
	}
	pageQuery := fmt.Sprintf("select * from (%s) as balance_view %s order by created_at %s, id asc", sqlBalanceView, predicate, direction)
	pageArgs := args
	if filter.Limit != -1 {
		pageQuery += fmt.Sprintf(" offset $%d limit $%d", len(pageArgs)+1, len(pageArgs)+2)
		pageArgs = append(pageArgs, (filter.Page-1)*filter.Limit, filter.Limit)
	}

	rows, err := runner.Query(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectHistory, errorCodeScan, err)
	}
	defer rows.Close()
	balanceRows, err := scanBalanceRows(rows)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectHistory, errorCodeScan, err)
	}
	return balanceRows, count, nil
}

func historyPredicate(filter ledger.HistoryFilter) (string, []any) {
	clauses := []string{"status"}
	args := make([]any, 0, 6)
	if len(filter.Categories) > 0 {
		categories := make([]string, 0, len(filter.Categories))
		for _, category := range filter.Categories {
			categories = append(categories, category.String())
		}
		args = append(args, categories)
		clauses = append(clauses, fmt.Sprintf("category = any($%d)", len(args)))
	}
	if filter.EmployeeID != "" {
		args = append(args, "%"+filter.EmployeeID+"%")
		clauses = append(clauses, fmt.Sprintf("employee_id like $%d", len(args)))
	}
	if filter.DisplayName != "" {
		args = append(args, "%"+filter.DisplayName+"%")
		clauses = append(clauses, fmt.Sprintf("name like $%d", len(args)))
	}
	if !filter.StartDate.IsZero() {
		args = append(args, filter.StartDate)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.EndDate.IsZero() {
		args = append(args, filter.EndDate)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return "where " + strings.Join(clauses, " and "), args
}

func scanBalanceRows(rows pgx.Rows) ([]ledger.BalanceRow, error) {
	balanceRows := make([]ledger.BalanceRow, 0, 32)
	for rows.Next() {
		var (
			entry   ledger.Entry
			balance int64
			rawCat  string
		)
		if err := rows.Scan(
			&entry.ID,
			&rawCat,
			&entry.Quantity,
			&entry.Confirmed,
			&entry.EmployeeID,
			&entry.DisplayName,
			&entry.UserID,
			&entry.IsUserRequest,
			&entry.HuID,
			&entry.CreatedAt,
			&entry.UpdatedAt,
			&balance,
		); err != nil {
			return nil, err
		}
		entry.Category = ledger.Category(rawCat)
		balanceRows = append(balanceRows, ledger.BalanceRow{Entry: entry, Balance: balance})
	}
	return balanceRows, rows.Err()
}

func findUser(ctx context.Context, runner querier, userID int64) (ledger.UserAccount, error) {
	account, err := scanUser(runner.QueryRow(ctx, sqlSelectUserByID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.UserAccount{}, wrapStoreError(errorSubjectUser, errorCodeLookup, ledger.ErrUnknownUser)
	}
	if err != nil {
		return ledger.UserAccount{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return account, nil
}

func findAdmin(ctx context.Context, runner querier) (ledger.UserAccount, bool, error) {
	account, err := scanUser(runner.QueryRow(ctx, sqlSelectAdmin))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.UserAccount{}, false, nil
	}
	if err != nil {
		return ledger.UserAccount{}, false, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return account, true, nil
}

func scanUser(row pgx.Row) (ledger.UserAccount, error) {
	var (
		account ledger.UserAccount
		role    string
	)
	if err := row.Scan(&account.ID, &account.EmployeeID, &account.Name, &role); err != nil {
		return ledger.UserAccount{}, err
	}
	account.IsAdmin = role == "admin"
	return account, nil
}

func appendNotification(ctx context.Context, runner querier, userID int64, category ledger.NotificationCategory, credits int64) error {
	payload := fmt.Sprintf(`{"credits":%d}`, credits)
	if _, err := runner.Exec(ctx, sqlInsertNotification, userID, string(category), payload); err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeAppend, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}
