package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorCodeMigrate = "migrate"

	sqlCreateCreditHistory = `
		create table if not exists credit_history(
			id bigint generated always as identity primary key,
			category text not null,
			quantity bigint not null,
			status boolean not null default false,
			employee_id text not null,
			name text not null,
			user_id bigint,
			is_user_request boolean not null default false,
			hu_id text,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)
	`

	sqlCreateCreditHistoryIndex = `
		create index if not exists idx_credit_history_created_id on credit_history(created_at, id)
	`

	sqlCreateNotification = `
		create table if not exists notification(
			id bigint generated always as identity primary key,
			user_id bigint not null,
			category text not null,
			payload jsonb not null,
			created_at timestamptz not null default now()
		)
	`

	sqlCreateUser = `
		create table if not exists "user"(
			id bigint primary key,
			employee_id text not null,
			name text not null,
			role text not null
		)
	`

	sqlCreateLedgerLock = `
		create table if not exists credit_ledger_lock(
			id bigint primary key
		)
	`

	sqlSeedLedgerLock = `
		insert into credit_ledger_lock(id) values(1) on conflict (id) do nothing
	`
)

// Migrate creates the schema and seeds the ledger lock row.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		sqlCreateCreditHistory,
		sqlCreateCreditHistoryIndex,
		sqlCreateNotification,
		sqlCreateUser,
		sqlCreateLedgerLock,
		sqlSeedLedgerLock,
	}
	for _, statement := range statements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectTransaction, errorCodeMigrate, err)
		}
	}
	return nil
}
