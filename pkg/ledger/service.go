package ledger

import (
	"context"
	"fmt"
)

// Service orchestrates the mutating ledger operations. Every mutation
// runs as one atomic unit of work: the ledger append, the bound check,
// and any required notification commit or roll back together.
//
// All guarded paths follow a single discipline: acquire the ledger
// lock, read the confirmed total, validate, then write.
type Service struct {
	store    Store
	ceiling  int64
	notifier ThresholdNotifier
	logger   OperationLogger
}

// NewService wires a Service.
func NewService(store Store, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		ceiling:  DefaultCreditCeiling,
		notifier: NewThresholdNotifier(DefaultShortageThreshold),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.ceiling < 0 {
		return nil, fmt.Errorf("%w: ceiling must not be negative", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Allocate appends a positive administrative movement and notifies the
// administrator. Fails with ErrLimitExceeded when the total would pass
// the ceiling and with ErrNoAdministrator when no admin account exists.
func (service *Service) Allocate(ctx context.Context, quantity PositiveQuantity) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockLedger(ctx); err != nil {
			return err
		}
		admin, found, err := transactionStore.FindAdmin(ctx)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoAdministrator
		}
		total, err := transactionStore.ConfirmedTotal(ctx)
		if err != nil {
			return err
		}
		if total+quantity.Int64() > service.ceiling {
			return ErrLimitExceeded
		}
		entryInput, err := NewEntryInput(CategoryAllocate, quantity.Int64(), SystemActor(), "")
		if err != nil {
			return err
		}
		entryID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		if err := transactionStore.AppendNotification(ctx, admin.ID, NotificationCreditAllocated, quantity.Int64()); err != nil {
			return err
		}
		receipt = Receipt{ID: entryID, Total: total + quantity.Int64()}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAllocate,
		Quantity:  quantity.Int64(),
		EntryID:   receipt.ID,
		Total:     receipt.Total,
		Error:     operationError,
	})
	if operationError != nil {
		return Receipt{}, operationError
	}
	return receipt, nil
}

// Revoke appends a negative administrative movement, notifies the
// administrator, and runs the shortage check. Fails with
// ErrLimitExceeded when the total would drop below zero.
func (service *Service) Revoke(ctx context.Context, quantity PositiveQuantity) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockLedger(ctx); err != nil {
			return err
		}
		admin, found, err := transactionStore.FindAdmin(ctx)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoAdministrator
		}
		total, err := transactionStore.ConfirmedTotal(ctx)
		if err != nil {
			return err
		}
		if total-quantity.Int64() < 0 {
			return ErrLimitExceeded
		}
		entryInput, err := NewEntryInput(CategoryRevoke, -quantity.Int64(), SystemActor(), "")
		if err != nil {
			return err
		}
		entryID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		if err := transactionStore.AppendNotification(ctx, admin.ID, NotificationCreditRevoked, quantity.Int64()); err != nil {
			return err
		}
		if err := service.notifier.AfterDebit(ctx, transactionStore); err != nil {
			return err
		}
		receipt = Receipt{ID: entryID, Total: total - quantity.Int64()}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRevoke,
		Quantity:  quantity.Int64(),
		EntryID:   receipt.ID,
		Total:     receipt.Total,
		Error:     operationError,
	})
	if operationError != nil {
		return Receipt{}, operationError
	}
	return receipt, nil
}

// RecordUse spends one credit on behalf of a user for the case
// identified by huID. Fails with ErrInsufficientCredit when the total
// is below one; nothing is appended on failure.
func (service *Service) RecordUse(ctx context.Context, userID int64, huID string) (EntryReceipt, error) {
	var receipt EntryReceipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockLedger(ctx); err != nil {
			return err
		}
		account, err := transactionStore.FindUser(ctx, userID)
		if err != nil {
			return err
		}
		total, err := transactionStore.ConfirmedTotal(ctx)
		if err != nil {
			return err
		}
		if total < 1 {
			return ErrInsufficientCredit
		}
		entryInput, err := NewEntryInput(CategoryRusUse, -1, UserActor(account), huID)
		if err != nil {
			return err
		}
		entryID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		if err := service.notifier.AfterDebit(ctx, transactionStore); err != nil {
			return err
		}
		receipt = EntryReceipt{ID: entryID}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordUse,
		Quantity:  -1,
		UserID:    &userID,
		HuID:      huID,
		EntryID:   receipt.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return EntryReceipt{}, operationError
	}
	return receipt, nil
}

// RecordCancel refunds one credit for the case identified by huID.
// A nil initiatedBy attributes the refund to the system identity.
// The cancel path performs no bound check; a refund can push the total
// past the ceiling. Kept as observed pending an upstream decision.
func (service *Service) RecordCancel(ctx context.Context, huID string, initiatedBy *int64) (EntryReceipt, error) {
	var receipt EntryReceipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		actor := SystemActor()
		if initiatedBy != nil {
			account, err := transactionStore.FindUser(ctx, *initiatedBy)
			if err != nil {
				return err
			}
			actor = UserActor(account)
		}
		entryInput, err := NewEntryInput(CategoryRusCancel, 1, actor, huID)
		if err != nil {
			return err
		}
		entryID, err := transactionStore.InsertEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		receipt = EntryReceipt{ID: entryID}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordCancel,
		Quantity:  1,
		UserID:    initiatedBy,
		HuID:      huID,
		EntryID:   receipt.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return EntryReceipt{}, operationError
	}
	return receipt, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
