package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Category fixes the semantic meaning of an entry's quantity sign.
type Category string

const (
	CategoryAllocate  Category = "allocate"
	CategoryRevoke    Category = "revoke"
	CategoryRusUse    Category = "rus-use"
	CategoryRusCancel Category = "rus-cancel"
)

// ParseCategory validates a raw category value.
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.TrimSpace(raw)) {
	case CategoryAllocate:
		return CategoryAllocate, nil
	case CategoryRevoke:
		return CategoryRevoke, nil
	case CategoryRusUse:
		return CategoryRusUse, nil
	case CategoryRusCancel:
		return CategoryRusCancel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// String returns the wire value of the category.
func (category Category) String() string {
	return string(category)
}

// PositiveQuantity is a strictly positive credit amount requested by a caller.
type PositiveQuantity int64

// NewPositiveQuantity validates a quantity and ensures it is strictly positive.
func NewPositiveQuantity(raw int64) (PositiveQuantity, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	return PositiveQuantity(raw), nil
}

// Int64 returns the raw amount.
func (quantity PositiveQuantity) Int64() int64 {
	return int64(quantity)
}

// Actor attributes a ledger movement to the system identity or a user account.
type Actor struct {
	EmployeeID    string
	DisplayName   string
	UserID        *int64
	IsUserRequest bool
}

// SystemActor returns the administrative system identity.
func SystemActor() Actor {
	return Actor{EmployeeID: SystemEmployeeID, DisplayName: SystemEmployeeID}
}

// UserActor attributes a movement to a resolved user account.
func UserActor(account UserAccount) Actor {
	userID := account.ID
	return Actor{
		EmployeeID:    account.EmployeeID,
		DisplayName:   account.Name,
		UserID:        &userID,
		IsUserRequest: true,
	}
}

// EntryInput is a validated, not-yet-persisted ledger movement.
type EntryInput struct {
	Category  Category
	Quantity  int64
	Confirmed bool
	Actor     Actor
	HuID      string
}

// NewEntryInput validates quantity sign conventions per category.
// Entries are written confirmed; the pending state is reserved for a
// future external-confirmation workflow.
func NewEntryInput(category Category, quantity int64, actor Actor, huID string) (EntryInput, error) {
	if quantity == 0 {
		return EntryInput{}, fmt.Errorf("%w: must be non-zero", ErrInvalidQuantity)
	}
	switch category {
	case CategoryAllocate:
		if quantity <= 0 {
			return EntryInput{}, fmt.Errorf("%w: allocate requires a positive quantity", ErrInvalidQuantity)
		}
	case CategoryRevoke:
		if quantity >= 0 {
			return EntryInput{}, fmt.Errorf("%w: revoke requires a negative quantity", ErrInvalidQuantity)
		}
	case CategoryRusUse:
		if quantity != -1 {
			return EntryInput{}, fmt.Errorf("%w: rus-use quantity is fixed at -1", ErrInvalidQuantity)
		}
	case CategoryRusCancel:
		if quantity != 1 {
			return EntryInput{}, fmt.Errorf("%w: rus-cancel quantity is fixed at +1", ErrInvalidQuantity)
		}
	default:
		return EntryInput{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return EntryInput{
		Category:  category,
		Quantity:  quantity,
		Confirmed: true,
		Actor:     actor,
		HuID:      huID,
	}, nil
}

// Entry is a single immutable line in the credit ledger.
type Entry struct {
	ID            int64
	Category      Category
	Quantity      int64
	Confirmed     bool
	EmployeeID    string
	DisplayName   string
	UserID        *int64
	IsUserRequest bool
	HuID          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BalanceRow pairs an entry with the running balance at that entry.
type BalanceRow struct {
	Entry   Entry
	Balance int64
}

// Receipt reports the outcome of an allocate or revoke operation.
type Receipt struct {
	ID    int64
	Total int64
}

// EntryReceipt reports the id of an appended use or cancel entry.
type EntryReceipt struct {
	ID int64
}

// UserAccount is the directory view of an account.
type UserAccount struct {
	ID         int64
	EmployeeID string
	Name       string
	IsAdmin    bool
}

// NotificationCategory enumerates ledger-driven alerts.
type NotificationCategory string

const (
	NotificationCreditShortage  NotificationCategory = "credit-shortage"
	NotificationCreditAllocated NotificationCategory = "credit-allocated"
	NotificationCreditRevoked   NotificationCategory = "credit-revoked"
)

// SortOrder defines history ordering by creation time.
type SortOrder string

const (
	SortCreatedAtAsc  SortOrder = "created-at-asc"
	SortCreatedAtDesc SortOrder = "created-at-desc"
)

// HistoryFilter scopes an audit scan of the ledger.
type HistoryFilter struct {
	Categories  []Category
	EmployeeID  string
	DisplayName string
	StartDate   time.Time
	EndDate     time.Time
	Sort        SortOrder
	Page        int
	Limit       int
}

// Normalize applies defaults and validates pagination parameters.
// Limit -1 disables pagination.
func (filter HistoryFilter) Normalize() (HistoryFilter, error) {
	normalized := filter
	if normalized.Sort == "" {
		normalized.Sort = SortCreatedAtDesc
	}
	if normalized.Sort != SortCreatedAtAsc && normalized.Sort != SortCreatedAtDesc {
		return HistoryFilter{}, fmt.Errorf("%w: unknown sort %q", ErrInvalidHistoryFilter, normalized.Sort)
	}
	if normalized.Limit == 0 {
		normalized.Limit = defaultHistoryLimit
	}
	if normalized.Limit < -1 {
		return HistoryFilter{}, fmt.Errorf("%w: limit must be -1 or positive", ErrInvalidHistoryFilter)
	}
	if normalized.Page == 0 {
		normalized.Page = 1
	}
	if normalized.Page < 1 {
		return HistoryFilter{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidHistoryFilter)
	}
	for _, category := range normalized.Categories {
		if _, err := ParseCategory(category.String()); err != nil {
			return HistoryFilter{}, fmt.Errorf("%w: %v", ErrInvalidHistoryFilter, err)
		}
	}
	return normalized, nil
}

// UserDirectory resolves account attribution and the administrator.
type UserDirectory interface {
	FindUser(ctx context.Context, userID int64) (UserAccount, error)
	FindAdmin(ctx context.Context) (UserAccount, bool, error)
}

// NotificationSink durably records an alert for an account.
type NotificationSink interface {
	AppendNotification(ctx context.Context, userID int64, category NotificationCategory, credits int64) error
}

// Store is the persistence contract used by Service. A transactional
// store joins the directory and sink to the same unit of work, so a
// failed notification write rolls the ledger mutation back with it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockLedger(ctx context.Context) error
	InsertEntry(ctx context.Context, entryInput EntryInput) (int64, error)
	ConfirmedTotal(ctx context.Context) (int64, error)
	History(ctx context.Context, filter HistoryFilter) ([]BalanceRow, int64, error)
	UserDirectory
	NotificationSink
}
