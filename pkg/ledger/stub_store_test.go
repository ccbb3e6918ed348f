package ledger

import (
	"context"
	"testing"
	"time"
)

type stubNotification struct {
	userID   int64
	category NotificationCategory
	credits  int64
}

// stubStore is an in-memory Store with snapshot-based rollback so the
// all-or-nothing contract of WithTx can be asserted against.
type stubStore struct {
	entries       []Entry
	notifications []stubNotification
	users         map[int64]UserAccount
	admin         *UserAccount
	nextEntryID   int64
	clock         time.Time

	lockError         error
	insertError       error
	totalError        error
	findAdminError    error
	findUserError     error
	historyError      error
	notificationError error
	failCategory      NotificationCategory
}

func newStubStore() *stubStore {
	return &stubStore{
		users:       make(map[int64]UserAccount),
		nextEntryID: 1,
		clock:       time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	entriesSnapshot := append([]Entry(nil), store.entries...)
	notificationsSnapshot := append([]stubNotification(nil), store.notifications...)
	nextIDSnapshot := store.nextEntryID
	clockSnapshot := store.clock
	if err := fn(ctx, store); err != nil {
		store.entries = entriesSnapshot
		store.notifications = notificationsSnapshot
		store.nextEntryID = nextIDSnapshot
		store.clock = clockSnapshot
		return err
	}
	return nil
}

func (store *stubStore) LockLedger(ctx context.Context) error {
	return store.lockError
}

func (store *stubStore) InsertEntry(ctx context.Context, entryInput EntryInput) (int64, error) {
	if store.insertError != nil {
		return 0, store.insertError
	}
	store.clock = store.clock.Add(time.Millisecond)
	entry := Entry{
		ID:            store.nextEntryID,
		Category:      entryInput.Category,
		Quantity:      entryInput.Quantity,
		Confirmed:     entryInput.Confirmed,
		EmployeeID:    entryInput.Actor.EmployeeID,
		DisplayName:   entryInput.Actor.DisplayName,
		UserID:        entryInput.Actor.UserID,
		IsUserRequest: entryInput.Actor.IsUserRequest,
		HuID:          entryInput.HuID,
		CreatedAt:     store.clock,
		UpdatedAt:     store.clock,
	}
	store.nextEntryID++
	store.entries = append(store.entries, entry)
	return entry.ID, nil
}

func (store *stubStore) ConfirmedTotal(ctx context.Context) (int64, error) {
	if store.totalError != nil {
		return 0, store.totalError
	}
	return TotalOf(store.entries), nil
}

func (store *stubStore) History(ctx context.Context, filter HistoryFilter) ([]BalanceRow, int64, error) {
	if store.historyError != nil {
		return nil, 0, store.historyError
	}
	rows := RunningBalance(store.entries)
	if filter.Sort == SortCreatedAtDesc {
		reversed := make([]BalanceRow, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			reversed = append(reversed, rows[i])
		}
		rows = reversed
	}
	return rows, int64(len(rows)), nil
}

func (store *stubStore) FindUser(ctx context.Context, userID int64) (UserAccount, error) {
	if store.findUserError != nil {
		return UserAccount{}, store.findUserError
	}
	account, ok := store.users[userID]
	if !ok {
		return UserAccount{}, ErrUnknownUser
	}
	return account, nil
}

func (store *stubStore) FindAdmin(ctx context.Context) (UserAccount, bool, error) {
	if store.findAdminError != nil {
		return UserAccount{}, false, store.findAdminError
	}
	if store.admin == nil {
		return UserAccount{}, false, nil
	}
	return *store.admin, true, nil
}

func (store *stubStore) AppendNotification(ctx context.Context, userID int64, category NotificationCategory, credits int64) error {
	if store.notificationError != nil && (store.failCategory == "" || store.failCategory == category) {
		return store.notificationError
	}
	store.notifications = append(store.notifications, stubNotification{userID: userID, category: category, credits: credits})
	return nil
}

func (store *stubStore) withAdmin() *stubStore {
	admin := UserAccount{ID: 1, EmployeeID: "admin", Name: "Administrator", IsAdmin: true}
	store.admin = &admin
	store.users[admin.ID] = admin
	return store
}

func (store *stubStore) withUser(userID int64, employeeID string, name string) *stubStore {
	store.users[userID] = UserAccount{ID: userID, EmployeeID: employeeID, Name: name}
	return store
}

// seedConfirmed appends confirmed entries directly, bypassing the service.
func (store *stubStore) seedConfirmed(test *testing.T, quantities ...int64) {
	test.Helper()
	for _, quantity := range quantities {
		store.clock = store.clock.Add(time.Millisecond)
		store.entries = append(store.entries, Entry{
			ID:          store.nextEntryID,
			Category:    CategoryAllocate,
			Quantity:    quantity,
			Confirmed:   true,
			EmployeeID:  SystemEmployeeID,
			DisplayName: SystemEmployeeID,
			CreatedAt:   store.clock,
			UpdatedAt:   store.clock,
		})
		store.nextEntryID++
	}
}

func (store *stubStore) countNotifications(category NotificationCategory) int {
	count := 0
	for _, notification := range store.notifications {
		if notification.category == category {
			count++
		}
	}
	return count
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPositiveQuantity(test *testing.T, raw int64) PositiveQuantity {
	test.Helper()
	quantity, err := NewPositiveQuantity(raw)
	if err != nil {
		test.Fatalf("positive quantity: %v", err)
	}
	return quantity
}

func mustTotal(test *testing.T, service *Service) int64 {
	test.Helper()
	total, err := service.TotalCredit(context.Background())
	if err != nil {
		test.Fatalf("total credit: %v", err)
	}
	return total
}
