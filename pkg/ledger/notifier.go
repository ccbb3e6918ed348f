package ledger

import "context"

// ThresholdNotifier is the edge-triggered shortage alert. It fires
// only when a debit lands the confirmed total exactly on the
// threshold; a debit that jumps over the threshold produces nothing
// from this path. The periodic sweep is the level-triggered safety
// net for that blind spot and stays decoupled from this type.
type ThresholdNotifier struct {
	threshold int64
}

// NewThresholdNotifier returns a notifier firing at the given total.
func NewThresholdNotifier(threshold int64) ThresholdNotifier {
	return ThresholdNotifier{threshold: threshold}
}

// Threshold returns the configured shortage threshold.
func (notifier ThresholdNotifier) Threshold() int64 {
	return notifier.threshold
}

// AfterDebit runs inside the mutating transaction after a successful
// negative append, so it observes the debit it reacts to. A missing
// administrator skips the alert without failing the debit; a sink
// write failure propagates and rolls the whole mutation back.
func (notifier ThresholdNotifier) AfterDebit(ctx context.Context, transactionStore Store) error {
	total, err := transactionStore.ConfirmedTotal(ctx)
	if err != nil {
		return err
	}
	if total != notifier.threshold {
		return nil
	}
	admin, found, err := transactionStore.FindAdmin(ctx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return transactionStore.AppendNotification(ctx, admin.ID, NotificationCreditShortage, total)
}
