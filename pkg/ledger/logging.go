package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	Quantity  int64
	UserID    *int64
	HuID      string
	EntryID   int64
	Total     int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCreditCeiling overrides the aggregate upper bound.
func WithCreditCeiling(ceiling int64) ServiceOption {
	return func(service *Service) {
		service.ceiling = ceiling
	}
}

// WithShortageThreshold overrides the exact total at which the shortage alert fires.
func WithShortageThreshold(threshold int64) ServiceOption {
	return func(service *Service) {
		service.notifier = NewThresholdNotifier(threshold)
	}
}
