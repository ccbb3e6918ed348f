// Package oplog adapts the ledger operation callback to zap.
package oplog

import (
	"context"

	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

// Logger emits one structured line per ledger operation.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing through the given zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (adapter *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("quantity", entry.Quantity),
	}
	if entry.EntryID != 0 {
		fields = append(fields, zap.Int64("entry_id", entry.EntryID))
	}
	if entry.Total != 0 || entry.Error == nil {
		fields = append(fields, zap.Int64("total", entry.Total))
	}
	if entry.UserID != nil {
		fields = append(fields, zap.Int64("user_id", *entry.UserID))
	}
	if entry.HuID != "" {
		fields = append(fields, zap.String("hu_id", entry.HuID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("credit operation failed", fields...)
		return
	}
	adapter.logger.Info("credit operation", fields...)
}
