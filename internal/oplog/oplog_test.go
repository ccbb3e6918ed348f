package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationSuccess(test *testing.T) {
	test.Parallel()
	core, observed := observer.New(zap.InfoLevel)
	adapter := New(zap.New(core))

	userID := int64(2)
	adapter.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "record_use",
		Status:    "ok",
		Quantity:  -1,
		UserID:    &userID,
		HuID:      "hu-case-1",
		EntryID:   7,
	})

	entries := observed.All()
	if len(entries) != 1 {
		test.Fatalf("expected one log line, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel {
		test.Fatalf("expected info level, got %v", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "record_use" || fields["hu_id"] != "hu-case-1" {
		test.Fatalf("unexpected fields: %v", fields)
	}
	if fields["user_id"].(int64) != 2 || fields["entry_id"].(int64) != 7 {
		test.Fatalf("unexpected attribution fields: %v", fields)
	}
}

func TestLogOperationError(test *testing.T) {
	test.Parallel()
	core, observed := observer.New(zap.InfoLevel)
	adapter := New(zap.New(core))

	adapter.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "allocate",
		Status:    "error",
		Quantity:  30,
		Error:     errors.New("boom"),
	})

	entries := observed.All()
	if len(entries) != 1 {
		test.Fatalf("expected one log line, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		test.Fatalf("expected warn level, got %v", entries[0].Level)
	}
	if entries[0].ContextMap()["status"] != "error" {
		test.Fatalf("unexpected fields: %v", entries[0].ContextMap())
	}
}
