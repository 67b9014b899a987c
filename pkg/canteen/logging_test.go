package canteen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []OperationLog
	notify  chan OperationLog
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{notify: make(chan OperationLog, 8)}
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	logger.entries = append(logger.entries, entry)
	logger.mu.Unlock()
	select {
	case logger.notify <- entry:
	default:
	}
}

func (logger *recordingLogger) snapshot() []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

type failingNotifier struct {
	err error
}

func (notifier *failingNotifier) NotifyOrderPlaced(context.Context, OrderSummary) error {
	return notifier.err
}

func TestPlaceOrderLogsSuccess(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 100, RoleDiner)
	logger := newRecordingLogger()
	service := mustNewService(test, store, WithOperationLogger(logger))
	items := []LineItem{mustLineItem(test, "dish-1", "Baozi", 8, 2)}

	placed, err := service.PlaceOrder(context.Background(), diner, items, "")
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != "place_order" {
		test.Fatalf("unexpected operation %q", entry.Operation)
	}
	if entry.Status != "ok" {
		test.Fatalf("expected ok status, got %q", entry.Status)
	}
	if entry.OrderID != placed.ID {
		test.Fatalf("expected order %s, got %s", placed.ID.String(), entry.OrderID.String())
	}
	if entry.Amount != 16 {
		test.Fatalf("expected amount 16, got %d", entry.Amount)
	}
}

func TestPlaceOrderLogsFailureStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 5, RoleDiner)
	logger := newRecordingLogger()
	service := mustNewService(test, store, WithOperationLogger(logger))
	items := []LineItem{mustLineItem(test, "dish-1", "Banquet", 500, 1)}

	if _, err := service.PlaceOrder(context.Background(), diner, items, ""); err == nil {
		test.Fatalf("expected failure")
	}
	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Status != "error" {
		test.Fatalf("expected error status, got %q", entry.Status)
	}
	if !errors.Is(entry.Error, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance in log, got %v", entry.Error)
	}
}

func TestNotifierFailureIsLoggedNotReturned(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 100, RoleDiner)
	logger := newRecordingLogger()
	notifyErr := errors.New("webhook down")
	service := mustNewService(test, store,
		WithOperationLogger(logger),
		WithOrderNotifier(&failingNotifier{err: notifyErr}),
	)
	items := []LineItem{mustLineItem(test, "dish-1", "Wonton", 15, 1)}

	if _, err := service.PlaceOrder(context.Background(), diner, items, ""); err != nil {
		test.Fatalf("notifier failure must not fail the order: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case entry := <-logger.notify:
			if entry.Operation != "notify_order_placed" {
				continue
			}
			if !errors.Is(entry.Error, notifyErr) {
				test.Fatalf("expected notifier error in log, got %v", entry.Error)
			}
			return
		case <-deadline:
			test.Fatalf("notifier failure was never logged")
		}
	}
}

func TestRewardLogsOperatorAndAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	logger := newRecordingLogger()
	service := mustNewService(test, store, WithOperationLogger(logger))

	if _, _, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 25), ""); err != nil {
		test.Fatalf("reward: %v", err)
	}
	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != "reward_points" {
		test.Fatalf("unexpected operation %q", entry.Operation)
	}
	if entry.OperatorID != chef || entry.UserID != diner {
		test.Fatalf("unexpected subjects: %+v", entry)
	}
	if entry.Amount != 25 {
		test.Fatalf("expected amount 25, got %d", entry.Amount)
	}
}
