package canteen

import (
	"context"
	"errors"
	"testing"
)

func TestAdvanceOrderMovesThroughLifecycle(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 100, RoleDiner)
	service := mustNewService(test, store)
	items := []LineItem{mustLineItem(test, "dish-1", "Fried Rice", 25, 1)}

	placed, err := service.PlaceOrder(context.Background(), diner, items, "")
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	inProgress, err := service.AdvanceOrder(context.Background(), placed.ID, OrderInProgress)
	if err != nil {
		test.Fatalf("advance to in progress: %v", err)
	}
	if inProgress.Status != OrderInProgress {
		test.Fatalf("expected IN_PROGRESS, got %s", inProgress.Status)
	}
	completed, err := service.AdvanceOrder(context.Background(), placed.ID, OrderCompleted)
	if err != nil {
		test.Fatalf("advance to completed: %v", err)
	}
	if completed.Status != OrderCompleted {
		test.Fatalf("expected COMPLETED, got %s", completed.Status)
	}
	if got := store.mustUser(test, diner).Balance.Int64(); got != 75 {
		test.Fatalf("status transitions must not move points, balance %d", got)
	}
	if len(store.entries) != 1 {
		test.Fatalf("expected only the spend entry, got %d", len(store.entries))
	}
}

func TestAdvanceOrderRejectsCancelledTarget(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 100, RoleDiner)
	service := mustNewService(test, store)
	items := []LineItem{mustLineItem(test, "dish-1", "Soup", 10, 1)}

	placed, err := service.PlaceOrder(context.Background(), diner, items, "")
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	_, err = service.AdvanceOrder(context.Background(), placed.ID, OrderCancelled)
	if !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestAdvanceOrderRejectsTerminalStates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 100, RoleDiner)
	service := mustNewService(test, store)
	items := []LineItem{mustLineItem(test, "dish-1", "Tea Egg", 5, 1)}

	placed, err := service.PlaceOrder(context.Background(), diner, items, "")
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	if _, err := service.AdvanceOrder(context.Background(), placed.ID, OrderInProgress); err != nil {
		test.Fatalf("advance: %v", err)
	}
	if _, err := service.AdvanceOrder(context.Background(), placed.ID, OrderCompleted); err != nil {
		test.Fatalf("advance: %v", err)
	}
	_, err = service.AdvanceOrder(context.Background(), placed.ID, OrderInProgress)
	if !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestBalanceReturnsSnapshot(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 42, RoleDiner)
	service := mustNewService(test, store)

	user, err := service.Balance(context.Background(), diner)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if user.Balance.Int64() != 42 {
		test.Fatalf("expected 42, got %d", user.Balance.Int64())
	}
}

func TestHistoryClampsLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	if _, err := service.History(context.Background(), diner, 0); err != nil {
		test.Fatalf("history: %v", err)
	}
	if store.lastLimit != 50 {
		test.Fatalf("expected default limit 50, got %d", store.lastLimit)
	}
	if _, err := service.History(context.Background(), diner, 1000); err != nil {
		test.Fatalf("history: %v", err)
	}
	if store.lastLimit != 200 {
		test.Fatalf("expected clamped limit 200, got %d", store.lastLimit)
	}
}

func TestHistoryReturnsNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	if _, _, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 10), "first"); err != nil {
		test.Fatalf("reward: %v", err)
	}
	if _, _, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 20), "second"); err != nil {
		test.Fatalf("reward: %v", err)
	}
	entries, err := service.History(context.Background(), diner, 10)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Description != "second" || entries[1].Description != "first" {
		test.Fatalf("expected newest first, got %q then %q", entries[0].Description, entries[1].Description)
	}
}

func TestAllOrdersRequiresChefRole(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	_, err := service.AllOrders(context.Background(), diner)
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUsersRequiresChefRole(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	_, err := service.Users(context.Background(), diner)
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateUserStartsAtZeroBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	service := mustNewService(test, store)

	created, err := service.CreateUser(context.Background(), chef, "  New Diner  ", RoleDiner)
	if err != nil {
		test.Fatalf("create user: %v", err)
	}
	if created.Nickname != "New Diner" {
		test.Fatalf("expected trimmed nickname, got %q", created.Nickname)
	}
	if created.Balance.Int64() != 0 {
		test.Fatalf("expected zero starting balance, got %d", created.Balance.Int64())
	}
	if created.Role != RoleDiner {
		test.Fatalf("expected diner role, got %s", created.Role)
	}
}

func TestCreateUserRejectsEmptyNickname(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	service := mustNewService(test, store)

	_, err := service.CreateUser(context.Background(), chef, "   ", RoleDiner)
	if !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestAssignRolePromotesUser(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 10, RoleDiner)
	target := store.seedUser(test, "diner-2", 0, RoleDiner)
	service := mustNewService(test, store)

	promoted, err := service.AssignRole(context.Background(), chef, target, RoleChef)
	if err != nil {
		test.Fatalf("assign role: %v", err)
	}
	if promoted.Role != RoleChef {
		test.Fatalf("expected chef role, got %s", promoted.Role)
	}
	// The promoted user can now perform gated operations.
	if _, _, err := service.RewardPoints(context.Background(), target, diner, mustPositivePoints(test, 5), ""); err != nil {
		test.Fatalf("reward by promoted chef: %v", err)
	}
}

func TestReconcileRepairsDriftedBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	if _, _, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 70), ""); err != nil {
		test.Fatalf("reward: %v", err)
	}
	// Corrupt the cached balance behind the ledger's back.
	drifted := store.users[diner.String()]
	driftedBalance, err := NewPoints(100)
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	drifted.Balance = driftedBalance
	store.users[diner.String()] = drifted

	report, err := service.Reconcile(context.Background(), chef, diner)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if !report.Repaired {
		test.Fatalf("expected repair, got %+v", report)
	}
	if report.CachedBalance.Int64() != 100 || report.LedgerBalance.Int64() != 70 {
		test.Fatalf("unexpected report: %+v", report)
	}
	if got := store.mustUser(test, diner).Balance.Int64(); got != 70 {
		test.Fatalf("expected repaired balance 70, got %d", got)
	}
}

func TestReconcileCleanBalanceReportsNoDrift(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	if _, _, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 30), ""); err != nil {
		test.Fatalf("reward: %v", err)
	}
	report, err := service.Reconcile(context.Background(), chef, diner)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Repaired {
		test.Fatalf("expected no repair, got %+v", report)
	}
	if report.CachedBalance != report.LedgerBalance {
		test.Fatalf("expected matching balances, got %+v", report)
	}
}

func TestReconcileRequiresChefRole(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-1", 0, RoleDiner)
	service := mustNewService(test, store)

	_, err := service.Reconcile(context.Background(), diner, diner)
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}
