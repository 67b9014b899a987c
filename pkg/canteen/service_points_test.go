package canteen

import (
	"context"
	"errors"
	"testing"
)

func TestRewardPointsCreditsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 10, RoleDiner)
	service := mustNewService(test, store)

	user, entry, err := service.RewardPoints(context.Background(), chef, diner, mustPositivePoints(test, 50), "")
	if err != nil {
		test.Fatalf("reward: %v", err)
	}
	if user.Balance.Int64() != 60 {
		test.Fatalf("expected balance 60, got %d", user.Balance.Int64())
	}
	if entry.Kind != EntryReward {
		test.Fatalf("expected reward entry, got %s", entry.Kind)
	}
	if entry.Amount.Int64() != 50 {
		test.Fatalf("expected reward of 50, got %d", entry.Amount.Int64())
	}
	if entry.Description != "operator reward of 50 points" {
		test.Fatalf("unexpected default description: %q", entry.Description)
	}
}

func TestDeductPointsDebitsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 120, RoleDiner)
	service := mustNewService(test, store)

	user, entry, err := service.DeductPoints(context.Background(), chef, diner, mustPositivePoints(test, 20), "no-show penalty")
	if err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if user.Balance.Int64() != 100 {
		test.Fatalf("expected balance 100, got %d", user.Balance.Int64())
	}
	if entry.Kind != EntryDeduct {
		test.Fatalf("expected deduct entry, got %s", entry.Kind)
	}
	if entry.Amount.Int64() != -20 {
		test.Fatalf("expected deduct of -20, got %d", entry.Amount.Int64())
	}
	if entry.Description != "no-show penalty" {
		test.Fatalf("unexpected description: %q", entry.Description)
	}
}

func TestDeductPointsInsufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	diner := store.seedUser(test, "diner-1", 200, RoleDiner)
	service := mustNewService(test, store)

	_, _, err := service.DeductPoints(context.Background(), chef, diner, mustPositivePoints(test, 500), "")
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := store.mustUser(test, diner).Balance.Int64(); got != 200 {
		test.Fatalf("expected untouched balance 200, got %d", got)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no entries, got %d", len(store.entries))
	}
}

func TestRewardPointsRequiresChefRole(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	operator := store.seedUser(test, "diner-operator", 0, RoleDiner)
	diner := store.seedUser(test, "diner-target", 10, RoleDiner)
	service := mustNewService(test, store)

	_, _, err := service.RewardPoints(context.Background(), operator, diner, mustPositivePoints(test, 5), "")
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no entries, got %d", len(store.entries))
	}
}

func TestRewardPointsUnknownOperator(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	diner := store.seedUser(test, "diner-target", 10, RoleDiner)
	service := mustNewService(test, store)

	_, _, err := service.RewardPoints(context.Background(), mustUserID(test, "ghost"), diner, mustPositivePoints(test, 5), "")
	if !errors.Is(err, ErrOperatorNotFound) {
		test.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
}

func TestDeductPointsUnknownUser(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	chef := store.seedUser(test, "chef-1", 0, RoleChef)
	service := mustNewService(test, store)

	_, _, err := service.DeductPoints(context.Background(), chef, mustUserID(test, "ghost"), mustPositivePoints(test, 5), "")
	if !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
