package canteen

import (
	"context"
	"fmt"
	"strings"
)

// Balance returns the user's current snapshot, including the cached balance.
func (service *Service) Balance(ctx context.Context, userID UserID) (User, error) {
	return service.store.GetUser(ctx, userID)
}

// History lists the user's ledger entries, newest first. The ledger is the
// source of truth for audit queries.
func (service *Service) History(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return service.store.ListEntries(ctx, userID, limit)
}

// Orders lists a user's own orders.
func (service *Service) Orders(ctx context.Context, userID UserID) ([]Order, error) {
	return service.store.ListOrders(ctx, userID)
}

// AllOrders lists every order. Chef-gated.
func (service *Service) AllOrders(ctx context.Context, operatorID UserID) ([]Order, error) {
	if err := service.gate.RequireChef(ctx, operatorID); err != nil {
		return nil, err
	}
	return service.store.ListAllOrders(ctx)
}

// Users lists every account. Chef-gated.
func (service *Service) Users(ctx context.Context, operatorID UserID) ([]User, error) {
	if err := service.gate.RequireChef(ctx, operatorID); err != nil {
		return nil, err
	}
	return service.store.ListUsers(ctx)
}

// AdvanceOrder moves an order along PENDING -> IN_PROGRESS -> COMPLETED.
// These transitions never touch the ledger or balance. CANCELLED is rejected
// as a target here: cancellation must refund points through CancelOrder.
func (service *Service) AdvanceOrder(ctx context.Context, orderID OrderID, target OrderStatus) (Order, error) {
	var advanced Order
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if target == OrderCancelled {
			return fmt.Errorf("%w: cancellation must refund points", ErrInvalidStateTransition)
		}
		if !order.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, order.Status, target)
		}
		if err := transactionStore.UpdateOrderStatus(ctx, orderID, order.Status, target); err != nil {
			return err
		}
		advanced = order
		advanced.Status = target
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdvanceOrder,
		UserID:    advanced.UserID,
		OrderID:   orderID,
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return advanced, nil
}

// CreateUser registers an account with a zero balance, so the ledger
// invariant holds from the first committed state. Chef-gated; role is set
// only here and through AssignRole.
func (service *Service) CreateUser(ctx context.Context, operatorID UserID, nickname string, role Role) (User, error) {
	var created User
	operationError := func() error {
		if err := service.gate.RequireChef(ctx, operatorID); err != nil {
			return err
		}
		trimmedNickname := strings.TrimSpace(nickname)
		if trimmedNickname == "" {
			return fmt.Errorf("%w: empty nickname", ErrInvalidUserID)
		}
		if _, err := ParseRole(role.String()); err != nil {
			return err
		}
		user, err := service.store.CreateUser(ctx, User{
			Nickname:       trimmedNickname,
			Balance:        0,
			Role:           role,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		created = user
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationCreateUser,
		UserID:     created.ID,
		OperatorID: operatorID,
		Error:      operationError,
	})
	if operationError != nil {
		return User{}, operationError
	}
	return created, nil
}

// AssignRole sets a user's stable role. Chef-gated; writes no ledger entry
// because roles are not balance changes.
func (service *Service) AssignRole(ctx context.Context, operatorID UserID, userID UserID, role Role) (User, error) {
	var updated User
	operationError := func() error {
		if err := service.gate.RequireChef(ctx, operatorID); err != nil {
			return err
		}
		if _, err := ParseRole(role.String()); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			user, err := transactionStore.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if err := transactionStore.SetUserRole(ctx, userID, role); err != nil {
				return err
			}
			updated = user
			updated.Role = role
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationAssignRole,
		UserID:     userID,
		OperatorID: operatorID,
		Error:      operationError,
	})
	if operationError != nil {
		return User{}, operationError
	}
	return updated, nil
}

// Reconcile recomputes a user's balance from the ledger inside one row-locked
// transaction and repairs the cached value if it drifted. The invariant holds
// by construction; this exists as a defensive operator utility. Chef-gated.
func (service *Service) Reconcile(ctx context.Context, operatorID UserID, userID UserID) (ReconcileReport, error) {
	var report ReconcileReport
	operationError := func() error {
		if err := service.gate.RequireChef(ctx, operatorID); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			user, err := transactionStore.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			sum, err := transactionStore.SumEntries(ctx, userID)
			if err != nil {
				return err
			}
			ledgerBalance, err := NewPoints(sum)
			if err != nil {
				return WrapError(operationReconcile, "ledger", "negative_sum", ErrInvalidBalance)
			}
			report = ReconcileReport{
				UserID:        userID,
				CachedBalance: user.Balance,
				LedgerBalance: ledgerBalance,
			}
			if user.Balance == ledgerBalance {
				return nil
			}
			if err := transactionStore.UpdateUserBalance(ctx, userID, ledgerBalance); err != nil {
				return err
			}
			report.Repaired = true
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationReconcile,
		UserID:     userID,
		OperatorID: operatorID,
		Amount:     report.LedgerBalance.Int64(),
		Error:      operationError,
	})
	if operationError != nil {
		return ReconcileReport{}, operationError
	}
	return report, nil
}
