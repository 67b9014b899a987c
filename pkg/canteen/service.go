package canteen

import (
	"context"
	"fmt"
)

// Service is the transaction coordinator: every public operation runs its
// reads and writes as one atomic Store.WithTx unit.
type Service struct {
	store    Store
	gate     *Gate
	nowFn    func() int64
	logger   OperationLogger
	notifier OrderNotifier
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	gate, err := NewGate(store)
	if err != nil {
		return nil, err
	}
	service := &Service{store: store, gate: gate, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PlaceOrder debits the user's balance by the recomputed order total, creates
// a PENDING order, and appends the matching spend entry. The order-placed
// notification is dispatched after commit and never awaited.
func (service *Service) PlaceOrder(ctx context.Context, userID UserID, items []LineItem, remark string) (Order, error) {
	totalCost, err := TotalCost(items)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationPlaceOrder, UserID: userID, Error: err})
		return Order{}, err
	}
	var placed Order
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance.Int64() < totalCost.Int64() {
			return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, user.Balance.Int64(), totalCost.Int64())
		}
		updatedBalance, err := NewPoints(user.Balance.Int64() - totalCost.Int64())
		if err != nil {
			return WrapError(operationPlaceOrder, "balance", "negative", ErrInvalidBalance)
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, updatedBalance); err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		created, err := transactionStore.CreateOrder(ctx, Order{
			UserID:         userID,
			Status:         OrderPending,
			TotalCost:      totalCost,
			Items:          items,
			Remark:         remark,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		entryInput, err := NewEntryInput(
			userID,
			EntrySpend,
			totalCost.ToEntryPoints().Negated(),
			fmt.Sprintf("placed order, spent %d points", totalCost.Int64()),
			created.ID.String(),
			nowUnixUTC,
		)
		if err != nil {
			return err
		}
		if _, err := transactionStore.AppendEntry(ctx, entryInput); err != nil {
			return err
		}
		placed = created
		return nil
	})
	if operationError == nil {
		service.dispatchOrderPlaced(placed)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationPlaceOrder,
		UserID:    userID,
		OrderID:   placed.ID,
		Amount:    totalCost.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return placed, nil
}

// CancelOrder cancels a PENDING order, credits the user's balance by the
// order total, and appends the matching refund entry. COMPLETED and
// CANCELLED orders are immutable.
func (service *Service) CancelOrder(ctx context.Context, orderID OrderID) (Order, error) {
	var cancelled Order
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != OrderPending {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidStateTransition, orderID.String(), order.Status)
		}
		user, err := transactionStore.GetUserForUpdate(ctx, order.UserID)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateOrderStatus(ctx, orderID, OrderPending, OrderCancelled); err != nil {
			return err
		}
		updatedBalance, err := NewPoints(user.Balance.Int64() + order.TotalCost.Int64())
		if err != nil {
			return WrapError(operationCancelOrder, "balance", "invalid", err)
		}
		if err := transactionStore.UpdateUserBalance(ctx, order.UserID, updatedBalance); err != nil {
			return err
		}
		entryInput, err := NewEntryInput(
			order.UserID,
			EntryRefund,
			order.TotalCost.ToEntryPoints(),
			fmt.Sprintf("cancelled order, refunded %d points", order.TotalCost.Int64()),
			orderID.String(),
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		if _, err := transactionStore.AppendEntry(ctx, entryInput); err != nil {
			return err
		}
		cancelled = order
		cancelled.Status = OrderCancelled
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCancelOrder,
		UserID:    cancelled.UserID,
		OrderID:   orderID,
		Amount:    cancelled.TotalCost.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return cancelled, nil
}

// RewardPoints credits a user's balance and appends the matching reward
// entry. Chef-gated.
func (service *Service) RewardPoints(ctx context.Context, operatorID UserID, userID UserID, amount PositivePoints, description string) (User, LedgerEntry, error) {
	if description == "" {
		description = fmt.Sprintf("operator reward of %d points", amount.Int64())
	}
	user, entry, err := service.movePoints(ctx, operationRewardPoints, operatorID, userID, EntryReward, amount, description)
	service.logOperation(ctx, OperationLog{
		Operation:  operationRewardPoints,
		UserID:     userID,
		OperatorID: operatorID,
		Amount:     amount.Int64(),
		Error:      err,
	})
	return user, entry, err
}

// DeductPoints debits a user's balance and appends the matching deduct entry.
// Chef-gated; fails without writes when the balance cannot cover the amount.
func (service *Service) DeductPoints(ctx context.Context, operatorID UserID, userID UserID, amount PositivePoints, description string) (User, LedgerEntry, error) {
	if description == "" {
		description = fmt.Sprintf("operator deduction of %d points", amount.Int64())
	}
	user, entry, err := service.movePoints(ctx, operationDeductPoints, operatorID, userID, EntryDeduct, amount, description)
	service.logOperation(ctx, OperationLog{
		Operation:  operationDeductPoints,
		UserID:     userID,
		OperatorID: operatorID,
		Amount:     amount.Int64(),
		Error:      err,
	})
	return user, entry, err
}

func (service *Service) movePoints(ctx context.Context, operation string, operatorID UserID, userID UserID, kind EntryKind, amount PositivePoints, description string) (User, LedgerEntry, error) {
	if err := service.gate.RequireChef(ctx, operatorID); err != nil {
		return User{}, LedgerEntry{}, err
	}
	var (
		updatedUser User
		entry       LedgerEntry
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		entryAmount := amount.ToEntryPoints()
		if kind.Debit() {
			if user.Balance.Int64() < amount.Int64() {
				return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, user.Balance.Int64(), amount.Int64())
			}
			entryAmount = entryAmount.Negated()
		}
		updatedBalance, err := NewPoints(user.Balance.Int64() + entryAmount.Int64())
		if err != nil {
			return WrapError(operation, "balance", "invalid", err)
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, updatedBalance); err != nil {
			return err
		}
		entryInput, err := NewEntryInput(userID, kind, entryAmount, description, "", service.nowFn())
		if err != nil {
			return err
		}
		appended, err := transactionStore.AppendEntry(ctx, entryInput)
		if err != nil {
			return err
		}
		updatedUser = user
		updatedUser.Balance = updatedBalance
		entry = appended
		return nil
	})
	if operationError != nil {
		return User{}, LedgerEntry{}, operationError
	}
	return updatedUser, entry, nil
}

func (service *Service) dispatchOrderPlaced(order Order) {
	if service.notifier == nil {
		return
	}
	summary := OrderSummary{
		OrderID:   order.ID,
		UserID:    order.UserID,
		TotalCost: order.TotalCost,
		Items:     order.Items,
		Remark:    order.Remark,
	}
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := service.notifier.NotifyOrderPlaced(notifyCtx, summary); err != nil {
			service.logOperation(notifyCtx, OperationLog{
				Operation: operationNotify,
				UserID:    order.UserID,
				OrderID:   order.ID,
				Error:     err,
			})
		}
	}()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
