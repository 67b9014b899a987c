package canteen

import (
	"context"
	"fmt"
	"strings"
)

// Points is a non-negative point total (a user's cached balance).
type Points int64

// PositivePoints is a strictly positive operation amount.
type PositivePoints int64

// EntryPoints is a signed, non-zero ledger entry amount.
type EntryPoints int64

// UserID identifies a user account.
type UserID struct {
	value string
}

// OrderID identifies an order.
type OrderID struct {
	value string
}

// Role is the closed set of user capabilities.
type Role string

const (
	RoleDiner Role = "diner"
	RoleChef  Role = "chef"
)

// EntryKind enumerates ledger entry reasons.
type EntryKind string

const (
	EntrySpend  EntryKind = "spend"
	EntryRefund EntryKind = "refund"
	EntryReward EntryKind = "reward"
	EntryDeduct EntryKind = "deduct"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// NewPoints validates a non-negative point total.
func NewPoints(raw int64) (Points, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// Int64 returns the raw point total.
func (points Points) Int64() int64 {
	return int64(points)
}

// NewPositivePoints validates a strictly positive amount.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return PositivePoints(raw), nil
}

// Int64 returns the raw amount.
func (amount PositivePoints) Int64() int64 {
	return int64(amount)
}

// ToPoints converts the amount into a point total.
func (amount PositivePoints) ToPoints() Points {
	return Points(amount)
}

// ToEntryPoints converts the amount into a positive ledger amount.
func (amount PositivePoints) ToEntryPoints() EntryPoints {
	return EntryPoints(amount)
}

// NewEntryPoints validates a signed, non-zero ledger amount.
func NewEntryPoints(raw int64) (EntryPoints, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidEntryPoints)
	}
	return EntryPoints(raw), nil
}

// Int64 returns the signed amount.
func (amount EntryPoints) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign of the amount.
func (amount EntryPoints) Negated() EntryPoints {
	return -amount
}

// ParseRole validates a stored role value.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleDiner, RoleChef:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

// String returns the stored role value.
func (role Role) String() string {
	return string(role)
}

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntrySpend, EntryRefund, EntryReward, EntryDeduct:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the stored kind value.
func (kind EntryKind) String() string {
	return string(kind)
}

// Debit reports whether entries of this kind carry negative amounts.
func (kind EntryKind) Debit() bool {
	return kind == EntrySpend || kind == EntryDeduct
}

// LineItem is one dish position inside an order, captured at order time.
type LineItem struct {
	DishID    string `json:"dish_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

// NewLineItem validates a dish position.
func NewLineItem(dishID string, name string, unitPrice int64, quantity int64) (LineItem, error) {
	trimmedDishID := strings.TrimSpace(dishID)
	if trimmedDishID == "" {
		return LineItem{}, fmt.Errorf("%w: empty dish id", ErrInvalidLineItem)
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return LineItem{}, fmt.Errorf("%w: empty dish name", ErrInvalidLineItem)
	}
	if unitPrice <= 0 {
		return LineItem{}, fmt.Errorf("%w: unit price must be greater than zero", ErrInvalidLineItem)
	}
	if quantity <= 0 {
		return LineItem{}, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidLineItem)
	}
	return LineItem{
		DishID:    trimmedDishID,
		Name:      trimmedName,
		UnitPrice: unitPrice,
		Quantity:  quantity,
	}, nil
}

// Cost returns unit price times quantity.
func (item LineItem) Cost() int64 {
	return item.UnitPrice * item.Quantity
}

// TotalCost sums the line items of an order. The order must not be empty.
func TotalCost(items []LineItem) (PositivePoints, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: at least one line item required", ErrEmptyOrder)
	}
	var sum int64
	for _, item := range items {
		validated, err := NewLineItem(item.DishID, item.Name, item.UnitPrice, item.Quantity)
		if err != nil {
			return 0, err
		}
		sum += validated.Cost()
	}
	return NewPositivePoints(sum)
}

// User is a stored account with its cached, ledger-derived balance.
type User struct {
	ID             UserID
	Nickname       string
	Balance        Points
	Role           Role
	CreatedUnixUTC int64
}

// Order is a set of dish line items tracked through a status lifecycle.
type Order struct {
	ID             OrderID
	UserID         UserID
	Status         OrderStatus
	TotalCost      PositivePoints
	Items          []LineItem
	Remark         string
	CreatedUnixUTC int64
}

// LedgerEntry is a single immutable line in the points ledger.
type LedgerEntry struct {
	ID             string
	UserID         UserID
	Amount         EntryPoints
	Kind           EntryKind
	Description    string
	RelatedOrderID string
	CreatedUnixUTC int64
}

// EntryInput is a validated ledger entry awaiting its store-assigned id.
type EntryInput struct {
	userID         UserID
	kind           EntryKind
	amount         EntryPoints
	description    string
	relatedOrderID string
	createdUnixUTC int64
}

// NewEntryInput validates a pending ledger entry. The amount sign must match
// the kind: spend and deduct debit the balance, refund and reward credit it.
func NewEntryInput(userID UserID, kind EntryKind, amount EntryPoints, description string, relatedOrderID string, createdUnixUTC int64) (EntryInput, error) {
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	if kind.Debit() && amount.Int64() >= 0 {
		return EntryInput{}, fmt.Errorf("%w: %s entries must be negative", ErrInvalidEntryPoints, kind)
	}
	if !kind.Debit() && amount.Int64() <= 0 {
		return EntryInput{}, fmt.Errorf("%w: %s entries must be positive", ErrInvalidEntryPoints, kind)
	}
	return EntryInput{
		userID:         userID,
		kind:           kind,
		amount:         amount,
		description:    strings.TrimSpace(description),
		relatedOrderID: strings.TrimSpace(relatedOrderID),
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// UserID returns the owning user.
func (input EntryInput) UserID() UserID {
	return input.userID
}

// Kind returns the entry reason.
func (input EntryInput) Kind() EntryKind {
	return input.kind
}

// Amount returns the signed amount.
func (input EntryInput) Amount() EntryPoints {
	return input.amount
}

// Description returns the human-readable reason text.
func (input EntryInput) Description() string {
	return input.description
}

// RelatedOrderID returns the referenced order id, empty when none.
func (input EntryInput) RelatedOrderID() string {
	return input.relatedOrderID
}

// CreatedUnixUTC returns the creation timestamp.
func (input EntryInput) CreatedUnixUTC() int64 {
	return input.createdUnixUTC
}

// ReconcileReport describes the outcome of a defensive balance recomputation.
type ReconcileReport struct {
	UserID        UserID
	CachedBalance Points
	LedgerBalance Points
	Repaired      bool
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic and must serialize the ForUpdate reads against
// concurrent transactions touching the same row.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, userID UserID) (User, error)
	GetUserForUpdate(ctx context.Context, userID UserID) (User, error)
	UpdateUserBalance(ctx context.Context, userID UserID, balance Points) error
	SetUserRole(ctx context.Context, userID UserID, role Role) error
	ListUsers(ctx context.Context) ([]User, error)
	CreateOrder(ctx context.Context, order Order) (Order, error)
	GetOrderForUpdate(ctx context.Context, orderID OrderID) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderID OrderID, from, to OrderStatus) error
	ListOrders(ctx context.Context, userID UserID) ([]Order, error)
	ListAllOrders(ctx context.Context) ([]Order, error)
	AppendEntry(ctx context.Context, entry EntryInput) (LedgerEntry, error)
	SumEntries(ctx context.Context, userID UserID) (int64, error)
	ListEntries(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error)
}
