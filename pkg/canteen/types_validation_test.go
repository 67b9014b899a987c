package canteen

import (
	"errors"
	"testing"
)

func TestNewUserIDRejectsBlank(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "   "} {
		if _, err := NewUserID(raw); !errors.Is(err, ErrInvalidUserID) {
			test.Fatalf("expected ErrInvalidUserID for %q, got %v", raw, err)
		}
	}
	userID := mustUserID(test, "  abc  ")
	if userID.String() != "abc" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
}

func TestNewPointsRejectsNegative(test *testing.T) {
	test.Parallel()
	if _, err := NewPoints(-1); !errors.Is(err, ErrInvalidPoints) {
		test.Fatalf("expected ErrInvalidPoints, got %v", err)
	}
	if points, err := NewPoints(0); err != nil || points.Int64() != 0 {
		test.Fatalf("zero must be a valid balance, got %v %d", err, points.Int64())
	}
}

func TestNewPositivePointsRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -5} {
		if _, err := NewPositivePoints(raw); !errors.Is(err, ErrInvalidPoints) {
			test.Fatalf("expected ErrInvalidPoints for %d, got %v", raw, err)
		}
	}
}

func TestNewEntryPointsRejectsZero(test *testing.T) {
	test.Parallel()
	if _, err := NewEntryPoints(0); !errors.Is(err, ErrInvalidEntryPoints) {
		test.Fatalf("expected ErrInvalidEntryPoints, got %v", err)
	}
	amount, err := NewEntryPoints(-40)
	if err != nil {
		test.Fatalf("entry points: %v", err)
	}
	if amount.Negated().Int64() != 40 {
		test.Fatalf("expected negation to 40, got %d", amount.Negated().Int64())
	}
}

func TestNewLineItemValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		dishID    string
		dishName  string
		unitPrice int64
		quantity  int64
		wantErr   error
	}{
		{name: "empty dish id", dishID: " ", dishName: "Rice", unitPrice: 10, quantity: 1, wantErr: ErrInvalidLineItem},
		{name: "empty name", dishID: "dish-1", dishName: "", unitPrice: 10, quantity: 1, wantErr: ErrInvalidLineItem},
		{name: "zero price", dishID: "dish-1", dishName: "Rice", unitPrice: 0, quantity: 1, wantErr: ErrInvalidLineItem},
		{name: "negative price", dishID: "dish-1", dishName: "Rice", unitPrice: -3, quantity: 1, wantErr: ErrInvalidLineItem},
		{name: "zero quantity", dishID: "dish-1", dishName: "Rice", unitPrice: 10, quantity: 0, wantErr: ErrInvalidLineItem},
		{name: "valid", dishID: "dish-1", dishName: "Rice", unitPrice: 10, quantity: 2, wantErr: nil},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			item, err := NewLineItem(testCase.dishID, testCase.dishName, testCase.unitPrice, testCase.quantity)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if item.Cost() != testCase.unitPrice*testCase.quantity {
				test.Fatalf("unexpected cost %d", item.Cost())
			}
		})
	}
}

func TestTotalCostSumsItems(test *testing.T) {
	test.Parallel()
	items := []LineItem{
		mustLineItem(test, "dish-1", "Rice", 10, 2),
		mustLineItem(test, "dish-2", "Tofu", 15, 1),
	}
	total, err := TotalCost(items)
	if err != nil {
		test.Fatalf("total cost: %v", err)
	}
	if total.Int64() != 35 {
		test.Fatalf("expected 35, got %d", total.Int64())
	}
	if _, err := TotalCost(nil); !errors.Is(err, ErrEmptyOrder) {
		test.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
	if _, err := TotalCost([]LineItem{{DishID: "dish-1", Name: "Rice", UnitPrice: -1, Quantity: 1}}); !errors.Is(err, ErrInvalidLineItem) {
		test.Fatalf("expected ErrInvalidLineItem, got %v", err)
	}
}

func TestParseRoleAndEntryKind(test *testing.T) {
	test.Parallel()
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalidRole) {
		test.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if role, err := ParseRole("chef"); err != nil || role != RoleChef {
		test.Fatalf("expected chef role, got %v %v", role, err)
	}
	if _, err := ParseEntryKind("bonus"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf("expected ErrInvalidEntryKind, got %v", err)
	}
	for _, kind := range []EntryKind{EntrySpend, EntryDeduct} {
		if !kind.Debit() {
			test.Fatalf("expected %s to debit", kind)
		}
	}
	for _, kind := range []EntryKind{EntryRefund, EntryReward} {
		if kind.Debit() {
			test.Fatalf("expected %s to credit", kind)
		}
	}
}

func TestNewEntryInputEnforcesSignByKind(test *testing.T) {
	test.Parallel()
	userID := mustUserID(test, "user-1")
	debit, err := NewEntryPoints(-10)
	if err != nil {
		test.Fatalf("entry points: %v", err)
	}
	credit := debit.Negated()

	testCases := []struct {
		name    string
		kind    EntryKind
		amount  EntryPoints
		wantErr error
	}{
		{name: "spend must be negative", kind: EntrySpend, amount: credit, wantErr: ErrInvalidEntryPoints},
		{name: "deduct must be negative", kind: EntryDeduct, amount: credit, wantErr: ErrInvalidEntryPoints},
		{name: "refund must be positive", kind: EntryRefund, amount: debit, wantErr: ErrInvalidEntryPoints},
		{name: "reward must be positive", kind: EntryReward, amount: debit, wantErr: ErrInvalidEntryPoints},
		{name: "unknown kind", kind: EntryKind("bonus"), amount: credit, wantErr: ErrInvalidEntryKind},
		{name: "valid spend", kind: EntrySpend, amount: debit, wantErr: nil},
		{name: "valid reward", kind: EntryReward, amount: credit, wantErr: nil},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			input, err := NewEntryInput(userID, testCase.kind, testCase.amount, "  reason  ", "  order-9  ", 100)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if input.Description() != "reason" || input.RelatedOrderID() != "order-9" {
				test.Fatalf("expected trimmed fields, got %q %q", input.Description(), input.RelatedOrderID())
			}
		})
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	store := newStubStore(test)
	if _, err := NewService(store, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}
