package canteen

import "fmt"

// OrderStatus defines the order lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted},
	OrderCompleted:  nil,
	OrderCancelled:  nil,
}

// ParseOrderStatus validates a stored status value.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if _, known := allowedTransitions[status]; !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
	}
	return status, nil
}

// String returns the stored status value.
func (status OrderStatus) String() string {
	return string(status)
}

// CanTransitionTo reports whether the lifecycle permits moving to the target.
func (status OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range allowedTransitions[status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (status OrderStatus) Terminal() bool {
	return len(allowedTransitions[status]) == 0
}
