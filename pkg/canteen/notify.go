package canteen

import "context"

// OrderSummary is the payload handed to the notification collaborator after
// an order commits.
type OrderSummary struct {
	OrderID   OrderID
	UserID    UserID
	TotalCost PositivePoints
	Items     []LineItem
	Remark    string
}

// OrderNotifier delivers an order-placed notice. Calls are fire-and-forget:
// a failure is logged and never affects the committed order.
type OrderNotifier interface {
	NotifyOrderPlaced(ctx context.Context, summary OrderSummary) error
}
