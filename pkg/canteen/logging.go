package canteen

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing canteen operation.
type OperationLog struct {
	Operation  string
	UserID     UserID
	OperatorID UserID
	OrderID    OrderID
	Amount     int64
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithOrderNotifier wires the fire-and-forget order-placed notifier.
func WithOrderNotifier(notifier OrderNotifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}
