package canteen

import (
	"context"
	"errors"
	"fmt"
)

// Gate confirms a caller holds the required role before a privileged
// operation reaches the coordinator.
type Gate struct {
	store Store
}

// NewGate wires a Gate over a Store.
func NewGate(store Store) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Gate{store: store}, nil
}

// RequireChef resolves the operator and checks the chef role.
func (gate *Gate) RequireChef(ctx context.Context, operatorID UserID) error {
	operator, err := gate.store.GetUser(ctx, operatorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("%w: %s", ErrOperatorNotFound, operatorID.String())
		}
		return err
	}
	if operator.Role != RoleChef {
		return fmt.Errorf("%w: operator %s has role %s", ErrForbidden, operatorID.String(), operator.Role)
	}
	return nil
}
