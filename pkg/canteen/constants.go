package canteen

import "time"

const (
	operationPlaceOrder   = "place_order"
	operationCancelOrder  = "cancel_order"
	operationRewardPoints = "reward_points"
	operationDeductPoints = "deduct_points"
	operationAdvanceOrder = "advance_order"
	operationCreateUser   = "create_user"
	operationAssignRole   = "assign_role"
	operationReconcile    = "reconcile"
	operationNotify       = "notify_order_placed"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	notifyTimeout = 5 * time.Second
)
