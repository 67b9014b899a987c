package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/canteen/pkg/canteen"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Coordinator is the slice of the domain service the facade depends on.
type Coordinator interface {
	PlaceOrder(ctx context.Context, userID canteen.UserID, items []canteen.LineItem, remark string) (canteen.Order, error)
	CancelOrder(ctx context.Context, orderID canteen.OrderID) (canteen.Order, error)
	AdvanceOrder(ctx context.Context, orderID canteen.OrderID, target canteen.OrderStatus) (canteen.Order, error)
	RewardPoints(ctx context.Context, operatorID canteen.UserID, userID canteen.UserID, amount canteen.PositivePoints, description string) (canteen.User, canteen.LedgerEntry, error)
	DeductPoints(ctx context.Context, operatorID canteen.UserID, userID canteen.UserID, amount canteen.PositivePoints, description string) (canteen.User, canteen.LedgerEntry, error)
	Balance(ctx context.Context, userID canteen.UserID) (canteen.User, error)
	History(ctx context.Context, userID canteen.UserID, limit int) ([]canteen.LedgerEntry, error)
	Orders(ctx context.Context, userID canteen.UserID) ([]canteen.Order, error)
	AllOrders(ctx context.Context, operatorID canteen.UserID) ([]canteen.Order, error)
	Users(ctx context.Context, operatorID canteen.UserID) ([]canteen.User, error)
	CreateUser(ctx context.Context, operatorID canteen.UserID, nickname string, role canteen.Role) (canteen.User, error)
	AssignRole(ctx context.Context, operatorID canteen.UserID, userID canteen.UserID, role canteen.Role) (canteen.User, error)
	Reconcile(ctx context.Context, operatorID canteen.UserID, userID canteen.UserID) (canteen.ReconcileReport, error)
}

// Run boots the HTTP facade and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, coordinator Coordinator, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler := &httpHandler{
		logger:      logger,
		coordinator: coordinator,
		cfg:         cfg,
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("canteen api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	api.POST("/orders", handler.handlePlaceOrder)
	api.GET("/orders/all", handler.handleAllOrders)
	api.GET("/orders/:id", handler.handleUserOrders)
	api.PUT("/orders/:id/status", handler.handleAdvanceOrder)
	api.DELETE("/orders/:id", handler.handleCancelOrder)

	api.POST("/points/reward", handler.handleReward)
	api.POST("/points/deduct", handler.handleDeduct)
	api.GET("/points/balance/:userId", handler.handleBalance)
	api.GET("/points/history/:userId", handler.handleHistory)

	api.GET("/users", handler.handleListUsers)
	api.POST("/users", handler.handleCreateUser)
	api.PUT("/users/:id/role", handler.handleAssignRole)

	api.POST("/admin/reconcile", handler.handleReconcile)

	return router
}

type httpHandler struct {
	logger      *zap.Logger
	coordinator Coordinator
	cfg         Config
}

func (handler *httpHandler) handlePlaceOrder(ctx *gin.Context) {
	var request placeOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := canteen.NewUserID(request.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	if len(request.Items) > maxRequestItems {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "too many line items"))
		return
	}
	items := make([]canteen.LineItem, 0, len(request.Items))
	for _, payload := range request.Items {
		item, err := canteen.NewLineItem(payload.DishID, payload.Name, payload.UnitPrice, payload.Quantity)
		if err != nil {
			handler.respondDomainError(ctx, err)
			return
		}
		items = append(items, item)
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.coordinator.PlaceOrder(requestCtx, userID, items, request.Remark)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"order": orderToPayload(order)})
}

func (handler *httpHandler) handleCancelOrder(ctx *gin.Context) {
	orderID, err := canteen.NewOrderID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.coordinator.CancelOrder(requestCtx, orderID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": orderToPayload(order)})
}

func (handler *httpHandler) handleAdvanceOrder(ctx *gin.Context) {
	orderID, err := canteen.NewOrderID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	var request advanceOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	target, err := canteen.ParseOrderStatus(request.Status)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.coordinator.AdvanceOrder(requestCtx, orderID, target)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": orderToPayload(order)})
}

func (handler *httpHandler) handleUserOrders(ctx *gin.Context) {
	userID, err := canteen.NewUserID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	orders, err := handler.coordinator.Orders(requestCtx, userID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": ordersToPayload(orders)})
}

func (handler *httpHandler) handleAllOrders(ctx *gin.Context) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	orders, err := handler.coordinator.AllOrders(requestCtx, operatorID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": ordersToPayload(orders)})
}

func (handler *httpHandler) handleReward(ctx *gin.Context) {
	handler.handlePointsMove(ctx, handler.coordinator.RewardPoints)
}

func (handler *httpHandler) handleDeduct(ctx *gin.Context) {
	handler.handlePointsMove(ctx, handler.coordinator.DeductPoints)
}

type pointsMoveFn func(ctx context.Context, operatorID canteen.UserID, userID canteen.UserID, amount canteen.PositivePoints, description string) (canteen.User, canteen.LedgerEntry, error)

func (handler *httpHandler) handlePointsMove(ctx *gin.Context, move pointsMoveFn) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	var request pointsMoveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := canteen.NewUserID(request.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	amount, err := canteen.NewPositivePoints(request.Amount)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, entry, err := move(requestCtx, operatorID, userID, amount, request.Description)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user":  userToPayload(user),
		"entry": entryToPayload(entry),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, err := canteen.NewUserID(ctx.Param("userId"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, err := handler.coordinator.Balance(requestCtx, userID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, err := canteen.NewUserID(ctx.Param("userId"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	limit := defaultHistoryLimitParam
	if raw := ctx.Query("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "limit must be an integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.coordinator.History(requestCtx, userID, limit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryToPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) handleListUsers(ctx *gin.Context) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	users, err := handler.coordinator.Users(requestCtx, operatorID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for _, user := range users {
		payload = append(payload, userToPayload(user))
	}
	ctx.JSON(http.StatusOK, gin.H{"users": payload})
}

func (handler *httpHandler) handleCreateUser(ctx *gin.Context) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	var request createUserRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	role := canteen.RoleDiner
	if request.Role != "" {
		parsed, parseErr := canteen.ParseRole(request.Role)
		if parseErr != nil {
			handler.respondDomainError(ctx, parseErr)
			return
		}
		role = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, err := handler.coordinator.CreateUser(requestCtx, operatorID, request.Nickname, role)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"user": userToPayload(user)})
}

func (handler *httpHandler) handleAssignRole(ctx *gin.Context) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	userID, err := canteen.NewUserID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	var request assignRoleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	role, err := canteen.ParseRole(request.Role)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	user, err := handler.coordinator.AssignRole(requestCtx, operatorID, userID, role)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": userToPayload(user)})
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	operatorID, ok := handler.operatorID(ctx)
	if !ok {
		return
	}
	var request reconcileRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := canteen.NewUserID(request.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.coordinator.Reconcile(requestCtx, operatorID, userID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"userId":        report.UserID.String(),
		"cachedBalance": report.CachedBalance.Int64(),
		"ledgerBalance": report.LedgerBalance.Int64(),
		"repaired":      report.Repaired,
	})
}

func (handler *httpHandler) operatorID(ctx *gin.Context) (canteen.UserID, bool) {
	operatorID, err := canteen.NewUserID(ctx.Query(operatorQueryParameterName))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "operatorUserId is required"))
		return canteen.UserID{}, false
	}
	return operatorID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondDomainError(ctx *gin.Context, err error) {
	status, code := classifyDomainError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, canteen.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, canteen.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, canteen.ErrOperatorNotFound):
		return http.StatusNotFound, "operator_not_found"
	case errors.Is(err, canteen.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, canteen.ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, canteen.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, canteen.ErrInvalidStateTransition):
		return http.StatusUnprocessableEntity, "invalid_state_transition"
	case errors.Is(err, canteen.ErrInvalidUserID),
		errors.Is(err, canteen.ErrInvalidOrderID),
		errors.Is(err, canteen.ErrInvalidPoints),
		errors.Is(err, canteen.ErrInvalidLineItem),
		errors.Is(err, canteen.ErrEmptyOrder),
		errors.Is(err, canteen.ErrInvalidRole),
		errors.Is(err, canteen.ErrInvalidOrderStatus):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type placeOrderRequest struct {
	UserID string            `json:"userId"`
	Items  []lineItemPayload `json:"items"`
	Remark string            `json:"remark"`
}

type lineItemPayload struct {
	DishID    string `json:"dishId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

type advanceOrderRequest struct {
	Status string `json:"status"`
}

type pointsMoveRequest struct {
	UserID      string `json:"userId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type createUserRequest struct {
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type reconcileRequest struct {
	UserID string `json:"userId"`
}

type userPayload struct {
	UserID         string `json:"id"`
	Nickname       string `json:"nickname"`
	Balance        int64  `json:"balance"`
	Role           string `json:"role"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}

type orderPayload struct {
	OrderID        string            `json:"id"`
	UserID         string            `json:"userId"`
	Status         string            `json:"status"`
	TotalCost      int64             `json:"totalCost"`
	Items          []lineItemPayload `json:"items"`
	Remark         string            `json:"remark,omitempty"`
	CreatedUnixUTC int64             `json:"createdUnixUtc"`
}

type entryPayload struct {
	EntryID        string `json:"id"`
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind"`
	Description    string `json:"description"`
	RelatedOrderID string `json:"relatedOrderId,omitempty"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}

func userToPayload(user canteen.User) userPayload {
	return userPayload{
		UserID:         user.ID.String(),
		Nickname:       user.Nickname,
		Balance:        user.Balance.Int64(),
		Role:           user.Role.String(),
		CreatedUnixUTC: user.CreatedUnixUTC,
	}
}

func orderToPayload(order canteen.Order) orderPayload {
	items := make([]lineItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemPayload{
			DishID:    item.DishID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return orderPayload{
		OrderID:        order.ID.String(),
		UserID:         order.UserID.String(),
		Status:         order.Status.String(),
		TotalCost:      order.TotalCost.Int64(),
		Items:          items,
		Remark:         order.Remark,
		CreatedUnixUTC: order.CreatedUnixUTC,
	}
}

func ordersToPayload(orders []canteen.Order) []orderPayload {
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, orderToPayload(order))
	}
	return payload
}

func entryToPayload(entry canteen.LedgerEntry) entryPayload {
	return entryPayload{
		EntryID:        entry.ID,
		UserID:         entry.UserID.String(),
		Amount:         entry.Amount.Int64(),
		Kind:           entry.Kind.String(),
		Description:    entry.Description,
		RelatedOrderID: entry.RelatedOrderID,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}
