package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/canteen/pkg/canteen"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUsersPrimary = "users_pkey"
	pgUniqueViolationCode  = "23505"
	sqliteConstraintCode   = 19
	postgresDialectorName  = "postgres"
	errorOperationStore    = "store"
	errorSubjectUser       = "user"
	errorSubjectOrder      = "order"
	errorSubjectEntry      = "entry"
	errorSubjectBalance    = "balance"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeSum           = "sum"
	errorCodeUpdateBalance = "update_balance"
	errorCodeUpdateRole    = "update_role"
	errorCodeUpdateStatus  = "update_status"
)

// Store implements canteen.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Order{}, &LedgerEntry{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore canteen.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateUser(ctx context.Context, user canteen.User) (canteen.User, error) {
	model := User{
		UserID:    user.ID.String(),
		Nickname:  user.Nickname,
		Balance:   user.Balance.Int64(),
		Role:      user.Role.String(),
		CreatedAt: time.Unix(user.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() || user.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUserConflict(err) {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeDuplicate, canteen.ErrUserExists)
	}
	if err != nil {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	created, err := mapUser(model)
	if err != nil {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetUser(ctx context.Context, userID canteen.UserID) (canteen.User, error) {
	return store.getUser(ctx, userID, false)
}

// GetUserForUpdate locks the user row for the remainder of the transaction,
// serializing concurrent balance operations on the same user.
func (store *Store) GetUserForUpdate(ctx context.Context, userID canteen.UserID) (canteen.User, error) {
	return store.getUser(ctx, userID, true)
}

func (store *Store) getUser(ctx context.Context, userID canteen.UserID, forUpdate bool) (canteen.User, error) {
	var model User
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = store.withRowLock(query)
	}
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, canteen.ErrUserNotFound)
		}
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	user, err := mapUser(model)
	if err != nil {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return user, nil
}

func (store *Store) UpdateUserBalance(ctx context.Context, userID canteen.UserID, balance canteen.Points) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		Update("balance", balance.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdateBalance, canteen.ErrUserNotFound)
	}
	return nil
}

func (store *Store) SetUserRole(ctx context.Context, userID canteen.UserID, role canteen.Role) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		Update("role", role.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateRole, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateRole, canteen.ErrUserNotFound)
	}
	return nil
}

func (store *Store) ListUsers(ctx context.Context) ([]canteen.User, error) {
	var rows []User
	err := store.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	users := make([]canteen.User, 0, len(rows))
	for _, row := range rows {
		user, err := mapUser(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
		}
		users = append(users, user)
	}
	return users, nil
}

func (store *Store) CreateOrder(ctx context.Context, order canteen.Order) (canteen.Order, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	var remark *string
	if order.Remark != "" {
		value := order.Remark
		remark = &value
	}
	model := Order{
		OrderID:   order.ID.String(),
		UserID:    order.UserID.String(),
		Status:    order.Status.String(),
		TotalCost: order.TotalCost.Int64(),
		Items:     datatypes.JSON(itemsJSON),
		Remark:    remark,
		CreatedAt: time.Unix(order.CreatedUnixUTC, 0).UTC(),
	}
	if order.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	created, err := mapOrder(model)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return created, nil
}

// GetOrderForUpdate locks the order row so a concurrent cancel and advance
// cannot both read PENDING.
func (store *Store) GetOrderForUpdate(ctx context.Context, orderID canteen.OrderID) (canteen.Order, error) {
	var model Order
	err := store.withRowLock(store.db.WithContext(ctx)).
		Where("order_id = ?", orderID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, canteen.ErrOrderNotFound)
		}
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapOrder(model)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *Store) UpdateOrderStatus(ctx context.Context, orderID canteen.OrderID, from, to canteen.OrderStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, canteen.ErrInvalidStateTransition)
	}
	return nil
}

func (store *Store) ListOrders(ctx context.Context, userID canteen.UserID) ([]canteen.Order, error) {
	var rows []Order
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return mapOrders(rows)
}

func (store *Store) ListAllOrders(ctx context.Context) ([]canteen.Order, error) {
	var rows []Order
	err := store.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return mapOrders(rows)
}

func (store *Store) AppendEntry(ctx context.Context, entry canteen.EntryInput) (canteen.LedgerEntry, error) {
	var relatedOrderID *string
	if entry.RelatedOrderID() != "" {
		value := entry.RelatedOrderID()
		relatedOrderID = &value
	}
	model := LedgerEntry{
		UserID:         entry.UserID().String(),
		Amount:         entry.Amount().Int64(),
		Kind:           entry.Kind().String(),
		Description:    entry.Description(),
		RelatedOrderID: relatedOrderID,
		CreatedAt:      time.Unix(entry.CreatedUnixUTC(), 0).UTC(),
	}
	if entry.CreatedUnixUTC() == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return canteen.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	appended, err := mapLedgerEntry(model)
	if err != nil {
		return canteen.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return appended, nil
}

func (store *Store) SumEntries(ctx context.Context, userID canteen.UserID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("user_id = ?", userID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) ListEntries(ctx context.Context, userID canteen.UserID, limit int) ([]canteen.LedgerEntry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]canteen.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// withRowLock adds FOR UPDATE on postgres. SQLite has no row locks; its
// single-writer transaction model already serializes the update.
func (store *Store) withRowLock(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == postgresDialectorName {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func wrapStoreError(subject string, code string, err error) error {
	return canteen.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapUser(model User) (canteen.User, error) {
	userID, err := canteen.NewUserID(model.UserID)
	if err != nil {
		return canteen.User{}, err
	}
	balance, err := canteen.NewPoints(model.Balance)
	if err != nil {
		return canteen.User{}, err
	}
	role, err := canteen.ParseRole(model.Role)
	if err != nil {
		return canteen.User{}, err
	}
	return canteen.User{
		ID:             userID,
		Nickname:       model.Nickname,
		Balance:        balance,
		Role:           role,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapOrders(rows []Order) ([]canteen.Order, error) {
	orders := make([]canteen.Order, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func mapOrder(model Order) (canteen.Order, error) {
	orderID, err := canteen.NewOrderID(model.OrderID)
	if err != nil {
		return canteen.Order{}, err
	}
	userID, err := canteen.NewUserID(model.UserID)
	if err != nil {
		return canteen.Order{}, err
	}
	status, err := canteen.ParseOrderStatus(model.Status)
	if err != nil {
		return canteen.Order{}, err
	}
	totalCost, err := canteen.NewPositivePoints(model.TotalCost)
	if err != nil {
		return canteen.Order{}, err
	}
	var items []canteen.LineItem
	if err := json.Unmarshal([]byte(model.Items), &items); err != nil {
		return canteen.Order{}, err
	}
	remark := ""
	if model.Remark != nil {
		remark = *model.Remark
	}
	return canteen.Order{
		ID:             orderID,
		UserID:         userID,
		Status:         status,
		TotalCost:      totalCost,
		Items:          items,
		Remark:         remark,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(model LedgerEntry) (canteen.LedgerEntry, error) {
	userID, err := canteen.NewUserID(model.UserID)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	amount, err := canteen.NewEntryPoints(model.Amount)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	kind, err := canteen.ParseEntryKind(model.Kind)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	relatedOrderID := ""
	if model.RelatedOrderID != nil {
		relatedOrderID = *model.RelatedOrderID
	}
	return canteen.LedgerEntry{
		ID:             model.EntryID,
		UserID:         userID,
		Amount:         amount,
		Kind:           kind,
		Description:    model.Description,
		RelatedOrderID: relatedOrderID,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func isUserConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUsersPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
