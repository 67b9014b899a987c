package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/canteen/pkg/canteen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintUsersPrimary = "users_pkey"
	pgUniqueViolationCode  = "23505"
	errorOperationStore    = "store"
	errorSubjectUser       = "user"
	errorSubjectOrder      = "order"
	errorSubjectEntry      = "entry"
	errorSubjectBalance    = "balance"
	errorSubjectTx         = "transaction"
	errorCodeBegin         = "begin"
	errorCodeCommit        = "commit"
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

	sqlInsertUser = `
		insert into users(user_id, nickname, balance, role, created_at)
		values(coalesce(nullif($1,'')::uuid, gen_random_uuid()), $2, $3, $4, to_timestamp($5))
		returning user_id::text, extract(epoch from created_at)::bigint
	`

	sqlSelectUser = `
		select user_id::text, nickname, balance, role, extract(epoch from created_at)::bigint
		from users
		where user_id = $1
	`

	sqlSelectUserForUpdate = sqlSelectUser + ` for update`

	sqlUpdateUserBalance = `
		update users set balance = $2 where user_id = $1
	`

	sqlUpdateUserRole = `
		update users set role = $2 where user_id = $1
	`

	sqlListUsers = `
		select user_id::text, nickname, balance, role, extract(epoch from created_at)::bigint
		from users
		order by created_at asc
	`

	sqlInsertOrder = `
		insert into orders(order_id, user_id, status, total_cost, items, remark, created_at)
		values(gen_random_uuid(), $1, $2, $3, $4::jsonb, nullif($5,''), to_timestamp($6))
		returning order_id::text, extract(epoch from created_at)::bigint
	`

	sqlSelectOrderForUpdate = `
		select order_id::text, user_id::text, status, total_cost, items::text, coalesce(remark,''), extract(epoch from created_at)::bigint
		from orders
		where order_id = $1
		for update
	`

	sqlUpdateOrderStatus = `
		update orders set status = $3 where order_id = $1 and status = $2
	`

	sqlListOrders = `
		select order_id::text, user_id::text, status, total_cost, items::text, coalesce(remark,''), extract(epoch from created_at)::bigint
		from orders
		where user_id = $1
		order by created_at desc
	`

	sqlListAllOrders = `
		select order_id::text, user_id::text, status, total_cost, items::text, coalesce(remark,''), extract(epoch from created_at)::bigint
		from orders
		order by created_at desc
	`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, user_id, amount, kind, description, related_order_id, created_at)
		values(gen_random_uuid(), $1, $2, $3, $4, nullif($5,'')::uuid, to_timestamp($6))
		returning entry_id::text, extract(epoch from created_at)::bigint
	`

	sqlSumEntries = `
		select coalesce(sum(amount),0) from ledger_entries where user_id = $1
	`

	sqlListEntries = `
		select entry_id::text, user_id::text, amount, kind, description, coalesce(related_order_id::text,''), extract(epoch from created_at)::bigint
		from ledger_entries
		where user_id = $1
		order by created_at desc
		limit $2
	`
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements canteen.Store using a pgx connection pool. Inside WithTx
// every call runs on the transaction instead of the pool.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore canteen.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateUser(ctx context.Context, user canteen.User) (canteen.User, error) {
	var (
		userIDValue    string
		createdUnixUTC int64
	)
	err := store.db.QueryRow(ctx, sqlInsertUser,
		user.ID.String(),
		user.Nickname,
		user.Balance.Int64(),
		user.Role.String(),
		user.CreatedUnixUTC,
	).Scan(&userIDValue, &createdUnixUTC)
	if isUserConflict(err) {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeDuplicate, canteen.ErrUserExists)
	}
	if err != nil {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	userID, err := canteen.NewUserID(userIDValue)
	if err != nil {
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	created := user
	created.ID = userID
	created.CreatedUnixUTC = createdUnixUTC
	return created, nil
}

func (store *Store) GetUser(ctx context.Context, userID canteen.UserID) (canteen.User, error) {
	return store.getUser(ctx, sqlSelectUser, userID)
}

func (store *Store) GetUserForUpdate(ctx context.Context, userID canteen.UserID) (canteen.User, error) {
	return store.getUser(ctx, sqlSelectUserForUpdate, userID)
}

func (store *Store) getUser(ctx context.Context, query string, userID canteen.UserID) (canteen.User, error) {
	user, err := scanUser(store.db.QueryRow(ctx, query, userID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, canteen.ErrUserNotFound)
		}
		return canteen.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return user, nil
}

func (store *Store) UpdateUserBalance(ctx context.Context, userID canteen.UserID, balance canteen.Points) error {
	tag, err := store.db.Exec(ctx, sqlUpdateUserBalance, userID.String(), balance.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdateBalance, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdateBalance, canteen.ErrUserNotFound)
	}
	return nil
}

func (store *Store) SetUserRole(ctx context.Context, userID canteen.UserID, role canteen.Role) error {
	tag, err := store.db.Exec(ctx, sqlUpdateUserRole, userID.String(), role.String())
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateRole, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateRole, canteen.ErrUserNotFound)
	}
	return nil
}

func (store *Store) ListUsers(ctx context.Context) ([]canteen.User, error) {
	rows, err := store.db.Query(ctx, sqlListUsers)
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	defer rows.Close()
	users := make([]canteen.User, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	return users, nil
}

func (store *Store) CreateOrder(ctx context.Context, order canteen.Order) (canteen.Order, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	var (
		orderIDValue   string
		createdUnixUTC int64
	)
	err = store.db.QueryRow(ctx, sqlInsertOrder,
		order.UserID.String(),
		order.Status.String(),
		order.TotalCost.Int64(),
		string(itemsJSON),
		order.Remark,
		order.CreatedUnixUTC,
	).Scan(&orderIDValue, &createdUnixUTC)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	orderID, err := canteen.NewOrderID(orderIDValue)
	if err != nil {
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	created := order
	created.ID = orderID
	created.CreatedUnixUTC = createdUnixUTC
	return created, nil
}

func (store *Store) GetOrderForUpdate(ctx context.Context, orderID canteen.OrderID) (canteen.Order, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlSelectOrderForUpdate, orderID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, canteen.ErrOrderNotFound)
		}
		return canteen.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

func (store *Store) UpdateOrderStatus(ctx context.Context, orderID canteen.OrderID, from, to canteen.OrderStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateOrderStatus, orderID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, canteen.ErrInvalidStateTransition)
	}
	return nil
}

func (store *Store) ListOrders(ctx context.Context, userID canteen.UserID) ([]canteen.Order, error) {
	rows, err := store.db.Query(ctx, sqlListOrders, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (store *Store) ListAllOrders(ctx context.Context) ([]canteen.Order, error) {
	rows, err := store.db.Query(ctx, sqlListAllOrders)
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (store *Store) AppendEntry(ctx context.Context, entry canteen.EntryInput) (canteen.LedgerEntry, error) {
	var (
		entryIDValue   string
		createdUnixUTC int64
	)
	err := store.db.QueryRow(ctx, sqlInsertEntry,
		entry.UserID().String(),
		entry.Amount().Int64(),
		entry.Kind().String(),
		entry.Description(),
		entry.RelatedOrderID(),
		entry.CreatedUnixUTC(),
	).Scan(&entryIDValue, &createdUnixUTC)
	if err != nil {
		return canteen.LedgerEntry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return canteen.LedgerEntry{
		ID:             entryIDValue,
		UserID:         entry.UserID(),
		Amount:         entry.Amount(),
		Kind:           entry.Kind(),
		Description:    entry.Description(),
		RelatedOrderID: entry.RelatedOrderID(),
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func (store *Store) SumEntries(ctx context.Context, userID canteen.UserID) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumEntries, userID.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func (store *Store) ListEntries(ctx context.Context, userID canteen.UserID, limit int) ([]canteen.LedgerEntry, error) {
	rows, err := store.db.Query(ctx, sqlListEntries, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]canteen.LedgerEntry, 0, 32)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanUser(row pgx.Row) (canteen.User, error) {
	var (
		userIDValue    string
		nickname       string
		balanceValue   int64
		roleValue      string
		createdUnixUTC int64
	)
	if err := row.Scan(&userIDValue, &nickname, &balanceValue, &roleValue, &createdUnixUTC); err != nil {
		return canteen.User{}, err
	}
	userID, err := canteen.NewUserID(userIDValue)
	if err != nil {
		return canteen.User{}, err
	}
	balance, err := canteen.NewPoints(balanceValue)
	if err != nil {
		return canteen.User{}, err
	}
	role, err := canteen.ParseRole(roleValue)
	if err != nil {
		return canteen.User{}, err
	}
	return canteen.User{
		ID:             userID,
		Nickname:       nickname,
		Balance:        balance,
		Role:           role,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func scanOrder(row pgx.Row) (canteen.Order, error) {
	var (
		orderIDValue   string
		userIDValue    string
		statusValue    string
		totalCostValue int64
		itemsValue     string
		remark         string
		createdUnixUTC int64
	)
	if err := row.Scan(&orderIDValue, &userIDValue, &statusValue, &totalCostValue, &itemsValue, &remark, &createdUnixUTC); err != nil {
		return canteen.Order{}, err
	}
	orderID, err := canteen.NewOrderID(orderIDValue)
	if err != nil {
		return canteen.Order{}, err
	}
	userID, err := canteen.NewUserID(userIDValue)
	if err != nil {
		return canteen.Order{}, err
	}
	status, err := canteen.ParseOrderStatus(statusValue)
	if err != nil {
		return canteen.Order{}, err
	}
	totalCost, err := canteen.NewPositivePoints(totalCostValue)
	if err != nil {
		return canteen.Order{}, err
	}
	var items []canteen.LineItem
	if err := json.Unmarshal([]byte(itemsValue), &items); err != nil {
		return canteen.Order{}, err
	}
	return canteen.Order{
		ID:             orderID,
		UserID:         userID,
		Status:         status,
		TotalCost:      totalCost,
		Items:          items,
		Remark:         remark,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func scanEntry(row pgx.Row) (canteen.LedgerEntry, error) {
	var (
		entryIDValue   string
		userIDValue    string
		amountValue    int64
		kindValue      string
		description    string
		relatedOrderID string
		createdUnixUTC int64
	)
	if err := row.Scan(&entryIDValue, &userIDValue, &amountValue, &kindValue, &description, &relatedOrderID, &createdUnixUTC); err != nil {
		return canteen.LedgerEntry{}, err
	}
	userID, err := canteen.NewUserID(userIDValue)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	amount, err := canteen.NewEntryPoints(amountValue)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	kind, err := canteen.ParseEntryKind(kindValue)
	if err != nil {
		return canteen.LedgerEntry{}, err
	}
	return canteen.LedgerEntry{
		ID:             entryIDValue,
		UserID:         userID,
		Amount:         amount,
		Kind:           kind,
		Description:    description,
		RelatedOrderID: relatedOrderID,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func collectOrders(rows pgx.Rows) ([]canteen.Order, error) {
	orders := make([]canteen.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return canteen.WrapError(errorOperationStore, subject, code, err)
}

func isUserConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUsersPrimary
	}
	return false
}
