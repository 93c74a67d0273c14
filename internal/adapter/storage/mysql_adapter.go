package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	mysqlDuplicateEntry = 1062

	keyAccountEmail = "uq_accounts_email"
	keyAccountToken = "uq_accounts_auth_token"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// duplicateKey reports the unique key name a 1062 error was raised for.
func duplicateKey(err error) (string, bool) {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return "", false
	}
	for _, key := range []string{keyAccountEmail, keyAccountToken} {
		if strings.Contains(me.Message, key) {
			return key, true
		}
	}
	return "", true
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (m *MySQLAdapter) CreateAccount(ctx context.Context, acc domain.Account) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, auth_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		acc.ID, domain.NormalizeEmail(acc.Email), acc.PasswordHash, nullable(acc.AuthToken),
		acc.CreatedAt, acc.UpdatedAt,
	)
	if key, dup := duplicateKey(err); dup {
		if key == keyAccountToken {
			return domain.ErrTokenTaken
		}
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `id, email, password_hash, auth_token, created_at, updated_at`

func (m *MySQLAdapter) getAccountWhere(ctx context.Context, where string, arg any) (*domain.Account, error) {
	var (
		acc   domain.Account
		token sql.NullString
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, arg,
	).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &token, &acc.CreatedAt, &acc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	acc.AuthToken = token.String
	return &acc, nil
}

func (m *MySQLAdapter) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return m.getAccountWhere(ctx, "id = ?", id)
}

func (m *MySQLAdapter) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return m.getAccountWhere(ctx, "email = ?", domain.NormalizeEmail(email))
}

func (m *MySQLAdapter) GetAccountByToken(ctx context.Context, token string) (*domain.Account, error) {
	if token == "" {
		return nil, nil
	}
	return m.getAccountWhere(ctx, "auth_token = ?", token)
}

func (m *MySQLAdapter) SetAuthToken(ctx context.Context, accountID, token string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE accounts SET auth_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), accountID,
	)
	if _, dup := duplicateKey(err); dup {
		return domain.ErrTokenTaken
	}
	if err != nil {
		return fmt.Errorf("update auth token: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	return nil
}

const itemColumns = `id, account_id, title, price, quantity, published, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.ID, &item.AccountID, &item.Title, &item.Price, &item.Quantity,
		&item.Published, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AccountID, item.Title, item.Price, item.Quantity,
		item.Published, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) GetItems(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	out := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders(len(ids))+`)`, args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListItems(ctx context.Context, filter domain.ItemFilter, page domain.Page) ([]domain.InventoryItem, int, error) {
	page = page.Normalize()

	where := ""
	var filterArgs []any
	if len(filter.IDs) > 0 {
		where = ` WHERE id IN (` + placeholders(len(filter.IDs)) + `)`
		filterArgs = args(filter.IDs)
	}

	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`+where, filterArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items`+where+` ORDER BY created_at, id LIMIT ? OFFSET ?`,
		append(filterArgs, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []domain.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE items
		SET title = ?, price = ?, published = ?, updated_at = ?
		WHERE id = ?`,
		item.Title, item.Price, item.Published, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Entity: "inventory item", ID: item.ID}
	}
	return nil
}

func (m *MySQLAdapter) DeleteItem(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	return nil
}

// DecrementQuantity subtracts in a single statement so concurrent
// decrements of the same item cannot lose updates. No stock floor applies.
func (m *MySQLAdapter) DecrementQuantity(ctx context.Context, itemID string, by int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE items
		SET quantity = quantity - ?, updated_at = ?
		WHERE id = ?`,
		by, time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("decrement item quantity: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Entity: "inventory item", ID: itemID}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, created_at)
		VALUES (?, ?, ?)`,
		order.ID, order.AccountID, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	// share-lock the referenced items so none can be deleted before commit
	ids := order.ItemIDs()
	if len(ids) > 0 {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM items WHERE id IN (`+placeholders(len(ids))+`) LOCK IN SHARE MODE`, args(ids)...)
		if err != nil {
			return fmt.Errorf("lock items: %w", err)
		}
		found := make(map[string]bool, len(ids))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan item id: %w", err)
			}
			found[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("lock items: %w", err)
		}
		for _, id := range ids {
			if !found[id] {
				return &domain.NotFoundError{Entity: "inventory item", ID: id}
			}
		}
	}

	for i, li := range order.LineItems {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO line_items (id, order_id, item_id, quantity, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			li.ID, order.ID, li.ItemID, li.Quantity, i, li.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, account_id, created_at FROM orders WHERE id = ?`, id,
	).Scan(&order.ID, &order.AccountID, &order.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := m.lineItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.LineItems = lines[order.ID]
	return &order, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error) {
	page = page.Normalize()

	var total int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, account_id, created_at FROM orders
		WHERE account_id = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?`,
		accountID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	var ids []string
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.AccountID, &o.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}

	lines, err := m.lineItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].LineItems = lines[orders[i].ID]
	}
	return orders, total, nil
}

func (m *MySQLAdapter) lineItems(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	out := make(map[string][]domain.LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, quantity, created_at FROM line_items
		WHERE order_id IN (`+placeholders(len(orderIDs))+`)
		ORDER BY order_id, position`, args(orderIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.ItemID, &li.Quantity, &li.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out[li.OrderID] = append(out[li.OrderID], li)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
