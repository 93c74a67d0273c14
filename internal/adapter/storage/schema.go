package storage

import (
	"context"
	"fmt"
	"strings"
)

// schema is applied statement by statement; the driver does not enable
// multiStatements. The accounts table uses a case-insensitive collation, so
// the unique keys on email and token ignore case.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		auth_token    VARCHAR(64)  NULL,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_accounts_email (email),
		UNIQUE KEY uq_accounts_auth_token (auth_token)
	) DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_general_ci`,
	`CREATE TABLE IF NOT EXISTS items (
		id         CHAR(36)       NOT NULL PRIMARY KEY,
		account_id CHAR(36)       NOT NULL,
		title      VARCHAR(255)   NOT NULL,
		price      DECIMAL(12, 2) NOT NULL,
		quantity   INT            NOT NULL DEFAULT 0,
		published  BOOLEAN        NOT NULL DEFAULT FALSE,
		created_at DATETIME(6)    NOT NULL,
		updated_at DATETIME(6)    NOT NULL,
		KEY idx_items_account (account_id),
		CONSTRAINT fk_items_account FOREIGN KEY (account_id) REFERENCES accounts (id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         CHAR(36)    NOT NULL PRIMARY KEY,
		account_id CHAR(36)    NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_orders_account (account_id, created_at),
		CONSTRAINT fk_orders_account FOREIGN KEY (account_id) REFERENCES accounts (id)
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id         CHAR(36)    NOT NULL PRIMARY KEY,
		order_id   CHAR(36)    NOT NULL,
		item_id    CHAR(36)    NOT NULL,
		quantity   INT         NOT NULL,
		position   INT         NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_line_items_order (order_id, position),
		CONSTRAINT fk_line_items_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE
	)`,
}

// InitSchema creates the tables if they do not exist.
func (m *MySQLAdapter) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			name := strings.Fields(stmt)[5]
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}
