package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/deepnoodle-ai/recon/state"
)

// Dialect selects the SQL flavour of a database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var schemas = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS bank_statements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'UNMATCHED'
		)`,
		`CREATE TABLE IF NOT EXISTS reconciled_transactions (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			item_id INTEGER,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			flags TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			name TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS bank_statements (
			id BIGSERIAL PRIMARY KEY,
			description TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			status TEXT NOT NULL DEFAULT 'UNMATCHED'
		)`,
		`CREATE TABLE IF NOT EXISTS reconciled_transactions (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			item_id BIGINT,
			description TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			flags TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			name TEXT PRIMARY KEY,
			position BIGINT NOT NULL
		)`,
	},
}

// SQL is a ledger stored in a relational database.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

var _ Gateway = (*SQL)(nil)

// OpenSQLite opens (creating if needed) a ledger database file.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	return newSQL(ctx, db, DialectSQLite)
}

// OpenPostgres connects to a PostgreSQL ledger.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("connect", err)
	}
	return newSQL(ctx, db, DialectPostgres)
}

func newSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	l := &SQL{db: db, dialect: dialect}
	for _, stmt := range schemas[dialect] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
	}
	return l, nil
}

// Close closes the database
func (l *SQL) Close() error {
	return l.db.Close()
}

// rebind rewrites ? placeholders as $1..$n for PostgreSQL.
func (l *SQL) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AddItem inserts an unresolved bank line and returns it with its ID.
func (l *SQL) AddItem(ctx context.Context, description string, amount decimal.Decimal) (state.Item, error) {
	item := state.Item{Description: description, Amount: amount}
	q := l.rebind(`INSERT INTO bank_statements (description, amount, status) VALUES (?, ?, ?) RETURNING id`)
	if err := l.db.QueryRowContext(ctx, q, description, amount.String(), StatusUnmatched).Scan(&item.ID); err != nil {
		return state.Item{}, unavailable("add item", err)
	}
	return item, nil
}

// AddCategory appends a category to the vocabulary if not already present.
func (l *SQL) AddCategory(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("category name is required")
	}
	q := l.rebind(`INSERT INTO categories (name, position)
		SELECT ?, COALESCE(MAX(position), 0) + 1 FROM categories WHERE true
		ON CONFLICT (name) DO NOTHING`)
	if _, err := l.db.ExecContext(ctx, q, name); err != nil {
		return unavailable("add category", err)
	}
	return nil
}

func (l *SQL) ListUnresolved(ctx context.Context) ([]state.Item, error) {
	q := l.rebind(`SELECT id, description, amount FROM bank_statements WHERE status = ? ORDER BY id ASC`)
	rows, err := l.db.QueryContext(ctx, q, StatusUnmatched)
	if err != nil {
		return nil, unavailable("list unresolved", err)
	}
	defer rows.Close()

	items := []state.Item{}
	for rows.Next() {
		var item state.Item
		if err := rows.Scan(&item.ID, &item.Description, &item.Amount); err != nil {
			return nil, unavailable("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list unresolved", err)
	}
	return items, nil
}

func (l *SQL) RecordOutcome(ctx context.Context, record Record) error {
	if err := prepare(&record); err != nil {
		return err
	}
	var itemID sql.NullInt64
	if record.ItemID != 0 {
		itemID = sql.NullInt64{Int64: record.ItemID, Valid: true}
	}
	var createdAt any = record.CreatedAt
	if l.dialect == DialectSQLite {
		createdAt = record.CreatedAt.Format(time.RFC3339Nano)
	}
	q := l.rebind(`INSERT INTO reconciled_transactions
		(id, key, item_id, description, amount, category, status, flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`)
	_, err := l.db.ExecContext(ctx, q,
		record.ID,
		record.Key,
		itemID,
		record.Description,
		record.Amount.String(),
		record.Category,
		record.Status,
		strings.Join(record.Flags, ","),
		createdAt,
	)
	if err != nil {
		return unavailable("record outcome", err)
	}
	return nil
}

func (l *SQL) UpdateStatus(ctx context.Context, item state.Item, status string) error {
	var (
		res sql.Result
		err error
	)
	if item.ID != 0 {
		res, err = l.db.ExecContext(ctx, l.rebind(`UPDATE bank_statements SET status = ? WHERE id = ?`), status, item.ID)
	} else {
		res, err = l.db.ExecContext(ctx, l.rebind(`UPDATE bank_statements SET status = ?
			WHERE id = (SELECT MIN(id) FROM bank_statements WHERE description = ? AND status = ?)`),
			status, item.Description, StatusUnmatched)
	}
	if err != nil {
		return unavailable("update status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger item %d (%q) not found", item.ID, item.Description)
	}
	return nil
}

func (l *SQL) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY position ASC, name ASC`)
	if err != nil {
		return nil, unavailable("list categories", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("scan category", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list categories", err)
	}
	return names, nil
}

// Records returns the reconciled-transaction journal, oldest first. Record
// IDs are time ordered.
func (l *SQL) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, key, item_id, description, amount, category, status, flags, created_at
		FROM reconciled_transactions ORDER BY id ASC`)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			itemID    sql.NullInt64
			flags     string
			createdAt any
		)
		if err := rows.Scan(&r.ID, &r.Key, &itemID, &r.Description, &r.Amount, &r.Category, &r.Status, &flags, &createdAt); err != nil {
			return nil, unavailable("scan record", err)
		}
		r.ItemID = itemID.Int64
		if flags != "" {
			r.Flags = strings.Split(flags, ",")
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list records", err)
	}
	return records, nil
}

// Status returns the status of an item.
func (l *SQL) Status(ctx context.Context, id int64) (string, error) {
	var status string
	err := l.db.QueryRowContext(ctx, l.rebind(`SELECT status FROM bank_statements WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ledger item %d not found", id)
	}
	if err != nil {
		return "", unavailable("status", err)
	}
	return status, nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
}
