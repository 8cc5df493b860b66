/*
Package sqlite provides a SQLite-backed implementation of inventory.TxStore.

PURPOSE:
  Durable store for products, deposits, the append-only ledger, reserve
  entries and per-pair positions. The same queries run directly on the
  database or inside a WithTx unit of work.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE on inventory_entries
  - inventory_reserve_entries is only deleted by exact value match
  - deposit_products is the only table updated in place

KEY TABLES:
  products, deposits:        Catalog, unique by sku / name
  inventory_entries:         IN / OUT / BALANCE ledger
  inventory_reserve_entries: Reservations
  deposit_products:          One position per (deposit, product)

TIME STORAGE:
  Times are stored as fixed-width UTC text (nanosecond precision), so string
  comparison in SQL is chronological comparison.

CONCURRENCY:
  The pool is limited to one connection. Units of work are therefore
  serialized; a unit of work holds the connection from BEGIN to COMMIT.
  SQLITE_BUSY / SQLITE_LOCKED are reported as inventory.ErrConcurrentUpdate.

MIGRATION:
  Schema is applied on New() by goose from the embedded migrations/ FS.

USAGE:
  store, err := sqlite.New(ctx, "./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/store/sqlite/migrations"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// Store implements inventory.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ inventory.TxStore = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Stores) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and the transactional view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// Entries

func (s *queries) AppendEntry(ctx context.Context, e inventory.Entry) (inventory.EntryID, error) {
	query := `
		INSERT INTO inventory_entries
		(operation_id, type, quantity, effective_at, recorded_at, product_id, deposit_id, counterparty_deposit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var counterparty sql.NullInt64
	if e.CounterpartyDepositID != nil {
		counterparty = sql.NullInt64{Int64: int64(*e.CounterpartyDepositID), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, query,
		e.OperationID,
		string(e.Type),
		e.Quantity,
		formatTime(e.EffectiveAt),
		formatTime(e.RecordedAt),
		int64(e.ProductID),
		int64(e.DepositID),
		counterparty,
	)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to append entry: %w", err))
	}
	id, err := res.LastInsertId()
	return inventory.EntryID(id), err
}

func (s *queries) HasBalanceOnOrAfter(ctx context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	return s.hasBalance(ctx, ">=", p, d, at)
}

func (s *queries) HasBalanceAfter(ctx context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	return s.hasBalance(ctx, ">", p, d, at)
}

func (s *queries) hasBalance(ctx context.Context, op string, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM inventory_entries
			WHERE product_id = ? AND deposit_id = ? AND type = 'BALANCE'
			  AND effective_at ` + op + ` ?
		)
	`
	var exists bool
	if err := s.q.QueryRowContext(ctx, query, int64(p), int64(d), formatTime(at)).Scan(&exists); err != nil {
		return false, mapError(fmt.Errorf("failed to check balances: %w", err))
	}
	return exists, nil
}

func (s *queries) ListEntries(ctx context.Context, f inventory.EntryFilter) ([]inventory.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, int64(f.ProductID))
	}
	if f.DepositID != 0 {
		where = append(where, "deposit_id = ?")
		args = append(args, int64(f.DepositID))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}

	query := `
		SELECT id, operation_id, type, quantity, effective_at, recorded_at,
		       product_id, deposit_id, counterparty_deposit_id
		FROM inventory_entries
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY effective_at ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query entries: %w", err))
	}
	defer rows.Close()

	var entries []inventory.Entry
	for rows.Next() {
		var (
			e            inventory.Entry
			typ          string
			effectiveAt  string
			recordedAt   string
			counterparty sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OperationID, &typ, &e.Quantity, &effectiveAt, &recordedAt,
			&e.ProductID, &e.DepositID, &counterparty); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Type = inventory.EntryType(typ)
		if e.EffectiveAt, err = parseTime(effectiveAt); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		if counterparty.Valid {
			cp := inventory.DepositID(counterparty.Int64)
			e.CounterpartyDepositID = &cp
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reserves

func (s *queries) AppendReserve(ctx context.Context, r inventory.ReserveEntry) (inventory.EntryID, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO inventory_reserve_entries
		(operation_id, effective_at, recorded_at, product_id, deposit_id, quantity)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.OperationID, formatTime(r.EffectiveAt), formatTime(r.RecordedAt), int64(r.ProductID), int64(r.DepositID), r.Quantity)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to append reserve entry: %w", err))
	}
	id, err := res.LastInsertId()
	return inventory.EntryID(id), err
}

func (s *queries) DeleteReserves(ctx context.Context, key inventory.ReserveKey) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM inventory_reserve_entries
		WHERE effective_at = ? AND product_id = ? AND deposit_id = ? AND quantity = ?
	`, formatTime(key.EffectiveAt), int64(key.ProductID), int64(key.DepositID), key.Quantity)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to delete reserve entries: %w", err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *queries) ListReserves(ctx context.Context, p inventory.ProductID, d inventory.DepositID) ([]inventory.ReserveEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, operation_id, effective_at, recorded_at, product_id, deposit_id, quantity
		FROM inventory_reserve_entries
		WHERE product_id = ? AND deposit_id = ?
		ORDER BY effective_at ASC, id ASC
	`, int64(p), int64(d))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query reserve entries: %w", err))
	}
	defer rows.Close()

	var reserves []inventory.ReserveEntry
	for rows.Next() {
		var (
			r                       inventory.ReserveEntry
			effectiveAt, recordedAt string
		)
		if err := rows.Scan(&r.ID, &r.OperationID, &effectiveAt, &recordedAt, &r.ProductID, &r.DepositID, &r.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan reserve entry: %w", err)
		}
		if r.EffectiveAt, err = parseTime(effectiveAt); err != nil {
			return nil, err
		}
		if r.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		reserves = append(reserves, r)
	}
	return reserves, rows.Err()
}

// Positions

const positionColumns = "id, deposit_id, product_id, soh, reserved, available, min, desired"

func (s *queries) GetPosition(ctx context.Context, d inventory.DepositID, p inventory.ProductID) (inventory.Position, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+positionColumns+" FROM deposit_products WHERE deposit_id = ? AND product_id = ?",
		int64(d), int64(p),
	)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.NewPosition(d, p), nil
	}
	if err != nil {
		return inventory.Position{}, mapError(fmt.Errorf("failed to get position: %w", err))
	}
	return pos, nil
}

func (s *queries) UpsertPosition(ctx context.Context, p inventory.Position) (inventory.Position, error) {
	query := `
		INSERT INTO deposit_products (deposit_id, product_id, soh, reserved, available, min, desired)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deposit_id, product_id) DO UPDATE SET
			soh = excluded.soh,
			reserved = excluded.reserved,
			available = excluded.available,
			min = excluded.min,
			desired = excluded.desired
		RETURNING id
	`
	var desired sql.NullInt64
	if p.Desired != nil {
		desired = sql.NullInt64{Int64: int64(*p.Desired), Valid: true}
	}

	err := s.q.QueryRowContext(ctx, query,
		int64(p.DepositID), int64(p.ProductID), p.OnHand, p.Reserved, p.Available, p.Min, desired,
	).Scan(&p.ID)
	if err != nil {
		return inventory.Position{}, mapError(fmt.Errorf("failed to upsert position: %w", err))
	}
	return p, nil
}

func (s *queries) ListPositions(ctx context.Context, f inventory.PositionFilter) ([]inventory.Position, error) {
	var (
		where []string
		args  []any
	)
	if f.DepositID != 0 {
		where = append(where, "deposit_id = ?")
		args = append(args, int64(f.DepositID))
	}
	if f.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, int64(f.ProductID))
	}
	query := "SELECT " + positionColumns + " FROM deposit_products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query positions: %w", err))
	}
	defer rows.Close()

	var positions []inventory.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (inventory.Position, error) {
	var (
		p       inventory.Position
		desired sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.DepositID, &p.ProductID, &p.OnHand, &p.Reserved, &p.Available, &p.Min, &desired); err != nil {
		return inventory.Position{}, err
	}
	if desired.Valid {
		d := int(desired.Int64)
		p.Desired = &d
	}
	return p, nil
}

// Catalog

func (s *queries) ProductBySKU(ctx context.Context, sku string) (inventory.Product, error) {
	var p inventory.Product
	err := s.q.QueryRowContext(ctx, "SELECT id, sku, name FROM products WHERE sku = ?", sku).
		Scan(&p.ID, &p.SKU, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Product{}, inventory.ProductNotFound(sku)
	}
	if err != nil {
		return inventory.Product{}, mapError(fmt.Errorf("failed to get product: %w", err))
	}
	return p, nil
}

func (s *queries) DepositByName(ctx context.Context, name string) (inventory.Deposit, error) {
	var d inventory.Deposit
	err := s.q.QueryRowContext(ctx, "SELECT id, name FROM deposits WHERE name = ?", name).
		Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Deposit{}, inventory.DepositNotFound(name)
	}
	if err != nil {
		return inventory.Deposit{}, mapError(fmt.Errorf("failed to get deposit: %w", err))
	}
	return d, nil
}

func (s *queries) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	res, err := s.q.ExecContext(ctx, "INSERT INTO products (sku, name) VALUES (?, ?)", p.SKU, p.Name)
	if err != nil {
		return inventory.Product{}, mapError(fmt.Errorf("failed to create product: %w", err))
	}
	id, err := res.LastInsertId()
	p.ID = inventory.ProductID(id)
	return p, err
}

func (s *queries) CreateDeposit(ctx context.Context, d inventory.Deposit) (inventory.Deposit, error) {
	res, err := s.q.ExecContext(ctx, "INSERT INTO deposits (name) VALUES (?)", d.Name)
	if err != nil {
		return inventory.Deposit{}, mapError(fmt.Errorf("failed to create deposit: %w", err))
	}
	id, err := res.LastInsertId()
	d.ID = inventory.DepositID(id)
	return d, err
}

func (s *queries) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, sku, name FROM products ORDER BY sku")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var products []inventory.Product
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *queries) ListDeposits(ctx context.Context) ([]inventory.Deposit, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, name FROM deposits ORDER BY name")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var deposits []inventory.Deposit
	for rows.Next() {
		var d inventory.Deposit
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (s *queries) CountProducts(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM products")
}

func (s *queries) CountDeposits(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM deposits")
}

func (s *queries) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

// mapError translates driver errors into inventory sentinels.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %v", inventory.ErrDuplicate, err)
	case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", inventory.ErrConcurrentUpdate, err)
	}
	return err
}
