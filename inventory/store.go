/*
store.go - Persistence contracts consumed by the engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  only needs existence checks, appends and a get-or-default/upsert pair on
  positions; everything else is for the read side and the seed.

KEY INTERFACES:
  EntryStore:    Append-only IN/OUT/BALANCE log
  ReserveStore:  Reservation log, deletable by exact value match
  PositionStore: One mutable row per (deposit, product)
  CatalogStore:  Product by SKU, deposit by name
  TxStore:       All of the above plus an atomic unit of work

APPEND-ONLY CONTRACT:
  EntryStore has no update or delete. ReserveStore only deletes through
  DeleteReserves, which the engine pairs with a position update inside the
  same unit of work.

IMPLEMENTATIONS:
  - inventory/store/memory.go: In-memory, snapshot + rollback
  - store/sqlite/sqlite.go:     SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via pgx, row locks per pair
*/
package inventory

import (
	"context"
	"time"
)

// EntryStore persists ledger entries. APPEND-ONLY.
type EntryStore interface {
	// AppendEntry persists e and returns its generated ID.
	AppendEntry(ctx context.Context, e Entry) (EntryID, error)

	// HasBalanceOnOrAfter reports whether a BALANCE entry exists for the
	// pair with EffectiveAt >= at.
	HasBalanceOnOrAfter(ctx context.Context, product ProductID, deposit DepositID, at time.Time) (bool, error)

	// HasBalanceAfter is the strict variant: EffectiveAt > at.
	HasBalanceAfter(ctx context.Context, product ProductID, deposit DepositID, at time.Time) (bool, error)

	// ListEntries returns matching entries ordered by EffectiveAt, then ID.
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// ReserveStore persists reservation entries.
type ReserveStore interface {
	AppendReserve(ctx context.Context, r ReserveEntry) (EntryID, error)

	// DeleteReserves removes every entry matching key and returns how many
	// were removed.
	DeleteReserves(ctx context.Context, key ReserveKey) (int, error)

	ListReserves(ctx context.Context, product ProductID, deposit DepositID) ([]ReserveEntry, error)
}

// PositionStore persists the per-pair aggregate.
type PositionStore interface {
	// GetPosition returns the stored row, or NewPosition(deposit, product)
	// when none exists. The default row is not persisted.
	GetPosition(ctx context.Context, deposit DepositID, product ProductID) (Position, error)

	// UpsertPosition inserts or replaces the row for p's pair and returns
	// it with its ID populated.
	UpsertPosition(ctx context.Context, p Position) (Position, error)

	ListPositions(ctx context.Context, filter PositionFilter) ([]Position, error)
}

// CatalogStore resolves products and deposits. Lookups are exact match and
// return a ReferenceNotFoundError on miss.
type CatalogStore interface {
	ProductBySKU(ctx context.Context, sku string) (Product, error)
	DepositByName(ctx context.Context, name string) (Deposit, error)

	CreateProduct(ctx context.Context, p Product) (Product, error)
	CreateDeposit(ctx context.Context, d Deposit) (Deposit, error)

	ListProducts(ctx context.Context) ([]Product, error)
	ListDeposits(ctx context.Context) ([]Deposit, error)

	CountProducts(ctx context.Context) (int, error)
	CountDeposits(ctx context.Context) (int, error)
}

// Stores is everything the engine reads or writes within one unit of work.
type Stores interface {
	EntryStore
	ReserveStore
	PositionStore
	CatalogStore
}

// TxStore wraps Stores with transaction support.
type TxStore interface {
	Stores

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the view is discarded.
	// If fn returns nil, all of them are committed together.
	WithTx(ctx context.Context, fn func(Stores) error) error
}
