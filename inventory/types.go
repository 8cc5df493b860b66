/*
Package inventory provides the stock ledger and position projection engine.

PURPOSE:
  Every stock movement for a (product, deposit) pair is appended to an
  immutable log of entries. A single mutable Position per pair holds the
  current on-hand, reserved and available quantities. The Engine decides,
  for every movement, whether the Position must be updated or whether a
  later BALANCE snapshot already accounts for it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product, Deposit: catalog references, resolved by SKU and by name
  - Entry: an immutable IN / OUT / BALANCE movement
  - ReserveEntry: a reservation against future fulfillment
  - Position: the per-pair aggregate (on-hand, reserved, available)

ORDERING:
  Supersession decisions compare EffectiveAt (business time supplied by the
  caller), never RecordedAt (system time of insertion).

SEE ALSO:
  - engine.go: The six mutating operations
  - store.go: Persistence contracts consumed by the engine
*/
package inventory

import (
	"fmt"
	"time"
)

// =============================================================================
// CATALOG
// =============================================================================

type ProductID int64
type DepositID int64
type EntryID int64

// Product is identified by its SKU. Name is descriptive only.
type Product struct {
	ID   ProductID
	SKU  string
	Name string
}

// Deposit is a physical or logical stock location, identified by name.
type Deposit struct {
	ID   DepositID
	Name string
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type EntryType string

const (
	EntryIn      EntryType = "IN"
	EntryOut     EntryType = "OUT"
	EntryBalance EntryType = "BALANCE"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryIn, EntryOut, EntryBalance:
		return true
	}
	return false
}

// Entry is one immutable movement. IN/OUT quantities are magnitudes,
// BALANCE quantities are absolute levels.
type Entry struct {
	ID          EntryID
	OperationID string // shared by all entries appended by one engine call
	Type        EntryType
	Quantity    int
	EffectiveAt time.Time
	RecordedAt  time.Time
	ProductID   ProductID
	DepositID   DepositID

	// CounterpartyDepositID is set only on transfer legs and points at the
	// other side of the movement.
	CounterpartyDepositID *DepositID
}

func (e Entry) IsTransferLeg() bool { return e.CounterpartyDepositID != nil }

func (e Entry) String() string {
	return fmt.Sprintf("%s %d product=%d deposit=%d at %s",
		e.Type, e.Quantity, e.ProductID, e.DepositID, e.EffectiveAt.Format(time.RFC3339))
}

// ReserveEntry earmarks quantity for future fulfillment.
type ReserveEntry struct {
	ID          EntryID
	OperationID string
	EffectiveAt time.Time
	RecordedAt  time.Time
	ProductID   ProductID
	DepositID   DepositID
	Quantity    int
}

// ReserveKey matches reserve entries by value. Every entry whose four
// fields are equal to the key matches, regardless of identity.
type ReserveKey struct {
	EffectiveAt time.Time
	ProductID   ProductID
	DepositID   DepositID
	Quantity    int
}

func (r ReserveEntry) Key() ReserveKey {
	return ReserveKey{EffectiveAt: r.EffectiveAt, ProductID: r.ProductID, DepositID: r.DepositID, Quantity: r.Quantity}
}

// Matches reports whether r has the same four-tuple as k.
func (k ReserveKey) Matches(r ReserveEntry) bool {
	return r.EffectiveAt.Equal(k.EffectiveAt) &&
		r.ProductID == k.ProductID &&
		r.DepositID == k.DepositID &&
		r.Quantity == k.Quantity
}

// =============================================================================
// POSITION - Aggregate per (deposit, product)
// =============================================================================

// Position is the mutable aggregate for one (deposit, product) pair.
// After every engine mutation Available == OnHand - Reserved, except for
// the default balance projection (see BalanceOverwritesAvailable in
// options.go).
type Position struct {
	ID        int64 // zero until persisted
	DepositID DepositID
	ProductID ProductID
	OnHand    int
	Reserved  int
	Available int
	Min       int
	Desired   *int
}

// NewPosition returns the zero row used when a pair has no position yet.
func NewPosition(deposit DepositID, product ProductID) Position {
	return Position{DepositID: deposit, ProductID: product, Min: -1}
}

// SameAs reports whether two handles refer to the same persisted row.
func (p Position) SameAs(other Position) bool {
	return p.ID != 0 && p.ID == other.ID
}

func (p Position) Persisted() bool { return p.ID != 0 }

// Consistent reports whether the available invariant holds.
func (p Position) Consistent() bool { return p.Available == p.OnHand-p.Reserved }

func (p *Position) recompute() { p.Available = p.OnHand - p.Reserved }

// PairKey identifies a position.
type PairKey struct {
	DepositID DepositID
	ProductID ProductID
}

func (p Position) Key() PairKey { return PairKey{DepositID: p.DepositID, ProductID: p.ProductID} }

// =============================================================================
// QUERY FILTERS
// =============================================================================

// EntryFilter narrows ListEntries. Zero fields are ignored.
type EntryFilter struct {
	ProductID ProductID
	DepositID DepositID
	Type      EntryType
}

func (f EntryFilter) Match(e Entry) bool {
	if f.ProductID != 0 && e.ProductID != f.ProductID {
		return false
	}
	if f.DepositID != 0 && e.DepositID != f.DepositID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// PositionFilter narrows ListPositions. Zero fields are ignored.
type PositionFilter struct {
	ProductID ProductID
	DepositID DepositID
}

func (f PositionFilter) Match(p Position) bool {
	if f.ProductID != 0 && p.ProductID != f.ProductID {
		return false
	}
	if f.DepositID != 0 && p.DepositID != f.DepositID {
		return false
	}
	return true
}
