/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types carry
  numeric IDs; DTOs carry SKUs and deposit names so clients never need to
  resolve IDs themselves.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

DATES:
  Request dates use dd/MM/yyyy HH:mm:ss in the server's configured time
  zone. Response effective dates use the same layout; recorded_at is RFC 3339.

QUANTITIES:
  Accepted as a JSON number or string ("10", 10, 10.0). Fractional values
  are rejected with 400.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// CATALOG
// =============================================================================

type ProductDTO struct {
	ID   int64  `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type DepositDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type CreateProductRequest struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type CreateDepositRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementRequest is the body of add, remove, rebalance, reserve and release.
type MovementRequest struct {
	Date     string           `json:"date"`
	SKU      string           `json:"sku"`
	Deposit  string           `json:"deposit"`
	Quantity *decimal.Decimal `json:"quantity"`
}

type TransferRequest struct {
	Date        string           `json:"date"`
	SKU         string           `json:"sku"`
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	Quantity    *decimal.Decimal `json:"quantity"`
}

type EntryDTO struct {
	ID           int64   `json:"id"`
	OperationID  string  `json:"operation_id"`
	Type         string  `json:"type"`
	Quantity     int     `json:"quantity"`
	EffectiveAt  string  `json:"effective_at"`
	RecordedAt   string  `json:"recorded_at"`
	SKU          string  `json:"sku"`
	Deposit      string  `json:"deposit"`
	Counterparty *string `json:"counterparty,omitempty"`
}

type ReserveEntryDTO struct {
	ID          int64  `json:"id"`
	OperationID string `json:"operation_id"`
	Quantity    int    `json:"quantity"`
	EffectiveAt string `json:"effective_at"`
	RecordedAt  string `json:"recorded_at"`
	SKU         string `json:"sku"`
	Deposit     string `json:"deposit"`
}

type PositionDTO struct {
	ID        int64  `json:"id,omitempty"`
	SKU       string `json:"sku"`
	Deposit   string `json:"deposit"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	Min       int    `json:"min"`
	Desired   *int   `json:"desired"`
}

// OutcomeDTO is one appended entry and the resulting position.
type OutcomeDTO struct {
	Entry     EntryDTO    `json:"entry"`
	Projected bool        `json:"projected"`
	Position  PositionDTO `json:"position"`
}

type TransferOutcomeDTO struct {
	Out OutcomeDTO `json:"out"`
	In  OutcomeDTO `json:"in"`
}

type ReserveOutcomeDTO struct {
	Entry    ReserveEntryDTO `json:"entry"`
	Position PositionDTO     `json:"position"`
}

type ReleaseOutcomeDTO struct {
	Deleted  int         `json:"deleted"`
	Position PositionDTO `json:"position"`
}

// =============================================================================
// MISC
// =============================================================================

type InitResponse struct {
	Seeded  bool   `json:"seeded"`
	Message string `json:"message"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e inventory.Entry, idx inventory.CatalogIndex, loc *time.Location) EntryDTO {
	dto := EntryDTO{
		ID:          int64(e.ID),
		OperationID: e.OperationID,
		Type:        string(e.Type),
		Quantity:    e.Quantity,
		EffectiveAt: inventory.FormatDate(e.EffectiveAt.In(loc)),
		RecordedAt:  e.RecordedAt.UTC().Format(time.RFC3339),
		SKU:         idx.SKUs[e.ProductID],
		Deposit:     idx.Deposits[e.DepositID],
	}
	if e.CounterpartyDepositID != nil {
		name := idx.Deposits[*e.CounterpartyDepositID]
		dto.Counterparty = &name
	}
	return dto
}

func toReserveEntryDTO(r inventory.ReserveEntry, idx inventory.CatalogIndex, loc *time.Location) ReserveEntryDTO {
	return ReserveEntryDTO{
		ID:          int64(r.ID),
		OperationID: r.OperationID,
		Quantity:    r.Quantity,
		EffectiveAt: inventory.FormatDate(r.EffectiveAt.In(loc)),
		RecordedAt:  r.RecordedAt.UTC().Format(time.RFC3339),
		SKU:         idx.SKUs[r.ProductID],
		Deposit:     idx.Deposits[r.DepositID],
	}
}

func toPositionDTO(p inventory.Position, idx inventory.CatalogIndex) PositionDTO {
	return PositionDTO{
		ID:        p.ID,
		SKU:       idx.SKUs[p.ProductID],
		Deposit:   idx.Deposits[p.DepositID],
		OnHand:    p.OnHand,
		Reserved:  p.Reserved,
		Available: p.Available,
		Min:       p.Min,
		Desired:   p.Desired,
	}
}

func toOutcomeDTO(o inventory.Outcome, idx inventory.CatalogIndex, loc *time.Location) OutcomeDTO {
	return OutcomeDTO{
		Entry:     toEntryDTO(o.Entry, idx, loc),
		Projected: o.Projected,
		Position:  toPositionDTO(o.Position, idx),
	}
}
