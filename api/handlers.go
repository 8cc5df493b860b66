/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Catalog:
    GET    /api/products               List products
    POST   /api/products               Create product
    GET    /api/deposits               List deposits
    POST   /api/deposits               Create deposit

  Movements:
    POST   /api/inventory/add          IN entry
    POST   /api/inventory/remove       OUT entry
    POST   /api/inventory/rebalance    BALANCE snapshot
    POST   /api/inventory/transfer     OUT + IN legs
    POST   /api/inventory/reserve      Reserve entry
    POST   /api/inventory/release      Delete matching reserve entries

  Reads:
    GET    /api/positions              ?sku=&deposit=
    GET    /api/positions/{sku}/{deposit}
    GET    /api/entries                ?sku=&deposit=&type=
    GET    /api/reserves               ?sku=&deposit= (both required)

  Admin:
    POST   /api/admin/init             Seed the fixed catalog (init-bd)
    GET    /api/admin/audit            Last position audit (scheduler.go)
    POST   /api/admin/audit            Run a position audit now

REQUEST FLOW:
  1. Decode JSON body
  2. Parse date (server time zone) and quantity
  3. Call the engine (one unit of work per request)
  4. Serialize outcome with SKUs and deposit names
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: Bad body, bad date, fractional or rejected quantity
  - 404: SKU or deposit name not found
  - 409: Duplicate catalog key, concurrent update after retries
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Intended to sit behind the operator network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic position audit
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *inventory.Engine
	Store  inventory.TxStore

	// Location is the zone request dates are interpreted in.
	Location *time.Location
	Logger   *slog.Logger
}

// NewHandler creates a handler. store must be the one engine was built on.
func NewHandler(engine *inventory.Engine, store inventory.TxStore, loc *time.Location, logger *slog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{Engine: engine, Store: store, Location: loc, Logger: logger}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns all products ordered by SKU.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = ProductDTO{ID: int64(p.ID), SKU: p.SKU, Name: p.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a product to the catalog.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SKU = strings.TrimSpace(req.SKU)
	if req.SKU == "" {
		writeError(w, http.StatusBadRequest, "sku is required", nil)
		return
	}

	p, err := h.Store.CreateProduct(r.Context(), inventory.Product{SKU: req.SKU, Name: req.Name})
	if err != nil {
		h.writeEngineError(w, r, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, ProductDTO{ID: int64(p.ID), SKU: p.SKU, Name: p.Name})
}

// ListDeposits returns all deposits ordered by name.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.Store.ListDeposits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deposits", err)
		return
	}

	dtos := make([]DepositDTO, len(deposits))
	for i, d := range deposits {
		dtos[i] = DepositDTO{ID: int64(d.ID), Name: d.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDeposit adds a deposit.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	d, err := h.Store.CreateDeposit(r.Context(), inventory.Deposit{Name: req.Name})
	if err != nil {
		h.writeEngineError(w, r, "Failed to create deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, DepositDTO{ID: int64(d.ID), Name: d.Name})
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// AddEntry appends an IN entry.
// POST /api/inventory/add
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, inventory.OpAdd)
}

// RemoveEntry appends an OUT entry.
// POST /api/inventory/remove
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, inventory.OpRemove)
}

// Rebalance appends a BALANCE snapshot for the day of the given date.
// POST /api/inventory/rebalance
func (h *Handler) Rebalance(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, inventory.OpBalance)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op inventory.Operation) {
	m, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var (
		out inventory.Outcome
		err error
	)
	switch op {
	case inventory.OpAdd:
		out, err = h.Engine.Add(ctx, m)
	case inventory.OpRemove:
		out, err = h.Engine.Remove(ctx, m)
	case inventory.OpBalance:
		out, err = h.Engine.Balance(ctx, m)
	}
	if err != nil {
		h.writeEngineError(w, r, "Failed to record "+string(op), err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(out, idx, h.Location))
}

// Transfer moves stock between two deposits.
// POST /api/inventory/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	at, qty, ok := h.parseDateAndQuantity(w, req.Date, req.Quantity)
	if !ok {
		return
	}

	out, err := h.Engine.Transfer(r.Context(), inventory.TransferRequest{
		EffectiveAt: at,
		SKU:         req.SKU,
		Source:      req.Source,
		Destination: req.Destination,
		Quantity:    qty,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to record transfer", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, TransferOutcomeDTO{
		Out: toOutcomeDTO(out.Out, idx, h.Location),
		In:  toOutcomeDTO(out.In, idx, h.Location),
	})
}

// Reserve appends a reserve entry.
// POST /api/inventory/reserve
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	m, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}

	out, err := h.Engine.AddReserve(r.Context(), m)
	if err != nil {
		h.writeEngineError(w, r, "Failed to reserve", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, ReserveOutcomeDTO{
		Entry:    toReserveEntryDTO(out.Entry, idx, h.Location),
		Position: toPositionDTO(out.Position, idx),
	})
}

// Release deletes the reserve entries matching date, sku, deposit and
// quantity. Reserved is decremented even when nothing matched.
// POST /api/inventory/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	m, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}

	out, err := h.Engine.RemoveReserve(r.Context(), m)
	if err != nil {
		h.writeEngineError(w, r, "Failed to release reserve", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ReleaseOutcomeDTO{
		Deleted:  out.Deleted,
		Position: toPositionDTO(out.Position, idx),
	})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// ListPositions returns persisted positions, optionally filtered.
// GET /api/positions?sku=&deposit=
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	positions, err := h.Engine.Positions(r.Context(), q.Get("sku"), q.Get("deposit"))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list positions", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	dtos := make([]PositionDTO, len(positions))
	for i, p := range positions {
		dtos[i] = toPositionDTO(p, idx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPosition returns one pair's position, zeroed if it never moved.
// GET /api/positions/{sku}/{deposit}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	sku, deposit := chi.URLParam(r, "sku"), chi.URLParam(r, "deposit")

	pos, err := h.Engine.Position(r.Context(), sku, deposit)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get position", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(pos, idx))
}

// ListEntries returns ledger entries in effective order.
// GET /api/entries?sku=&deposit=&type=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := inventory.EntryType(strings.ToUpper(q.Get("type")))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "type must be IN, OUT or BALANCE", nil)
		return
	}

	entries, err := h.Engine.Entries(r.Context(), q.Get("sku"), q.Get("deposit"), typ)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list entries", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e, idx, h.Location)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListReserves returns live reserve entries for one pair.
// GET /api/reserves?sku=&deposit=
func (h *Handler) ListReserves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sku, deposit := q.Get("sku"), q.Get("deposit")
	if sku == "" || deposit == "" {
		writeError(w, http.StatusBadRequest, "sku and deposit are required", nil)
		return
	}

	reserves, err := h.Engine.Reserves(r.Context(), sku, deposit)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list reserves", err)
		return
	}

	idx, ok := h.catalogIndex(w, r)
	if !ok {
		return
	}
	dtos := make([]ReserveEntryDTO, len(reserves))
	for i, res := range reserves {
		dtos[i] = toReserveEntryDTO(res, idx, h.Location)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// InitDatabase seeds the fixed deposits and products on an empty catalog.
// POST /api/admin/init
func (h *Handler) InitDatabase(w http.ResponseWriter, r *http.Request) {
	seeded, err := inventory.Seed(r.Context(), h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to initialize database", err)
		return
	}
	if !seeded {
		writeJSON(w, http.StatusOK, InitResponse{Seeded: false, Message: "Database already initialized"})
		return
	}
	h.Logger.InfoContext(r.Context(), "catalog seeded")
	writeJSON(w, http.StatusCreated, InitResponse{Seeded: true, Message: "Database initialized"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeMovement(w http.ResponseWriter, r *http.Request) (inventory.Movement, bool) {
	var req MovementRequest
	if !decodeBody(w, r, &req) {
		return inventory.Movement{}, false
	}
	at, qty, ok := h.parseDateAndQuantity(w, req.Date, req.Quantity)
	if !ok {
		return inventory.Movement{}, false
	}
	return inventory.Movement{EffectiveAt: at, SKU: req.SKU, Deposit: req.Deposit, Quantity: qty}, true
}

func (h *Handler) parseDateAndQuantity(w http.ResponseWriter, date string, quantity *decimal.Decimal) (time.Time, int, bool) {
	at, err := inventory.ParseDate(date, h.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return time.Time{}, 0, false
	}
	if quantity == nil {
		writeError(w, http.StatusBadRequest, "quantity is required", nil)
		return time.Time{}, 0, false
	}
	qty, err := inventory.QuantityFromDecimal(*quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return time.Time{}, 0, false
	}
	return at, qty, true
}

func (h *Handler) catalogIndex(w http.ResponseWriter, r *http.Request) (inventory.CatalogIndex, bool) {
	idx, err := h.Engine.CatalogIndex(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load catalog", err)
		return inventory.CatalogIndex{}, false
	}
	return idx, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeEngineError maps inventory errors onto status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case inventory.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidDate):
		status = http.StatusBadRequest
	case errors.Is(err, inventory.ErrDuplicate), inventory.IsRetryable(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "err", err, "path", r.URL.Path)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
