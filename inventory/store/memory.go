// Package store provides an in-memory inventory.TxStore.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one lock. WithTx holds the
// write lock for the whole unit of work, so units of work are serialized.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type pairKey struct {
	ProductID inventory.ProductID
	DepositID inventory.DepositID
}

type sequences struct {
	product, deposit, entry, reserve, position int64
}

type state struct {
	products      map[inventory.ProductID]inventory.Product
	productsBySKU map[string]inventory.ProductID
	deposits      map[inventory.DepositID]inventory.Deposit
	depositByName map[string]inventory.DepositID

	// entries per pair, kept sorted by EffectiveAt (stable for equal times)
	entries   map[pairKey][]inventory.Entry
	reserves  []inventory.ReserveEntry
	positions map[inventory.PairKey]inventory.Position

	seq sequences
}

func newState() *state {
	return &state{
		products:      make(map[inventory.ProductID]inventory.Product),
		productsBySKU: make(map[string]inventory.ProductID),
		deposits:      make(map[inventory.DepositID]inventory.Deposit),
		depositByName: make(map[string]inventory.DepositID),
		entries:       make(map[pairKey][]inventory.Entry),
		positions:     make(map[inventory.PairKey]inventory.Position),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ inventory.TxStore = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := &state{
		products:      make(map[inventory.ProductID]inventory.Product, len(s.products)),
		productsBySKU: make(map[string]inventory.ProductID, len(s.productsBySKU)),
		deposits:      make(map[inventory.DepositID]inventory.Deposit, len(s.deposits)),
		depositByName: make(map[string]inventory.DepositID, len(s.depositByName)),
		entries:       make(map[pairKey][]inventory.Entry, len(s.entries)),
		reserves:      append([]inventory.ReserveEntry(nil), s.reserves...),
		positions:     make(map[inventory.PairKey]inventory.Position, len(s.positions)),
		seq:           s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.productsBySKU {
		c.productsBySKU[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.depositByName {
		c.depositByName[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]inventory.Entry(nil), v...)
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	return c
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - each call is its own unit of work
// =============================================================================

func (m *Memory) read() *view {
	return &view{st: m.st}
}

func (m *Memory) AppendEntry(ctx context.Context, e inventory.Entry) (inventory.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendEntry(ctx, e)
}

func (m *Memory) HasBalanceOnOrAfter(ctx context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().HasBalanceOnOrAfter(ctx, p, d, at)
}

func (m *Memory) HasBalanceAfter(ctx context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().HasBalanceAfter(ctx, p, d, at)
}

func (m *Memory) ListEntries(ctx context.Context, f inventory.EntryFilter) ([]inventory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListEntries(ctx, f)
}

func (m *Memory) AppendReserve(ctx context.Context, r inventory.ReserveEntry) (inventory.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendReserve(ctx, r)
}

func (m *Memory) DeleteReserves(ctx context.Context, key inventory.ReserveKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().DeleteReserves(ctx, key)
}

func (m *Memory) ListReserves(ctx context.Context, p inventory.ProductID, d inventory.DepositID) ([]inventory.ReserveEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListReserves(ctx, p, d)
}

func (m *Memory) GetPosition(ctx context.Context, d inventory.DepositID, p inventory.ProductID) (inventory.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPosition(ctx, d, p)
}

func (m *Memory) UpsertPosition(ctx context.Context, p inventory.Position) (inventory.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpsertPosition(ctx, p)
}

func (m *Memory) ListPositions(ctx context.Context, f inventory.PositionFilter) ([]inventory.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPositions(ctx, f)
}

func (m *Memory) ProductBySKU(ctx context.Context, sku string) (inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ProductBySKU(ctx, sku)
}

func (m *Memory) DepositByName(ctx context.Context, name string) (inventory.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().DepositByName(ctx, name)
}

func (m *Memory) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateProduct(ctx, p)
}

func (m *Memory) CreateDeposit(ctx context.Context, d inventory.Deposit) (inventory.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateDeposit(ctx, d)
}

func (m *Memory) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListProducts(ctx)
}

func (m *Memory) ListDeposits(ctx context.Context) ([]inventory.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListDeposits(ctx)
}

func (m *Memory) CountProducts(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountProducts(ctx)
}

func (m *Memory) CountDeposits(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountDeposits(ctx)
}

// =============================================================================
// VIEW - lock-free access to the state, used under the caller's lock
// =============================================================================

type view struct {
	st *state
}

func (v *view) AppendEntry(_ context.Context, e inventory.Entry) (inventory.EntryID, error) {
	v.st.seq.entry++
	e.ID = inventory.EntryID(v.st.seq.entry)
	if e.CounterpartyDepositID != nil {
		cp := *e.CounterpartyDepositID
		e.CounterpartyDepositID = &cp
	}

	k := pairKey{ProductID: e.ProductID, DepositID: e.DepositID}
	entries := v.st.entries[k]

	// Binary search for insertion point after every entry at the same time
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].EffectiveAt.After(e.EffectiveAt)
	})
	entries = append(entries, inventory.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	v.st.entries[k] = entries

	return e.ID, nil
}

func (v *view) HasBalanceOnOrAfter(_ context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	return v.hasBalance(p, d, func(t time.Time) bool { return !t.Before(at) }), nil
}

func (v *view) HasBalanceAfter(_ context.Context, p inventory.ProductID, d inventory.DepositID, at time.Time) (bool, error) {
	return v.hasBalance(p, d, func(t time.Time) bool { return t.After(at) }), nil
}

// hasBalance scans the pair's entries from the newest end; entries are
// sorted so the scan stops at the first one outside the window.
func (v *view) hasBalance(p inventory.ProductID, d inventory.DepositID, inWindow func(time.Time) bool) bool {
	entries := v.st.entries[pairKey{ProductID: p, DepositID: d}]
	for i := len(entries) - 1; i >= 0; i-- {
		if !inWindow(entries[i].EffectiveAt) {
			return false
		}
		if entries[i].Type == inventory.EntryBalance {
			return true
		}
	}
	return false
}

func (v *view) ListEntries(_ context.Context, f inventory.EntryFilter) ([]inventory.Entry, error) {
	var result []inventory.Entry
	for _, entries := range v.st.entries {
		for _, e := range entries {
			if f.Match(e) {
				result = append(result, e)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].EffectiveAt.Equal(result[j].EffectiveAt) {
			return result[i].EffectiveAt.Before(result[j].EffectiveAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *view) AppendReserve(_ context.Context, r inventory.ReserveEntry) (inventory.EntryID, error) {
	v.st.seq.reserve++
	r.ID = inventory.EntryID(v.st.seq.reserve)
	v.st.reserves = append(v.st.reserves, r)
	return r.ID, nil
}

func (v *view) DeleteReserves(_ context.Context, key inventory.ReserveKey) (int, error) {
	kept := v.st.reserves[:0:0]
	deleted := 0
	for _, r := range v.st.reserves {
		if key.Matches(r) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	v.st.reserves = kept
	return deleted, nil
}

func (v *view) ListReserves(_ context.Context, p inventory.ProductID, d inventory.DepositID) ([]inventory.ReserveEntry, error) {
	var result []inventory.ReserveEntry
	for _, r := range v.st.reserves {
		if r.ProductID == p && r.DepositID == d {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *view) GetPosition(_ context.Context, d inventory.DepositID, p inventory.ProductID) (inventory.Position, error) {
	pos, ok := v.st.positions[inventory.PairKey{DepositID: d, ProductID: p}]
	if !ok {
		return inventory.NewPosition(d, p), nil
	}
	return copyPosition(pos), nil
}

func (v *view) UpsertPosition(_ context.Context, p inventory.Position) (inventory.Position, error) {
	k := p.Key()
	if existing, ok := v.st.positions[k]; ok {
		p.ID = existing.ID
	} else {
		v.st.seq.position++
		p.ID = v.st.seq.position
	}
	p = copyPosition(p)
	v.st.positions[k] = p
	return copyPosition(p), nil
}

func (v *view) ListPositions(_ context.Context, f inventory.PositionFilter) ([]inventory.Position, error) {
	var result []inventory.Position
	for _, p := range v.st.positions {
		if f.Match(p) {
			result = append(result, copyPosition(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (v *view) ProductBySKU(_ context.Context, sku string) (inventory.Product, error) {
	id, ok := v.st.productsBySKU[sku]
	if !ok {
		return inventory.Product{}, inventory.ProductNotFound(sku)
	}
	return v.st.products[id], nil
}

func (v *view) DepositByName(_ context.Context, name string) (inventory.Deposit, error) {
	id, ok := v.st.depositByName[name]
	if !ok {
		return inventory.Deposit{}, inventory.DepositNotFound(name)
	}
	return v.st.deposits[id], nil
}

func (v *view) CreateProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	if _, ok := v.st.productsBySKU[p.SKU]; ok {
		return inventory.Product{}, inventory.ErrDuplicate
	}
	v.st.seq.product++
	p.ID = inventory.ProductID(v.st.seq.product)
	v.st.products[p.ID] = p
	v.st.productsBySKU[p.SKU] = p.ID
	return p, nil
}

func (v *view) CreateDeposit(_ context.Context, d inventory.Deposit) (inventory.Deposit, error) {
	if _, ok := v.st.depositByName[d.Name]; ok {
		return inventory.Deposit{}, inventory.ErrDuplicate
	}
	v.st.seq.deposit++
	d.ID = inventory.DepositID(v.st.seq.deposit)
	v.st.deposits[d.ID] = d
	v.st.depositByName[d.Name] = d.ID
	return d, nil
}

func (v *view) ListProducts(_ context.Context) ([]inventory.Product, error) {
	result := make([]inventory.Product, 0, len(v.st.products))
	for _, p := range v.st.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return strings.Compare(result[i].SKU, result[j].SKU) < 0 })
	return result, nil
}

func (v *view) ListDeposits(_ context.Context) ([]inventory.Deposit, error) {
	result := make([]inventory.Deposit, 0, len(v.st.deposits))
	for _, d := range v.st.deposits {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (v *view) CountProducts(_ context.Context) (int, error) { return len(v.st.products), nil }
func (v *view) CountDeposits(_ context.Context) (int, error) { return len(v.st.deposits), nil }

func copyPosition(p inventory.Position) inventory.Position {
	if p.Desired != nil {
		d := *p.Desired
		p.Desired = &d
	}
	return p
}
