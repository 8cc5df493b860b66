package inventory

import "context"

// Read side. These run outside a unit of work and never write.

// Position returns the current position for sku at deposit. A pair that has
// never moved yields the unpersisted default row.
func (e *Engine) Position(ctx context.Context, sku, deposit string) (Position, error) {
	product, deposits, err := resolve(ctx, e.store, sku, deposit)
	if err != nil {
		return Position{}, err
	}
	return e.store.GetPosition(ctx, deposits[0].ID, product.ID)
}

// Positions lists persisted positions. Empty sku or deposit means any.
func (e *Engine) Positions(ctx context.Context, sku, deposit string) ([]Position, error) {
	var filter PositionFilter
	if sku != "" {
		p, err := e.store.ProductBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		filter.ProductID = p.ID
	}
	if deposit != "" {
		d, err := e.store.DepositByName(ctx, deposit)
		if err != nil {
			return nil, err
		}
		filter.DepositID = d.ID
	}
	return e.store.ListPositions(ctx, filter)
}

// Entries lists ledger entries in effective order. Empty arguments mean any.
func (e *Engine) Entries(ctx context.Context, sku, deposit string, typ EntryType) ([]Entry, error) {
	filter := EntryFilter{Type: typ}
	if sku != "" {
		p, err := e.store.ProductBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		filter.ProductID = p.ID
	}
	if deposit != "" {
		d, err := e.store.DepositByName(ctx, deposit)
		if err != nil {
			return nil, err
		}
		filter.DepositID = d.ID
	}
	return e.store.ListEntries(ctx, filter)
}

// Reserves lists the live reserve entries for a pair.
func (e *Engine) Reserves(ctx context.Context, sku, deposit string) ([]ReserveEntry, error) {
	product, deposits, err := resolve(ctx, e.store, sku, deposit)
	if err != nil {
		return nil, err
	}
	return e.store.ListReserves(ctx, product.ID, deposits[0].ID)
}

// CatalogIndex maps IDs back to SKUs and deposit names for display.
type CatalogIndex struct {
	SKUs     map[ProductID]string
	Deposits map[DepositID]string
}

func (e *Engine) CatalogIndex(ctx context.Context) (CatalogIndex, error) {
	products, err := e.store.ListProducts(ctx)
	if err != nil {
		return CatalogIndex{}, err
	}
	deposits, err := e.store.ListDeposits(ctx)
	if err != nil {
		return CatalogIndex{}, err
	}

	idx := CatalogIndex{
		SKUs:     make(map[ProductID]string, len(products)),
		Deposits: make(map[DepositID]string, len(deposits)),
	}
	for _, p := range products {
		idx.SKUs[p.ID] = p.SKU
	}
	for _, d := range deposits {
		idx.Deposits[d.ID] = d.Name
	}
	return idx, nil
}
