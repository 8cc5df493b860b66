// Package storetest holds the behavior every inventory.TxStore must share.
// Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
)

// Factory returns an empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) inventory.TxStore

func Run(t *testing.T, newStore Factory) {
	t.Run("CatalogLookups", func(t *testing.T) { testCatalogLookups(t, newStore(t)) })
	t.Run("BalanceExistence", func(t *testing.T) { testBalanceExistence(t, newStore(t)) })
	t.Run("EntryListing", func(t *testing.T) { testEntryListing(t, newStore(t)) })
	t.Run("ReserveDeleteByValue", func(t *testing.T) { testReserveDeleteByValue(t, newStore(t)) })
	t.Run("PositionGetOrDefault", func(t *testing.T) { testPositionGetOrDefault(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("EngineRoundTrip", func(t *testing.T) { testEngineRoundTrip(t, newStore(t)) })
}

func day(d, hour int) time.Time {
	return time.Date(2025, time.March, d, hour, 0, 0, 0, time.UTC)
}

func seedPair(t *testing.T, s inventory.TxStore) (inventory.Product, inventory.Deposit) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, inventory.Product{SKU: "SKU-1", Name: "Soap"})
	require.NoError(t, err)
	d, err := s.CreateDeposit(ctx, inventory.Deposit{Name: "Main"})
	require.NoError(t, err)
	return p, d
}

func testCatalogLookups(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()

	p, d := seedPair(t, s)
	assert.NotZero(t, p.ID)
	assert.NotZero(t, d.ID)

	got, err := s.ProductBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	gotDeposit, err := s.DepositByName(ctx, "Main")
	require.NoError(t, err)
	assert.Equal(t, d, gotDeposit)

	_, err = s.ProductBySKU(ctx, "sku-1")
	assert.ErrorIs(t, err, inventory.ErrReferenceNotFound, "lookups are exact match")
	_, err = s.DepositByName(ctx, "Other")
	assert.ErrorIs(t, err, inventory.ErrReferenceNotFound)

	_, err = s.CreateProduct(ctx, inventory.Product{SKU: "SKU-1", Name: "Again"})
	assert.ErrorIs(t, err, inventory.ErrDuplicate)
	_, err = s.CreateDeposit(ctx, inventory.Deposit{Name: "Main"})
	assert.ErrorIs(t, err, inventory.ErrDuplicate)

	products, err := s.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, products)
	deposits, err := s.ListDeposits(ctx)
	require.NoError(t, err)
	assert.Len(t, deposits, 1)
}

func testBalanceExistence(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	p, d := seedPair(t, s)

	_, err := s.AppendEntry(ctx, inventory.Entry{
		Type: inventory.EntryIn, Quantity: 5, EffectiveAt: day(20, 0), RecordedAt: time.Now(),
		ProductID: p.ID, DepositID: d.ID,
	})
	require.NoError(t, err)

	found, err := s.HasBalanceOnOrAfter(ctx, p.ID, d.ID, day(1, 0))
	require.NoError(t, err)
	assert.False(t, found, "IN entries never count as balances")

	_, err = s.AppendEntry(ctx, inventory.Entry{
		Type: inventory.EntryBalance, Quantity: 50, EffectiveAt: day(12, 0), RecordedAt: time.Now(),
		ProductID: p.ID, DepositID: d.ID,
	})
	require.NoError(t, err)

	cases := []struct {
		name   string
		check  func(context.Context, inventory.ProductID, inventory.DepositID, time.Time) (bool, error)
		at     time.Time
		expect bool
	}{
		{"on-or-after before", s.HasBalanceOnOrAfter, day(11, 23), true},
		{"on-or-after equal", s.HasBalanceOnOrAfter, day(12, 0), true},
		{"on-or-after later", s.HasBalanceOnOrAfter, day(12, 1), false},
		{"after before", s.HasBalanceAfter, day(11, 23), true},
		{"after equal", s.HasBalanceAfter, day(12, 0), false},
		{"after later", s.HasBalanceAfter, day(13, 0), false},
	}
	for _, tc := range cases {
		found, err := tc.check(ctx, p.ID, d.ID, tc.at)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.expect, found, tc.name)
	}

	other, err := s.CreateDeposit(ctx, inventory.Deposit{Name: "Other"})
	require.NoError(t, err)
	found, err = s.HasBalanceOnOrAfter(ctx, p.ID, other.ID, day(1, 0))
	require.NoError(t, err)
	assert.False(t, found, "balances are per pair")
}

func testEntryListing(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	p, d := seedPair(t, s)
	other, err := s.CreateDeposit(ctx, inventory.Deposit{Name: "Other"})
	require.NoError(t, err)

	cp := other.ID
	for _, e := range []inventory.Entry{
		{Type: inventory.EntryOut, Quantity: 3, EffectiveAt: day(15, 0), DepositID: d.ID, CounterpartyDepositID: &cp, OperationID: "op-1"},
		{Type: inventory.EntryIn, Quantity: 9, EffectiveAt: day(10, 0), DepositID: d.ID},
		{Type: inventory.EntryIn, Quantity: 3, EffectiveAt: day(15, 0), DepositID: other.ID, OperationID: "op-1"},
	} {
		e.ProductID = p.ID
		e.RecordedAt = time.Now()
		_, err := s.AppendEntry(ctx, e)
		require.NoError(t, err)
	}

	all, err := s.ListEntries(ctx, inventory.EntryFilter{ProductID: p.ID, DepositID: d.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 9, all[0].Quantity, "ordered by effective date")
	assert.Equal(t, inventory.EntryOut, all[1].Type)
	require.NotNil(t, all[1].CounterpartyDepositID)
	assert.Equal(t, other.ID, *all[1].CounterpartyDepositID)
	assert.Equal(t, "op-1", all[1].OperationID)
	assert.True(t, all[1].EffectiveAt.Equal(day(15, 0)))

	ins, err := s.ListEntries(ctx, inventory.EntryFilter{Type: inventory.EntryIn})
	require.NoError(t, err)
	assert.Len(t, ins, 2)
}

func testReserveDeleteByValue(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	p, d := seedPair(t, s)

	for _, qty := range []int{10, 10, 4} {
		_, err := s.AppendReserve(ctx, inventory.ReserveEntry{
			EffectiveAt: day(10, 9), RecordedAt: time.Now(), ProductID: p.ID, DepositID: d.ID, Quantity: qty,
		})
		require.NoError(t, err)
	}

	deleted, err := s.DeleteReserves(ctx, inventory.ReserveKey{EffectiveAt: day(10, 10), ProductID: p.ID, DepositID: d.ID, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted, "different effective date")

	deleted, err = s.DeleteReserves(ctx, inventory.ReserveKey{EffectiveAt: day(10, 9), ProductID: p.ID, DepositID: d.ID, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	live, err := s.ListReserves(ctx, p.ID, d.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 4, live[0].Quantity)
}

func testPositionGetOrDefault(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	p, d := seedPair(t, s)

	pos, err := s.GetPosition(ctx, d.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, pos.Persisted())
	assert.Equal(t, inventory.NewPosition(d.ID, p.ID), pos)

	listed, err := s.ListPositions(ctx, inventory.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed, "default row is not persisted")

	desired := 80
	pos.OnHand, pos.Reserved, pos.Available, pos.Desired = 10, 4, 6, &desired
	saved, err := s.UpsertPosition(ctx, pos)
	require.NoError(t, err)
	assert.True(t, saved.Persisted())

	saved.OnHand, saved.Available = 12, 8
	again, err := s.UpsertPosition(ctx, saved)
	require.NoError(t, err)
	assert.True(t, saved.SameAs(again))

	got, err := s.GetPosition(ctx, d.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.OnHand)
	assert.Equal(t, 4, got.Reserved)
	assert.Equal(t, 8, got.Available)
	assert.Equal(t, -1, got.Min)
	require.NotNil(t, got.Desired)
	assert.Equal(t, 80, *got.Desired)

	listed, err = s.ListPositions(ctx, inventory.PositionFilter{DepositID: d.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func testWithTxRollback(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	p, d := seedPair(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx inventory.Stores) error {
		if _, err := tx.AppendEntry(ctx, inventory.Entry{
			Type: inventory.EntryIn, Quantity: 1, EffectiveAt: day(1, 0), RecordedAt: time.Now(),
			ProductID: p.ID, DepositID: d.ID,
		}); err != nil {
			return err
		}
		if _, err := tx.UpsertPosition(ctx, inventory.Position{DepositID: d.ID, ProductID: p.ID, OnHand: 1, Available: 1, Min: -1}); err != nil {
			return err
		}
		found, err := tx.ListEntries(ctx, inventory.EntryFilter{})
		if err != nil {
			return err
		}
		if len(found) != 1 {
			return errors.New("writes must be visible inside the unit of work")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := s.ListEntries(ctx, inventory.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	positions, err := s.ListPositions(ctx, inventory.PositionFilter{})
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func testEngineRoundTrip(t *testing.T, s inventory.TxStore) {
	ctx := context.Background()
	seeded, err := inventory.Seed(ctx, s)
	require.NoError(t, err)
	require.True(t, seeded)

	again, err := inventory.Seed(ctx, s)
	require.NoError(t, err)
	assert.False(t, again, "seed runs only on an empty catalog")

	e := inventory.NewEngine(s)
	mv := func(at time.Time, deposit string, qty int) inventory.Movement {
		return inventory.Movement{EffectiveAt: at, SKU: "123", Deposit: deposit, Quantity: qty}
	}

	_, err = e.Balance(ctx, mv(day(12, 15), "Teste", 50))
	require.NoError(t, err)
	out, err := e.Add(ctx, mv(day(11, 9), "Teste", 10))
	require.NoError(t, err)
	assert.False(t, out.Projected)

	tr, err := e.Transfer(ctx, inventory.TransferRequest{EffectiveAt: day(13, 0), SKU: "123", Source: "Teste", Destination: "Teste2", Quantity: 20})
	require.NoError(t, err)
	assert.True(t, tr.Out.Projected)
	assert.True(t, tr.In.Projected)

	_, err = e.AddReserve(ctx, mv(day(13, 10), "Teste", 5))
	require.NoError(t, err)
	rel, err := e.RemoveReserve(ctx, mv(day(13, 10), "Teste", 5))
	require.NoError(t, err)
	assert.Equal(t, 1, rel.Deleted)

	front, err := e.Position(ctx, "123", "Teste")
	require.NoError(t, err)
	assert.Equal(t, 30, front.OnHand)
	assert.Equal(t, 0, front.Reserved)
	assert.Equal(t, 30, front.Available)

	back, err := e.Position(ctx, "123", "Teste2")
	require.NoError(t, err)
	assert.Equal(t, 20, back.OnHand)

	entries, err := e.Entries(ctx, "123", "", "")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
