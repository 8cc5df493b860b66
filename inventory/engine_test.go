package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	soap      = "123"
	detergent = "456"
	front     = "Teste"
	back      = "Teste2"
)

func newTestEngine(t *testing.T, opts ...inventory.Option) (*inventory.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	seeded, err := inventory.Seed(context.Background(), mem)
	require.NoError(t, err)
	require.True(t, seeded)

	opts = append([]inventory.Option{inventory.WithRetry(3, time.Millisecond)}, opts...)
	return inventory.NewEngine(mem, opts...), mem
}

func at(day, hour int) time.Time {
	return time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
}

func mv(when time.Time, sku, deposit string, qty int) inventory.Movement {
	return inventory.Movement{EffectiveAt: when, SKU: sku, Deposit: deposit, Quantity: qty}
}

func position(t *testing.T, e *inventory.Engine, sku, deposit string) inventory.Position {
	t.Helper()
	p, err := e.Position(context.Background(), sku, deposit)
	require.NoError(t, err)
	return p
}

// =============================================================================
// ADD / REMOVE
// =============================================================================

func TestAdd_FreshPair_CreatesPosition(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	out, err := e.Add(ctx, mv(at(10, 9), soap, front, 10))
	require.NoError(t, err)

	assert.True(t, out.Projected)
	assert.Equal(t, inventory.EntryIn, out.Entry.Type)
	assert.NotZero(t, out.Entry.ID)
	assert.NotEmpty(t, out.Entry.OperationID)
	assert.Nil(t, out.Entry.CounterpartyDepositID)

	assert.True(t, out.Position.Persisted())
	assert.Equal(t, 10, out.Position.OnHand)
	assert.Equal(t, 0, out.Position.Reserved)
	assert.Equal(t, 10, out.Position.Available)
	assert.Equal(t, -1, out.Position.Min, "new rows default min to -1")
	assert.Nil(t, out.Position.Desired)
}

func TestAddThenRemove_SameQuantity_ReturnsToZero(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 9), soap, front, 25))
	require.NoError(t, err)
	out, err := e.Remove(ctx, mv(at(10, 10), soap, front, 25))
	require.NoError(t, err)

	assert.Equal(t, inventory.EntryOut, out.Entry.Type)
	assert.Equal(t, 0, out.Position.OnHand)
	assert.Equal(t, 0, out.Position.Available)
	assert.True(t, out.Position.Consistent())
}

func TestRemove_AllowsNegativeStock(t *testing.T) {
	e, _ := newTestEngine(t)

	out, err := e.Remove(context.Background(), mv(at(10, 9), soap, front, 7))
	require.NoError(t, err)

	assert.Equal(t, -7, out.Position.OnHand)
	assert.Equal(t, -7, out.Position.Available)
}

func TestPosition_SameRowAcrossUpdates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Add(ctx, mv(at(10, 9), soap, front, 1))
	require.NoError(t, err)
	second, err := e.Add(ctx, mv(at(10, 10), soap, front, 1))
	require.NoError(t, err)
	other, err := e.Add(ctx, mv(at(10, 10), detergent, front, 1))
	require.NoError(t, err)

	assert.True(t, first.Position.SameAs(second.Position))
	assert.False(t, first.Position.SameAs(other.Position))
	assert.False(t, inventory.NewPosition(1, 1).SameAs(inventory.NewPosition(1, 1)), "unpersisted rows are never the same")
}

// =============================================================================
// SUPERSESSION
// =============================================================================

func TestAdd_BackdatedBeforeBalance_LoggedNotProjected(t *testing.T) {
	// GIVEN: A balance of 50 on day 12
	// WHEN: An IN of 10 dated day 11 arrives afterwards
	// THEN: The entry is logged but the position stays at 50

	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(12, 15), soap, front, 50))
	require.NoError(t, err)

	out, err := e.Add(ctx, mv(at(11, 9), soap, front, 10))
	require.NoError(t, err)

	assert.False(t, out.Projected)
	assert.Equal(t, 50, out.Position.OnHand)
	assert.Equal(t, 50, position(t, e, soap, front).OnHand)

	entries, err := e.Entries(ctx, soap, front, inventory.EntryIn)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "superseded movement is still logged")
}

func TestAdd_AtBalanceInstant_Superseded(t *testing.T) {
	// Balance dates are truncated to 00:00; a movement at exactly that
	// instant satisfies effectiveDate >= T and is not projected.
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(12, 15), soap, front, 50))
	require.NoError(t, err)

	out, err := e.Remove(ctx, mv(at(12, 0), soap, front, 5))
	require.NoError(t, err)

	assert.False(t, out.Projected)
	assert.Equal(t, 50, position(t, e, soap, front).OnHand)
}

func TestAdd_LaterSameDayAsBalance_Projected(t *testing.T) {
	// A balance entered at 15:00 is stored at 00:00, so an IN at 09:00 the
	// same day is after the snapshot and applies.
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(12, 15), soap, front, 50))
	require.NoError(t, err)

	out, err := e.Add(ctx, mv(at(12, 9), soap, front, 10))
	require.NoError(t, err)

	assert.True(t, out.Projected)
	assert.Equal(t, 60, out.Position.OnHand)
}

func TestAdd_BalanceOnOtherPair_DoesNotSupersede(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(20, 0), soap, back, 50))
	require.NoError(t, err)
	_, err = e.Balance(ctx, mv(at(20, 0), detergent, front, 50))
	require.NoError(t, err)

	out, err := e.Add(ctx, mv(at(10, 0), soap, front, 3))
	require.NoError(t, err)
	assert.True(t, out.Projected)
	assert.Equal(t, 3, out.Position.OnHand)
}

// =============================================================================
// BALANCE
// =============================================================================

func TestBalance_TruncatesToStartOfDay(t *testing.T) {
	e, _ := newTestEngine(t)

	when := time.Date(2025, time.March, 12, 17, 45, 12, 0, time.UTC)
	out, err := e.Balance(context.Background(), mv(when, soap, front, 40))
	require.NoError(t, err)

	assert.Equal(t, inventory.EntryBalance, out.Entry.Type)
	assert.Equal(t, time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC), out.Entry.EffectiveAt)
	assert.True(t, out.Projected)
	assert.Equal(t, 40, out.Position.OnHand)
	assert.Equal(t, 40, out.Position.Available)
}

func TestBalance_SameDayTwice_LastApplied(t *testing.T) {
	// Same truncated day is not "strictly after" itself, so both project.
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Balance(ctx, mv(at(12, 8), soap, front, 10))
	require.NoError(t, err)
	second, err := e.Balance(ctx, mv(at(12, 8), soap, front, 999))
	require.NoError(t, err)

	assert.True(t, first.Projected)
	assert.True(t, second.Projected)
	assert.Equal(t, 999, position(t, e, soap, front).OnHand)
}

func TestBalance_OlderThanExisting_LoggedNotProjected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(12, 0), soap, front, 50))
	require.NoError(t, err)

	out, err := e.Balance(ctx, mv(at(11, 23), soap, front, 10))
	require.NoError(t, err)

	assert.False(t, out.Projected)
	assert.Equal(t, 50, position(t, e, soap, front).OnHand)

	balances, err := e.Entries(ctx, soap, front, inventory.EntryBalance)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, 10, balances[0].Quantity, "entries come back in effective order")
	assert.Equal(t, 50, balances[1].Quantity)
}

func TestBalance_DefaultMode_OverwritesAvailable(t *testing.T) {
	// Historical behavior: reserved is kept but available is forced to the
	// snapshot quantity, so the invariant breaks while something is reserved.
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddReserve(ctx, mv(at(10, 9), soap, front, 30))
	require.NoError(t, err)

	out, err := e.Balance(ctx, mv(at(11, 9), soap, front, 100))
	require.NoError(t, err)

	assert.Equal(t, 100, out.Position.OnHand)
	assert.Equal(t, 30, out.Position.Reserved)
	assert.Equal(t, 100, out.Position.Available)
	assert.False(t, out.Position.Consistent())
}

func TestBalance_KeepsReservationsMode_RecomputesAvailable(t *testing.T) {
	e, _ := newTestEngine(t, inventory.WithBalanceMode(inventory.BalanceKeepsReservations))
	ctx := context.Background()

	_, err := e.AddReserve(ctx, mv(at(10, 9), soap, front, 30))
	require.NoError(t, err)

	out, err := e.Balance(ctx, mv(at(11, 9), soap, front, 100))
	require.NoError(t, err)

	assert.Equal(t, 100, out.Position.OnHand)
	assert.Equal(t, 30, out.Position.Reserved)
	assert.Equal(t, 70, out.Position.Available)
	assert.True(t, out.Position.Consistent())
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_ConservesCombinedOnHand(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 8), soap, front, 100))
	require.NoError(t, err)
	_, err = e.Add(ctx, mv(at(10, 8), soap, back, 20))
	require.NoError(t, err)

	out, err := e.Transfer(ctx, inventory.TransferRequest{
		EffectiveAt: at(10, 12),
		SKU:         soap,
		Source:      front,
		Destination: back,
		Quantity:    35,
	})
	require.NoError(t, err)

	assert.Equal(t, 65, position(t, e, soap, front).OnHand)
	assert.Equal(t, 55, position(t, e, soap, back).OnHand)
	assert.Equal(t, 120, position(t, e, soap, front).OnHand+position(t, e, soap, back).OnHand)

	require.NotNil(t, out.Out.Entry.CounterpartyDepositID)
	require.NotNil(t, out.In.Entry.CounterpartyDepositID)
	assert.Equal(t, inventory.EntryOut, out.Out.Entry.Type)
	assert.Equal(t, inventory.EntryIn, out.In.Entry.Type)
	assert.Equal(t, out.In.Entry.DepositID, *out.Out.Entry.CounterpartyDepositID)
	assert.Equal(t, out.Out.Entry.DepositID, *out.In.Entry.CounterpartyDepositID)
	assert.Equal(t, out.Out.Entry.OperationID, out.In.Entry.OperationID, "legs share one operation")
	assert.True(t, out.Out.Entry.EffectiveAt.Equal(out.In.Entry.EffectiveAt))
}

func TestTransfer_LegsSupersededIndependently(t *testing.T) {
	// GIVEN: The destination has a balance on day 20, the source does not
	// WHEN: Transferring 10 on day 15
	// THEN: The source is decremented, the destination is left alone

	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 0), soap, front, 50))
	require.NoError(t, err)
	_, err = e.Balance(ctx, mv(at(20, 0), soap, back, 5))
	require.NoError(t, err)

	out, err := e.Transfer(ctx, inventory.TransferRequest{
		EffectiveAt: at(15, 0),
		SKU:         soap,
		Source:      front,
		Destination: back,
		Quantity:    10,
	})
	require.NoError(t, err)

	assert.True(t, out.Out.Projected)
	assert.False(t, out.In.Projected)
	assert.Equal(t, 40, position(t, e, soap, front).OnHand)
	assert.Equal(t, 5, position(t, e, soap, back).OnHand)

	entries, err := e.Entries(ctx, soap, back, inventory.EntryIn)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "suppressed leg is still logged")
}

func TestTransfer_UnknownDestination_WritesNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Transfer(ctx, inventory.TransferRequest{
		EffectiveAt: at(15, 0),
		SKU:         soap,
		Source:      front,
		Destination: "nowhere",
		Quantity:    10,
	})
	require.Error(t, err)

	var refErr *inventory.ReferenceNotFoundError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, inventory.RefDeposit, refErr.Kind)
	assert.Equal(t, "nowhere", refErr.Key)

	entries, err := e.Entries(ctx, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	positions, err := e.Positions(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

// =============================================================================
// RESERVES
// =============================================================================

func TestReserve_AddThenRemove_RestoresAvailable(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 8), soap, front, 100))
	require.NoError(t, err)

	reserved, err := e.AddReserve(ctx, mv(at(10, 9), soap, front, 30))
	require.NoError(t, err)
	assert.Equal(t, 30, reserved.Position.Reserved)
	assert.Equal(t, 70, reserved.Position.Available)

	released, err := e.RemoveReserve(ctx, mv(at(10, 9), soap, front, 30))
	require.NoError(t, err)

	assert.Equal(t, 1, released.Deleted)
	assert.Equal(t, 100, released.Position.OnHand)
	assert.Equal(t, 0, released.Position.Reserved)
	assert.Equal(t, 100, released.Position.Available)

	live, err := e.Reserves(ctx, soap, front)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestReserve_NotSubjectToSupersession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(20, 0), soap, front, 100))
	require.NoError(t, err)

	out, err := e.AddReserve(ctx, mv(at(1, 0), soap, front, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, out.Position.Reserved)
	assert.Equal(t, 90, out.Position.Available)
}

func TestRemoveReserve_NoMatch_StillDecrements(t *testing.T) {
	// Current behavior: the flat decrement is applied even when the tuple
	// matches nothing, so reserved can go negative.
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 8), soap, front, 100))
	require.NoError(t, err)
	_, err = e.AddReserve(ctx, mv(at(10, 9), soap, front, 30))
	require.NoError(t, err)

	// Different time: matches zero entries
	out, err := e.RemoveReserve(ctx, mv(at(10, 10), soap, front, 30))
	require.NoError(t, err)

	assert.Equal(t, 0, out.Deleted)
	assert.Equal(t, 0, out.Position.Reserved)
	assert.Equal(t, 100, out.Position.Available)

	live, err := e.Reserves(ctx, soap, front)
	require.NoError(t, err)
	assert.Len(t, live, 1, "the original reserve entry is still there")

	out, err = e.RemoveReserve(ctx, mv(at(10, 10), soap, front, 5))
	require.NoError(t, err)
	assert.Equal(t, -5, out.Position.Reserved)
	assert.Equal(t, 105, out.Position.Available)
}

func TestRemoveReserve_DuplicateTuples_AllDeletedSingleDecrement(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.AddReserve(ctx, mv(at(10, 9), soap, front, 10))
		require.NoError(t, err)
	}
	_, err := e.AddReserve(ctx, mv(at(10, 9), soap, front, 4))
	require.NoError(t, err)

	out, err := e.RemoveReserve(ctx, mv(at(10, 9), soap, front, 10))
	require.NoError(t, err)

	assert.Equal(t, 2, out.Deleted)
	assert.Equal(t, 14, out.Position.Reserved, "24 reserved minus one flat 10")

	live, err := e.Reserves(ctx, soap, front)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 4, live[0].Quantity)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestInvariant_AvailableEqualsOnHandMinusReserved(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	steps := []func() (inventory.Position, error){
		func() (inventory.Position, error) { o, err := e.Add(ctx, mv(at(1, 0), soap, front, 40)); return o.Position, err },
		func() (inventory.Position, error) { o, err := e.AddReserve(ctx, mv(at(2, 0), soap, front, 15)); return o.Position, err },
		func() (inventory.Position, error) { o, err := e.Remove(ctx, mv(at(3, 0), soap, front, 5)); return o.Position, err },
		func() (inventory.Position, error) {
			o, err := e.Transfer(ctx, inventory.TransferRequest{EffectiveAt: at(4, 0), SKU: soap, Source: front, Destination: back, Quantity: 8})
			return o.Out.Position, err
		},
		func() (inventory.Position, error) { o, err := e.RemoveReserve(ctx, mv(at(2, 0), soap, front, 15)); return o.Position, err },
		func() (inventory.Position, error) { o, err := e.AddReserve(ctx, mv(at(5, 0), soap, front, 50)); return o.Position, err },
	}
	for i, step := range steps {
		pos, err := step()
		require.NoError(t, err, "step %d", i)
		assert.True(t, pos.Consistent(), "step %d: %+v", i, pos)
	}

	final := position(t, e, soap, front)
	assert.Equal(t, 27, final.OnHand)
	assert.Equal(t, 50, final.Reserved)
	assert.Equal(t, -23, final.Available)
}

// =============================================================================
// ERRORS / UNIT OF WORK
// =============================================================================

func TestUnknownProduct_ReferenceNotFound_NoWrites(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 0), "999", front, 5))
	require.Error(t, err)
	assert.True(t, inventory.IsNotFound(err))

	var refErr *inventory.ReferenceNotFoundError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, inventory.RefProduct, refErr.Kind)

	_, err = e.AddReserve(ctx, mv(at(10, 0), soap, "nowhere", 5))
	assert.ErrorIs(t, err, inventory.ErrReferenceNotFound)

	entries, err := mem.ListEntries(ctx, inventory.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFailedUpsert_RollsBackAppendedEntry(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := inventory.Seed(ctx, mem)
	require.NoError(t, err)

	boom := errors.New("disk full")
	faulty := &faultyStore{Memory: mem, upsertErr: boom}
	e := inventory.NewEngine(faulty)

	_, err = e.Add(ctx, mv(at(10, 0), soap, front, 5))
	require.ErrorIs(t, err, boom)

	entries, err := mem.ListEntries(ctx, inventory.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "entry append must not survive a failed projection")
}

func TestFailedReleaseUpsert_KeepsReserveEntries(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := inventory.Seed(ctx, mem)
	require.NoError(t, err)

	_, err = inventory.NewEngine(mem).AddReserve(ctx, mv(at(10, 0), soap, front, 5))
	require.NoError(t, err)

	faulty := &faultyStore{Memory: mem, upsertErr: errors.New("disk full")}
	_, err = inventory.NewEngine(faulty).RemoveReserve(ctx, mv(at(10, 0), soap, front, 5))
	require.Error(t, err)

	e := inventory.NewEngine(mem)
	live, err := e.Reserves(ctx, soap, front)
	require.NoError(t, err)
	assert.Len(t, live, 1, "delete and decrement commit together or not at all")
	assert.Equal(t, 5, position(t, e, soap, front).Reserved)
}

func TestConcurrentUpdate_RetriedTransparently(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := inventory.Seed(ctx, mem)
	require.NoError(t, err)

	faulty := &faultyStore{Memory: mem, conflicts: 2}
	e := inventory.NewEngine(faulty, inventory.WithRetry(3, time.Millisecond))

	out, err := e.Add(ctx, mv(at(10, 0), soap, front, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Position.OnHand)
	assert.Equal(t, 3, faulty.attempts)

	entries, err := mem.ListEntries(ctx, inventory.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "conflicting attempts are rolled back")
}

func TestConcurrentUpdate_RetriesExhausted_Surfaced(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := inventory.Seed(ctx, mem)
	require.NoError(t, err)

	faulty := &faultyStore{Memory: mem, conflicts: 10}
	e := inventory.NewEngine(faulty, inventory.WithRetry(2, time.Millisecond))

	_, err = e.Add(ctx, mv(at(10, 0), soap, front, 5))
	require.ErrorIs(t, err, inventory.ErrConcurrentUpdate)
	assert.True(t, inventory.IsRetryable(err))
	assert.Equal(t, 3, faulty.attempts, "one attempt plus two retries")
}

func TestStrictQuantities_RejectsNonPositive(t *testing.T) {
	e, mem := newTestEngine(t, inventory.WithStrictQuantities(true))
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 0), soap, front, 0))
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	var qErr *inventory.QuantityError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, inventory.OpAdd, qErr.Operation)

	_, err = e.Transfer(ctx, inventory.TransferRequest{EffectiveAt: at(10, 0), SKU: soap, Source: front, Destination: back, Quantity: -1})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = e.Balance(ctx, mv(at(10, 0), soap, front, -1))
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.EqualError(t, err, "balance: quantity must not be negative, got -1")

	entries, err := mem.ListEntries(ctx, inventory.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A zero count is a valid snapshot.
	_, err = e.Add(ctx, mv(at(10, 0), soap, front, 7))
	require.NoError(t, err)
	out, err := e.Balance(ctx, mv(at(11, 0), soap, front, 0))
	require.NoError(t, err)
	assert.True(t, out.Projected)
	assert.Equal(t, 0, out.Position.OnHand)
	assert.Equal(t, 0, out.Position.Available)
}

func TestPermissiveQuantities_AcceptedAsIs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, mv(at(10, 0), soap, front, 0))
	require.NoError(t, err)
	out, err := e.Add(ctx, mv(at(10, 1), soap, front, -4))
	require.NoError(t, err)
	assert.Equal(t, -4, out.Position.OnHand)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentAdds_SamePair_NoLostUpdates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := e.Add(ctx, mv(at(10, 0), soap, front, 1))
			return err
		})
		g.Go(func() error {
			_, err := e.Transfer(ctx, inventory.TransferRequest{EffectiveAt: at(10, 0), SKU: detergent, Source: front, Destination: back, Quantity: 1})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 50, position(t, e, soap, front).OnHand)
	assert.Equal(t, -50, position(t, e, detergent, front).OnHand)
	assert.Equal(t, 50, position(t, e, detergent, back).OnHand)
}

// =============================================================================
// TELEMETRY
// =============================================================================

func TestRecorder_SeesOperationsAndProjections(t *testing.T) {
	rec := &fakeRecorder{}
	e, _ := newTestEngine(t, inventory.WithRecorder(rec))
	ctx := context.Background()

	_, err := e.Balance(ctx, mv(at(20, 0), soap, front, 10))
	require.NoError(t, err)
	_, err = e.Add(ctx, mv(at(1, 0), soap, front, 1))
	require.NoError(t, err)
	_, err = e.Add(ctx, mv(at(1, 0), "missing", front, 1))
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"balance:ok", "add:ok", "add:error"}, rec.ops)
	assert.Equal(t, []string{"balance:applied", "add:superseded"}, rec.projections)
}

// =============================================================================
// FAKES
// =============================================================================

// faultyStore injects failures around the memory store.
type faultyStore struct {
	*store.Memory
	upsertErr error
	conflicts int // number of leading units of work that end in a conflict
	attempts  int
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(inventory.Stores) error) error {
	f.attempts++
	return f.Memory.WithTx(ctx, func(s inventory.Stores) error {
		if f.upsertErr != nil {
			s = failingUpserts{Stores: s, err: f.upsertErr}
		}
		if err := fn(s); err != nil {
			return err
		}
		if f.conflicts > 0 {
			f.conflicts--
			return inventory.ErrConcurrentUpdate
		}
		return nil
	})
}

type failingUpserts struct {
	inventory.Stores
	err error
}

func (f failingUpserts) UpsertPosition(context.Context, inventory.Position) (inventory.Position, error) {
	return inventory.Position{}, f.err
}

type fakeRecorder struct {
	mu          sync.Mutex
	ops         []string
	projections []string
}

func (r *fakeRecorder) ObserveOperation(op inventory.Operation, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops = append(r.ops, string(op)+":"+result)
}

func (r *fakeRecorder) ObserveProjection(op inventory.Operation, projected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := "superseded"
	if projected {
		outcome = "applied"
	}
	r.projections = append(r.projections, string(op)+":"+outcome)
}
