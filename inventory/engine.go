/*
engine.go - Ledger engine: append entries, project them onto positions

PURPOSE:
  Exposes the six mutating operations. Each one appends the entries it
  produces and then, subject to the supersession policy, updates the
  Position of every pair it touches.

SUPERSESSION:
  A movement dated at T is logged but NOT projected when the pair already
  has a BALANCE entry with EffectiveAt >= T: that snapshot already accounts
  for (or overrides) the period containing the movement.

  A BALANCE is first truncated to the start of its day. It is projected
  unless another BALANCE exists strictly after that day, so two balances on
  the same day both apply and the last one wins.

  Reservations are never subject to supersession.

UNIT OF WORK:
  Every call runs inside one TxStore.WithTx. References are resolved first,
  so an unknown SKU or deposit aborts before any write. A failure anywhere
  rolls back every append and upsert of the call. ErrConcurrentUpdate is
  retried with exponential backoff.

TRANSFER:
  Two independent legs sharing one effective date. Each leg is checked
  against its own deposit's BALANCE history, so one leg may be superseded
  while the other applies.

SEE ALSO:
  - store.go: Contracts the engine depends on
  - options.go: Engine configuration
*/
package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Operation names an engine call, for logs, metrics and errors.
type Operation string

const (
	OpAdd           Operation = "add"
	OpRemove        Operation = "remove"
	OpBalance       Operation = "balance"
	OpTransfer      Operation = "transfer"
	OpAddReserve    Operation = "add_reserve"
	OpRemoveReserve Operation = "remove_reserve"
)

// =============================================================================
// INPUTS / OUTCOMES
// =============================================================================

// Movement is the input of Add, Remove, Balance, AddReserve and RemoveReserve.
type Movement struct {
	EffectiveAt time.Time
	SKU         string
	Deposit     string
	Quantity    int
}

// TransferRequest moves Quantity of SKU from Source to Destination.
type TransferRequest struct {
	EffectiveAt time.Time
	SKU         string
	Source      string
	Destination string
	Quantity    int
}

// Outcome describes one appended entry and its effect on the position.
type Outcome struct {
	Entry Entry

	// Projected is false when a later BALANCE superseded the movement and
	// the position was left untouched.
	Projected bool
	Position  Position
}

type TransferOutcome struct {
	Out Outcome
	In  Outcome
}

type ReserveOutcome struct {
	Entry    ReserveEntry
	Position Position
}

type ReleaseOutcome struct {
	// Deleted is how many reserve entries matched. The position is
	// decremented by the requested quantity even when it is zero.
	Deleted  int
	Position Position
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store TxStore
	cfg   config
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{store: store, cfg: cfg}
}

// Add appends an IN entry and increments on-hand unless superseded.
func (e *Engine) Add(ctx context.Context, m Movement) (Outcome, error) {
	return e.movement(ctx, OpAdd, EntryIn, m)
}

// Remove appends an OUT entry and decrements on-hand unless superseded.
// On-hand is allowed to go negative.
func (e *Engine) Remove(ctx context.Context, m Movement) (Outcome, error) {
	return e.movement(ctx, OpRemove, EntryOut, m)
}

func (e *Engine) movement(ctx context.Context, op Operation, typ EntryType, m Movement) (Outcome, error) {
	if err := e.checkQuantity(op, m.Quantity); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err := e.run(ctx, op, func(s Stores, opID string) error {
		product, deposits, err := resolve(ctx, s, m.SKU, m.Deposit)
		if err != nil {
			return err
		}
		out, err = e.applyLeg(ctx, s, leg{
			op:       op,
			opID:     opID,
			typ:      typ,
			at:       m.EffectiveAt,
			product:  product,
			deposit:  deposits[0],
			quantity: m.Quantity,
		})
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	e.logOutcome(ctx, op, m.SKU, m.Deposit, out)
	return out, nil
}

// Balance appends a BALANCE snapshot at the start of m.EffectiveAt's day
// and force-sets on-hand unless a later snapshot already exists.
//
// By default available is set to the snapshot quantity and reserved is left
// as is, so Available == OnHand - Reserved only holds when nothing is
// reserved. WithBalanceMode(BalanceKeepsReservations) recomputes available
// from the existing reservations instead.
func (e *Engine) Balance(ctx context.Context, m Movement) (Outcome, error) {
	if err := e.checkQuantity(OpBalance, m.Quantity); err != nil {
		return Outcome{}, err
	}

	day := StartOfDay(m.EffectiveAt)
	var out Outcome
	err := e.run(ctx, OpBalance, func(s Stores, opID string) error {
		product, deposits, err := resolve(ctx, s, m.SKU, m.Deposit)
		if err != nil {
			return err
		}
		out, err = e.applyLeg(ctx, s, leg{
			op:       OpBalance,
			opID:     opID,
			typ:      EntryBalance,
			at:       day,
			product:  product,
			deposit:  deposits[0],
			quantity: m.Quantity,
		})
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	e.logOutcome(ctx, OpBalance, m.SKU, m.Deposit, out)
	return out, nil
}

// Transfer appends an OUT leg on the source and an IN leg on the
// destination, each referencing the other deposit as counterparty.
func (e *Engine) Transfer(ctx context.Context, t TransferRequest) (TransferOutcome, error) {
	if err := e.checkQuantity(OpTransfer, t.Quantity); err != nil {
		return TransferOutcome{}, err
	}

	var out TransferOutcome
	err := e.run(ctx, OpTransfer, func(s Stores, opID string) error {
		product, deposits, err := resolve(ctx, s, t.SKU, t.Source, t.Destination)
		if err != nil {
			return err
		}
		source, dest := deposits[0], deposits[1]

		out.Out, err = e.applyLeg(ctx, s, leg{
			op:           OpTransfer,
			opID:         opID,
			typ:          EntryOut,
			at:           t.EffectiveAt,
			product:      product,
			deposit:      source,
			counterparty: &dest.ID,
			quantity:     t.Quantity,
		})
		if err != nil {
			return err
		}
		out.In, err = e.applyLeg(ctx, s, leg{
			op:           OpTransfer,
			opID:         opID,
			typ:          EntryIn,
			at:           t.EffectiveAt,
			product:      product,
			deposit:      dest,
			counterparty: &source.ID,
			quantity:     t.Quantity,
		})
		return err
	})
	if err != nil {
		return TransferOutcome{}, err
	}
	e.logOutcome(ctx, OpTransfer, t.SKU, t.Source, out.Out)
	e.logOutcome(ctx, OpTransfer, t.SKU, t.Destination, out.In)
	return out, nil
}

// AddReserve appends a reserve entry and increments reserved. No
// supersession check applies.
func (e *Engine) AddReserve(ctx context.Context, m Movement) (ReserveOutcome, error) {
	if err := e.checkQuantity(OpAddReserve, m.Quantity); err != nil {
		return ReserveOutcome{}, err
	}

	var out ReserveOutcome
	err := e.run(ctx, OpAddReserve, func(s Stores, opID string) error {
		product, deposits, err := resolve(ctx, s, m.SKU, m.Deposit)
		if err != nil {
			return err
		}
		deposit := deposits[0]

		entry := ReserveEntry{
			OperationID: opID,
			EffectiveAt: m.EffectiveAt,
			RecordedAt:  e.cfg.now(),
			ProductID:   product.ID,
			DepositID:   deposit.ID,
			Quantity:    m.Quantity,
		}
		if entry.ID, err = s.AppendReserve(ctx, entry); err != nil {
			return err
		}

		pos, err := e.updatePosition(ctx, s, deposit.ID, product.ID, func(p *Position) {
			p.Reserved += m.Quantity
			p.recompute()
		})
		if err != nil {
			return err
		}
		out = ReserveOutcome{Entry: entry, Position: pos}
		return nil
	})
	if err != nil {
		return ReserveOutcome{}, err
	}
	e.cfg.logger.InfoContext(ctx, "inventory reserve entry created",
		"operation_id", out.Entry.OperationID,
		"sku", m.SKU,
		"deposit", m.Deposit,
		"quantity", m.Quantity,
		"reserved", out.Position.Reserved,
		"available", out.Position.Available,
	)
	return out, nil
}

// RemoveReserve deletes every reserve entry matching the four-tuple and
// decrements reserved by m.Quantity exactly once, however many entries
// were deleted (including none).
func (e *Engine) RemoveReserve(ctx context.Context, m Movement) (ReleaseOutcome, error) {
	if err := e.checkQuantity(OpRemoveReserve, m.Quantity); err != nil {
		return ReleaseOutcome{}, err
	}

	var out ReleaseOutcome
	err := e.run(ctx, OpRemoveReserve, func(s Stores, _ string) error {
		product, deposits, err := resolve(ctx, s, m.SKU, m.Deposit)
		if err != nil {
			return err
		}
		deposit := deposits[0]

		deleted, err := s.DeleteReserves(ctx, ReserveKey{
			EffectiveAt: m.EffectiveAt,
			ProductID:   product.ID,
			DepositID:   deposit.ID,
			Quantity:    m.Quantity,
		})
		if err != nil {
			return err
		}

		pos, err := e.updatePosition(ctx, s, deposit.ID, product.ID, func(p *Position) {
			p.Reserved -= m.Quantity
			p.recompute()
		})
		if err != nil {
			return err
		}
		out = ReleaseOutcome{Deleted: deleted, Position: pos}
		return nil
	})
	if err != nil {
		return ReleaseOutcome{}, err
	}
	if out.Deleted == 0 {
		e.cfg.logger.WarnContext(ctx, "reserve released without matching entries",
			"sku", m.SKU, "deposit", m.Deposit, "quantity", m.Quantity)
	}
	e.cfg.logger.InfoContext(ctx, "inventory reserve entries removed",
		"sku", m.SKU,
		"deposit", m.Deposit,
		"deleted", out.Deleted,
		"reserved", out.Position.Reserved,
		"available", out.Position.Available,
	)
	return out, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

type leg struct {
	op           Operation
	opID         string
	typ          EntryType
	at           time.Time
	product      Product
	deposit      Deposit
	counterparty *DepositID
	quantity     int
}

// applyLeg appends one entry and projects it unless superseded.
func (e *Engine) applyLeg(ctx context.Context, s Stores, l leg) (Outcome, error) {
	entry := Entry{
		OperationID:           l.opID,
		Type:                  l.typ,
		Quantity:              l.quantity,
		EffectiveAt:           l.at,
		RecordedAt:            e.cfg.now(),
		ProductID:             l.product.ID,
		DepositID:             l.deposit.ID,
		CounterpartyDepositID: l.counterparty,
	}
	id, err := s.AppendEntry(ctx, entry)
	if err != nil {
		return Outcome{}, err
	}
	entry.ID = id

	var superseded bool
	if l.typ == EntryBalance {
		superseded, err = s.HasBalanceAfter(ctx, l.product.ID, l.deposit.ID, l.at)
	} else {
		superseded, err = s.HasBalanceOnOrAfter(ctx, l.product.ID, l.deposit.ID, l.at)
	}
	if err != nil {
		return Outcome{}, err
	}
	e.cfg.recorder.ObserveProjection(l.op, !superseded)

	if superseded {
		pos, err := s.GetPosition(ctx, l.deposit.ID, l.product.ID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Entry: entry, Projected: false, Position: pos}, nil
	}

	pos, err := e.updatePosition(ctx, s, l.deposit.ID, l.product.ID, func(p *Position) {
		switch l.typ {
		case EntryIn:
			p.OnHand += l.quantity
			p.recompute()
		case EntryOut:
			p.OnHand -= l.quantity
			p.recompute()
		case EntryBalance:
			p.OnHand = l.quantity
			if e.cfg.balanceMode == BalanceKeepsReservations {
				p.recompute()
			} else {
				p.Available = l.quantity
			}
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: entry, Projected: true, Position: pos}, nil
}

// updatePosition is the read-modify-write on a pair's row.
func (e *Engine) updatePosition(ctx context.Context, s PositionStore, deposit DepositID, product ProductID, mutate func(*Position)) (Position, error) {
	pos, err := s.GetPosition(ctx, deposit, product)
	if err != nil {
		return Position{}, err
	}
	mutate(&pos)
	return s.UpsertPosition(ctx, pos)
}

// resolve looks up the product and every deposit before anything is written.
func resolve(ctx context.Context, s CatalogStore, sku string, depositNames ...string) (Product, []Deposit, error) {
	product, err := s.ProductBySKU(ctx, sku)
	if err != nil {
		return Product{}, nil, err
	}
	deposits := make([]Deposit, 0, len(depositNames))
	for _, name := range depositNames {
		d, err := s.DepositByName(ctx, name)
		if err != nil {
			return Product{}, nil, err
		}
		deposits = append(deposits, d)
	}
	return product, deposits, nil
}

// checkQuantity rejects non-positive movement quantities in strict mode. A
// BALANCE quantity is a counted level, so only negative ones are rejected.
func (e *Engine) checkQuantity(op Operation, qty int) error {
	if !e.cfg.strictQuantities {
		return nil
	}
	if qty < 0 || (qty == 0 && op != OpBalance) {
		return &QuantityError{Operation: op, Quantity: qty}
	}
	return nil
}

// run executes fn as one unit of work, retrying concurrent update conflicts.
func (e *Engine) run(ctx context.Context, op Operation, fn func(s Stores, opID string) error) error {
	start := time.Now()
	opID := e.cfg.newID()
	attempt := 0

	backoff := retry.WithMaxRetries(e.cfg.maxRetries, retry.NewExponential(e.cfg.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := e.store.WithTx(ctx, func(s Stores) error {
			return fn(s, opID)
		})
		if IsRetryable(err) {
			e.cfg.logger.WarnContext(ctx, "unit of work conflicted, retrying",
				"operation", op, "operation_id", opID, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})

	e.cfg.recorder.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		e.cfg.logger.DebugContext(ctx, "operation failed", "operation", op, "operation_id", opID, "err", err)
	}
	return err
}

func (e *Engine) logOutcome(ctx context.Context, op Operation, sku, deposit string, out Outcome) {
	attrs := []any{
		"operation", op,
		"operation_id", out.Entry.OperationID,
		"entry_id", out.Entry.ID,
		"type", out.Entry.Type,
		"sku", sku,
		"deposit", deposit,
		"quantity", out.Entry.Quantity,
		"effective_at", out.Entry.EffectiveAt,
		"projected", out.Projected,
	}
	if out.Projected {
		attrs = append(attrs,
			"on_hand", out.Position.OnHand,
			"reserved", out.Position.Reserved,
			"available", out.Position.Available,
		)
	}
	e.cfg.logger.Log(ctx, levelFor(out), "inventory entry created", attrs...)
}

func levelFor(out Outcome) slog.Level {
	if out.Projected {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
