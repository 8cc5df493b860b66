/*
Package command implements the operator command surface over the engine.

COMMANDS:
  init-bd
  add-inventory-entry      --date --sku --quantity --deposit-name
  remove-inventory-entry   --date --sku --quantity --deposit-name
  rebalance-inventory      --date --sku --quantity --deposit-name
  transfer-inventory       --date --sku --quantity --deposit-name-source --deposit-name-destination
  add-reserve-inventory    --date --sku --quantity --deposit-name
  remove-reserve-inventory --date --sku --quantity --deposit-name
  positions                [--sku] [--deposit-name]
  entries                  [--sku] [--deposit-name] [--type IN|OUT|BALANCE]

DATES:
  --date is dd/MM/yyyy HH:mm:ss, interpreted in the Runner's location.

QUANTITIES:
  Whole units. "10" and "10.0" are accepted, "2.5" is rejected.

USAGE:
  r := command.New(engine, store, time.UTC)
  out, err := r.Run(ctx, []string{"add-inventory-entry",
      "--date", "11/03/2025 09:00:00", "--sku", "123",
      "--quantity", "10", "--deposit-name", "Teste"})
*/
package command

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/warp/stock-ledger/inventory"
)

// ErrUsage is returned for unknown commands and bad or missing flags.
var ErrUsage = errors.New("usage")

type handler func(ctx context.Context, args []string) (string, error)

type Runner struct {
	engine *inventory.Engine
	store  inventory.TxStore
	loc    *time.Location

	commands map[string]handler
}

// New returns a Runner. store must be the one engine was built on; init-bd
// seeds it directly.
func New(engine *inventory.Engine, store inventory.TxStore, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	r := &Runner{engine: engine, store: store, loc: loc}
	r.commands = map[string]handler{
		"init-bd":                  r.initDatabase,
		"add-inventory-entry":      r.movement(inventory.OpAdd),
		"remove-inventory-entry":   r.movement(inventory.OpRemove),
		"rebalance-inventory":      r.movement(inventory.OpBalance),
		"transfer-inventory":       r.transfer,
		"add-reserve-inventory":    r.addReserve,
		"remove-reserve-inventory": r.removeReserve,
		"positions":                r.positions,
		"entries":                  r.entries,
	}
	return r
}

// Names lists the available commands in alphabetical order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes args[0] with the remaining arguments as flags and returns
// the text to show the operator.
func (r *Runner) Run(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: no command given", ErrUsage)
	}
	h, ok := r.commands[args[0]]
	if !ok {
		return "", fmt.Errorf("%w: unknown command %q (try: %s)", ErrUsage, args[0], strings.Join(r.Names(), ", "))
	}
	return h(ctx, args[1:])
}

// =============================================================================
// WRITE COMMANDS
// =============================================================================

func (r *Runner) initDatabase(ctx context.Context, args []string) (string, error) {
	if _, err := parseFlags("init-bd", args); err != nil {
		return "", err
	}
	seeded, err := inventory.Seed(ctx, r.store)
	if err != nil {
		return "", err
	}
	if !seeded {
		return "Database already initialized", nil
	}
	return "Database initialized", nil
}

func (r *Runner) movement(op inventory.Operation) handler {
	return func(ctx context.Context, args []string) (string, error) {
		m, err := r.parseMovement(string(op), args)
		if err != nil {
			return "", err
		}

		var out inventory.Outcome
		switch op {
		case inventory.OpAdd:
			out, err = r.engine.Add(ctx, m)
		case inventory.OpRemove:
			out, err = r.engine.Remove(ctx, m)
		case inventory.OpBalance:
			out, err = r.engine.Balance(ctx, m)
		}
		if err != nil {
			return "", err
		}
		return describeOutcome(m.SKU, m.Deposit, out), nil
	}
}

func (r *Runner) transfer(ctx context.Context, args []string) (string, error) {
	fs := newFlagSet("transfer-inventory")
	date := fs.String("date", "", "effective date, dd/MM/yyyy HH:mm:ss")
	sku := fs.String("sku", "", "product SKU")
	quantity := fs.String("quantity", "", "whole units to move")
	source := fs.String("deposit-name-source", "", "deposit the stock leaves")
	dest := fs.String("deposit-name-destination", "", "deposit the stock enters")
	if err := fs.parse(args); err != nil {
		return "", err
	}
	if err := required(fs, "date", "sku", "quantity", "deposit-name-source", "deposit-name-destination"); err != nil {
		return "", err
	}

	at, qty, err := r.parseDateAndQuantity(*date, *quantity)
	if err != nil {
		return "", err
	}

	out, err := r.engine.Transfer(ctx, inventory.TransferRequest{
		EffectiveAt: at,
		SKU:         *sku,
		Source:      *source,
		Destination: *dest,
		Quantity:    qty,
	})
	if err != nil {
		return "", err
	}
	return describeOutcome(*sku, *source, out.Out) + "\n" + describeOutcome(*sku, *dest, out.In), nil
}

func (r *Runner) addReserve(ctx context.Context, args []string) (string, error) {
	m, err := r.parseMovement("add-reserve-inventory", args)
	if err != nil {
		return "", err
	}
	out, err := r.engine.AddReserve(ctx, m)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RESERVE %d of %s at %s: %s", m.Quantity, m.SKU, m.Deposit, describePosition(out.Position)), nil
}

func (r *Runner) removeReserve(ctx context.Context, args []string) (string, error) {
	m, err := r.parseMovement("remove-reserve-inventory", args)
	if err != nil {
		return "", err
	}
	out, err := r.engine.RemoveReserve(ctx, m)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RELEASE %d of %s at %s (%d entries removed): %s",
		m.Quantity, m.SKU, m.Deposit, out.Deleted, describePosition(out.Position)), nil
}

// =============================================================================
// READ COMMANDS
// =============================================================================

func (r *Runner) positions(ctx context.Context, args []string) (string, error) {
	fs := newFlagSet("positions")
	sku := fs.String("sku", "", "only this product")
	deposit := fs.String("deposit-name", "", "only this deposit")
	if err := fs.parse(args); err != nil {
		return "", err
	}

	positions, err := r.engine.Positions(ctx, *sku, *deposit)
	if err != nil {
		return "", err
	}
	names, err := r.engine.CatalogIndex(ctx)
	if err != nil {
		return "", err
	}

	return table(func(w io.Writer) {
		fmt.Fprintln(w, "SKU\tDEPOSIT\tON HAND\tRESERVED\tAVAILABLE")
		for _, p := range positions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
				names.SKUs[p.ProductID], names.Deposits[p.DepositID], p.OnHand, p.Reserved, p.Available)
		}
	}), nil
}

func (r *Runner) entries(ctx context.Context, args []string) (string, error) {
	fs := newFlagSet("entries")
	sku := fs.String("sku", "", "only this product")
	deposit := fs.String("deposit-name", "", "only this deposit")
	typ := fs.String("type", "", "only IN, OUT or BALANCE")
	if err := fs.parse(args); err != nil {
		return "", err
	}
	entryType := inventory.EntryType(strings.ToUpper(*typ))
	if entryType != "" && !entryType.Valid() {
		return "", fmt.Errorf("%w: --type must be IN, OUT or BALANCE", ErrUsage)
	}

	entries, err := r.engine.Entries(ctx, *sku, *deposit, entryType)
	if err != nil {
		return "", err
	}
	names, err := r.engine.CatalogIndex(ctx)
	if err != nil {
		return "", err
	}

	return table(func(w io.Writer) {
		fmt.Fprintln(w, "DATE\tTYPE\tSKU\tDEPOSIT\tQUANTITY\tCOUNTERPARTY\tOPERATION")
		for _, e := range entries {
			counterparty := "-"
			if e.CounterpartyDepositID != nil {
				counterparty = names.Deposits[*e.CounterpartyDepositID]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				inventory.FormatDate(e.EffectiveAt.In(r.loc)), e.Type,
				names.SKUs[e.ProductID], names.Deposits[e.DepositID],
				e.Quantity, counterparty, e.OperationID)
		}
	}), nil
}

// =============================================================================
// PARSING / FORMATTING
// =============================================================================

func (r *Runner) parseMovement(name string, args []string) (inventory.Movement, error) {
	fs := newFlagSet(name)
	date := fs.String("date", "", "effective date, dd/MM/yyyy HH:mm:ss")
	sku := fs.String("sku", "", "product SKU")
	quantity := fs.String("quantity", "", "whole units")
	deposit := fs.String("deposit-name", "", "deposit name")
	if err := fs.parse(args); err != nil {
		return inventory.Movement{}, err
	}
	if err := required(fs, "date", "sku", "quantity", "deposit-name"); err != nil {
		return inventory.Movement{}, err
	}

	at, qty, err := r.parseDateAndQuantity(*date, *quantity)
	if err != nil {
		return inventory.Movement{}, err
	}
	return inventory.Movement{EffectiveAt: at, SKU: *sku, Deposit: *deposit, Quantity: qty}, nil
}

func (r *Runner) parseDateAndQuantity(date, quantity string) (time.Time, int, error) {
	at, err := inventory.ParseDate(date, r.loc)
	if err != nil {
		return time.Time{}, 0, err
	}
	qty, err := inventory.ParseQuantity(quantity)
	if err != nil {
		return time.Time{}, 0, err
	}
	return at, qty, nil
}

type flagSet struct {
	*flag.FlagSet
	usage bytes.Buffer
}

func newFlagSet(name string) *flagSet {
	fs := &flagSet{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs.SetOutput(&fs.usage)
	return fs
}

func (fs *flagSet) parse(args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected argument %q", ErrUsage, fs.Name(), fs.Arg(0))
	}
	return nil
}

func parseFlags(name string, args []string) (*flagSet, error) {
	fs := newFlagSet(name)
	return fs, fs.parse(args)
}

func required(fs *flagSet, names ...string) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var missing []string
	for _, n := range names {
		if !set[n] {
			missing = append(missing, "--"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing %s", ErrUsage, fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func describeOutcome(sku, deposit string, out inventory.Outcome) string {
	line := fmt.Sprintf("%s %d of %s at %s", out.Entry.Type, out.Entry.Quantity, sku, deposit)
	if !out.Projected {
		return line + ": logged, superseded by a later balance (" + describePosition(out.Position) + ")"
	}
	return line + ": " + describePosition(out.Position)
}

func describePosition(p inventory.Position) string {
	return fmt.Sprintf("on hand %d, reserved %d, available %d", p.OnHand, p.Reserved, p.Available)
}

func table(write func(io.Writer)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	write(w)
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}
