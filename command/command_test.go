package command

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

func newRunner(t *testing.T, opts ...inventory.Option) *Runner {
	t.Helper()
	s := store.NewMemory()
	r := New(inventory.NewEngine(s, opts...), s, time.UTC)
	out, err := r.Run(context.Background(), []string{"init-bd"})
	require.NoError(t, err)
	require.Equal(t, "Database initialized", out)
	return r
}

func run(t *testing.T, r *Runner, line string) string {
	t.Helper()
	args, err := SplitArgs(line)
	require.NoError(t, err)
	out, err := r.Run(context.Background(), args)
	require.NoError(t, err, line)
	return out
}

func TestInitDatabase_OnlyOnce(t *testing.T) {
	r := newRunner(t)

	out, err := r.Run(context.Background(), []string{"init-bd"})
	require.NoError(t, err)
	assert.Equal(t, "Database already initialized", out)
}

func TestMovementCommands(t *testing.T) {
	r := newRunner(t)

	out := run(t, r, `add-inventory-entry --date "10/03/2025 09:00:00" --sku 123 --quantity 10 --deposit-name Teste`)
	assert.Equal(t, "IN 10 of 123 at Teste: on hand 10, reserved 0, available 10", out)

	out = run(t, r, `remove-inventory-entry --date "10/03/2025 10:00:00" --sku 123 --quantity 3.0 --deposit-name Teste`)
	assert.Equal(t, "OUT 3 of 123 at Teste: on hand 7, reserved 0, available 7", out)

	out = run(t, r, `rebalance-inventory --date "12/03/2025 15:00:00" --sku 123 --quantity 50 --deposit-name Teste`)
	assert.Equal(t, "BALANCE 50 of 123 at Teste: on hand 50, reserved 0, available 50", out)

	// GIVEN a balance on the 12th, WHEN an add dated on the 11th arrives
	out = run(t, r, `add-inventory-entry --date "11/03/2025 09:00:00" --sku 123 --quantity 10 --deposit-name Teste`)
	// THEN it is logged but not projected
	assert.Contains(t, out, "superseded")
	assert.Contains(t, out, "on hand 50")
}

func TestTransferCommand(t *testing.T) {
	r := newRunner(t)
	run(t, r, `add-inventory-entry --date "10/03/2025 09:00:00" --sku 456 --quantity 40 --deposit-name Teste`)

	out := run(t, r, `transfer-inventory --date "13/03/2025 00:00:00" --sku 456 --quantity 15 --deposit-name-source Teste --deposit-name-destination Teste2`)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "OUT 15 of 456 at Teste: on hand 25, reserved 0, available 25", lines[0])
	assert.Equal(t, "IN 15 of 456 at Teste2: on hand 15, reserved 0, available 15", lines[1])
}

func TestReserveCommands(t *testing.T) {
	r := newRunner(t)
	run(t, r, `add-inventory-entry --date "10/03/2025 09:00:00" --sku 123 --quantity 20 --deposit-name Teste`)

	out := run(t, r, `add-reserve-inventory --date "10/03/2025 12:00:00" --sku 123 --quantity 5 --deposit-name Teste`)
	assert.Equal(t, "RESERVE 5 of 123 at Teste: on hand 20, reserved 5, available 15", out)

	out = run(t, r, `remove-reserve-inventory --date "10/03/2025 12:00:00" --sku 123 --quantity 5 --deposit-name Teste`)
	assert.Equal(t, "RELEASE 5 of 123 at Teste (1 entries removed): on hand 20, reserved 0, available 20", out)
}

func TestReadCommands(t *testing.T) {
	r := newRunner(t)
	run(t, r, `add-inventory-entry --date "10/03/2025 09:00:00" --sku 123 --quantity 20 --deposit-name Teste`)
	run(t, r, `transfer-inventory --date "11/03/2025 09:00:00" --sku 123 --quantity 5 --deposit-name-source Teste --deposit-name-destination Teste2`)

	positions := run(t, r, "positions")
	lines := strings.Split(positions, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"SKU", "DEPOSIT", "ON", "HAND", "RESERVED", "AVAILABLE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"123", "Teste", "15", "0", "15"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"123", "Teste2", "5", "0", "5"}, strings.Fields(lines[2]))

	entries := run(t, r, "entries --deposit-name Teste2 --type in")
	lines = strings.Split(entries, "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	assert.Equal(t, []string{"11/03/2025", "09:00:00", "IN", "123", "Teste2", "5", "Teste"}, fields[:7])
}

func TestUsageErrors(t *testing.T) {
	r := newRunner(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
	}{
		{"empty", nil},
		{"unknown command", []string{"delete-everything"}},
		{"missing flags", []string{"add-inventory-entry", "--sku", "123"}},
		{"unknown flag", []string{"positions", "--color", "red"}},
		{"stray argument", []string{"init-bd", "now"}},
		{"bad type", []string{"entries", "--type", "RESERVE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(ctx, tt.args)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestInputErrors(t *testing.T) {
	r := newRunner(t)
	ctx := context.Background()

	base := func(date, qty, deposit string) []string {
		return []string{"add-inventory-entry", "--date", date, "--sku", "123", "--quantity", qty, "--deposit-name", deposit}
	}

	_, err := r.Run(ctx, base("2025-03-10", "1", "Teste"))
	assert.ErrorIs(t, err, inventory.ErrInvalidDate)

	_, err = r.Run(ctx, base("10/03/2025 09:00:00", "1.5", "Teste"))
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = r.Run(ctx, base("10/03/2025 09:00:00", "1", "Nowhere"))
	assert.ErrorIs(t, err, inventory.ErrReferenceNotFound)

	entries, err := r.engine.Entries(ctx, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, entries, "failed commands write nothing")
}

func TestDatesUseRunnerLocation(t *testing.T) {
	s := store.NewMemory()
	brt := time.FixedZone("BRT", -3*60*60)
	r := New(inventory.NewEngine(s), s, brt)
	run(t, r, "init-bd")
	run(t, r, `add-inventory-entry --date "10/03/2025 22:00:00" --sku 123 --quantity 1 --deposit-name Teste`)

	entries, err := r.engine.Entries(context.Background(), "123", "Teste", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, time.Date(2025, time.March, 11, 1, 0, 0, 0, time.UTC), entries[0].EffectiveAt.UTC())
}

func TestShell(t *testing.T) {
	r := newRunner(t)
	in := strings.NewReader(strings.Join([]string{
		`add-inventory-entry --date "10/03/2025 09:00:00" --sku 123 --quantity 4 --deposit-name Teste`,
		"",
		`add-inventory-entry --date "10/03/2025 09:00:00" --sku 999 --quantity 4 --deposit-name Teste`,
		`positions --sku "123`,
		"exit",
		"help",
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, r.Shell(context.Background(), in, &out))

	got := out.String()
	assert.Contains(t, got, "IN 4 of 123 at Teste: on hand 4")
	assert.Contains(t, got, `error: product "999" not found`)
	assert.Regexp(t, `error: usage: .*closing quote`, got)
	assert.NotContains(t, got, "init-bd", "input after exit is not read")
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"positions", []string{"positions"}},
		{`a  --date "10/03/2025 09:00:00"  b`, []string{"a", "--date", "10/03/2025 09:00:00", "b"}},
		{`--deposit-name 'Back Room'`, []string{"--deposit-name", "Back Room"}},
		{`--deposit-name "Loja \"Centro\""`, []string{"--deposit-name", `Loja "Centro"`}},
		{`--deposit-name Back\ Room`, []string{"--deposit-name", "Back Room"}},
		{"--sku\t123", []string{"--sku", "123"}},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	got, err := SplitArgs("   ")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = SplitArgs(`--date "10/03/2025`)
	assert.ErrorIs(t, err, ErrUsage)
}
