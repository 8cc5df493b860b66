/*
main.go - Operator command line

Runs one ledger command and exits, or starts an interactive shell when no
command is given.

EXAMPLES:
  stockctl init-bd
  stockctl add-inventory-entry --date "11/03/2025 09:00:00" --sku 123 \
      --quantity 10 --deposit-name Teste
  stockctl -config stock.yaml          # interactive

Configuration is shared with the server (config/config.go), so both
processes can point at the same SQLite file or Postgres database.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/stock-ledger/command"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	err := run(*configPath, flag.Args())
	switch {
	case err == nil:
	case errors.Is(err, command.ErrUsage):
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	// Command output goes to stdout; engine logs go to stderr.
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr)
	engine := inventory.NewEngine(s, append(cfg.EngineOptions(), inventory.WithLogger(log))...)
	runner := command.New(engine, s, loc)

	if len(args) == 0 {
		return runner.Shell(ctx, os.Stdin, os.Stdout)
	}
	out, err := runner.Run(ctx, args)
	if out != "" {
		fmt.Println(out)
	}
	return err
}
