// Package store opens the ledger store selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/inventory"
	memstore "github.com/warp/stock-ledger/inventory/store"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
)

// Open connects to the configured driver and runs its migrations. The
// returned close func releases the connection and is never nil.
func Open(ctx context.Context, cfg config.Config) (inventory.TxStore, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	case config.DriverMemory:
		return memstore.NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
