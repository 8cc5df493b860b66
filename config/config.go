// Package config loads process configuration from an optional YAML file,
// STOCK_* environment variables (optionally seeded from a .env file) and
// defaults. Environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/warp/stock-ledger/inventory"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Store struct {
		Driver      string
		SQLitePath  string `mapstructure:"sqlite_path"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`

	Ledger struct {
		MaxRetries               uint64        `mapstructure:"max_retries"`
		RetryBase                time.Duration `mapstructure:"retry_base"`
		StrictQuantities         bool          `mapstructure:"strict_quantities"`
		BalanceKeepsReservations bool          `mapstructure:"balance_keeps_reservations"`
	} `mapstructure:"ledger"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

// Load reads path when it is non-empty. Every key can be overridden by
// STOCK_<SECTION>_<KEY>, e.g. STOCK_STORE_DRIVER=postgres.
func Load(path string) (Config, error) {
	// Variables already set in the process environment are not overwritten.
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./stock.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.retry_base", 10*time.Millisecond)
	v.SetDefault("ledger.strict_quantities", false)
	v.SetDefault("ledger.balance_keeps_reservations", false)
	v.SetDefault("metrics.enabled", true)
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("config: store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("config: store.postgres_dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone command dates are interpreted in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// EngineOptions translates the ledger section into engine options.
func (c Config) EngineOptions() []inventory.Option {
	mode := inventory.BalanceOverwritesAvailable
	if c.Ledger.BalanceKeepsReservations {
		mode = inventory.BalanceKeepsReservations
	}
	return []inventory.Option{
		inventory.WithRetry(c.Ledger.MaxRetries, c.Ledger.RetryBase),
		inventory.WithStrictQuantities(c.Ledger.StrictQuantities),
		inventory.WithBalanceMode(mode),
	}
}
