package inventory

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// BalanceMode selects how a projected BALANCE sets available.
type BalanceMode int

const (
	// BalanceOverwritesAvailable sets Available = quantity and leaves
	// Reserved untouched. This is the historical behavior.
	BalanceOverwritesAvailable BalanceMode = iota

	// BalanceKeepsReservations sets Available = quantity - Reserved.
	BalanceKeepsReservations
)

// Recorder receives engine telemetry. See package metrics.
type Recorder interface {
	ObserveOperation(op Operation, d time.Duration, err error)
	ObserveProjection(op Operation, projected bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(Operation, time.Duration, error) {}
func (nopRecorder) ObserveProjection(Operation, bool)                {}

type config struct {
	logger           *slog.Logger
	recorder         Recorder
	now              func() time.Time
	newID            func() string
	maxRetries       uint64
	retryBase        time.Duration
	strictQuantities bool
	balanceMode      BalanceMode
}

func defaultConfig() config {
	return config{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:   nopRecorder{},
		now:        time.Now,
		newID:      uuid.NewString,
		maxRetries: 3,
		retryBase:  10 * time.Millisecond,
	}
}

type Option func(*config)

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *config) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock overrides the source of RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithOperationIDs overrides how operation IDs are generated.
func WithOperationIDs(gen func() string) Option {
	return func(c *config) { c.newID = gen }
}

// WithRetry sets how many times a conflicting unit of work is retried and
// the base of the exponential backoff between attempts.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *config) {
		c.maxRetries = maxRetries
		if base > 0 {
			c.retryBase = base
		}
	}
}

// WithStrictQuantities rejects movement and reserve quantities <= 0 with
// ErrInvalidQuantity. A BALANCE of zero records an empty count and is
// accepted; a negative one is rejected.
func WithStrictQuantities(strict bool) Option {
	return func(c *config) { c.strictQuantities = strict }
}

func WithBalanceMode(m BalanceMode) Option {
	return func(c *config) { c.balanceMode = m }
}
