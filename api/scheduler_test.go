package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

type fakeObserver struct {
	checked, inconsistent int
	calls                 int
}

func (f *fakeObserver) ObserveAudit(checked, inconsistent int) {
	f.checked, f.inconsistent = checked, inconsistent
	f.calls++
}

func seededEngine(t *testing.T, opts ...inventory.Option) *inventory.Engine {
	t.Helper()
	s := store.NewMemory()
	_, err := inventory.Seed(context.Background(), s)
	require.NoError(t, err)
	return inventory.NewEngine(s, opts...)
}

func at(day, hour int) time.Time {
	return time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
}

func TestPositionAuditor_FlagsBalanceOverReservations(t *testing.T) {
	ctx := context.Background()
	engine := seededEngine(t)

	_, err := engine.Add(ctx, inventory.Movement{EffectiveAt: at(10, 9), SKU: "123", Deposit: "Teste", Quantity: 20})
	require.NoError(t, err)
	_, err = engine.Add(ctx, inventory.Movement{EffectiveAt: at(10, 9), SKU: "456", Deposit: "Teste", Quantity: 5})
	require.NoError(t, err)
	_, err = engine.AddReserve(ctx, inventory.Movement{EffectiveAt: at(10, 12), SKU: "123", Deposit: "Teste", Quantity: 5})
	require.NoError(t, err)

	// Default balance mode: available takes the snapshot, reserved stays.
	_, err = engine.Balance(ctx, inventory.Movement{EffectiveAt: at(11, 8), SKU: "123", Deposit: "Teste", Quantity: 30})
	require.NoError(t, err)

	obs := &fakeObserver{}
	auditor := NewPositionAuditor(engine, nil)
	auditor.Observer = obs

	report := auditor.Audit(ctx)

	assert.Empty(t, report.Error)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Inconsistent, 1)
	assert.Equal(t, "123", report.Inconsistent[0].SKU)
	assert.Equal(t, 30, report.Inconsistent[0].OnHand)
	assert.Equal(t, 5, report.Inconsistent[0].Reserved)
	assert.Equal(t, 30, report.Inconsistent[0].Available)
	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, 2, obs.checked)
	assert.Equal(t, 1, obs.inconsistent)
	require.NotNil(t, auditor.Last())
	assert.Equal(t, report.RanAt, auditor.Last().RanAt)
}

func TestPositionAuditor_KeepsReservationsModeIsConsistent(t *testing.T) {
	ctx := context.Background()
	engine := seededEngine(t, inventory.WithBalanceMode(inventory.BalanceKeepsReservations))

	_, err := engine.AddReserve(ctx, inventory.Movement{EffectiveAt: at(10, 12), SKU: "123", Deposit: "Teste", Quantity: 5})
	require.NoError(t, err)
	_, err = engine.Balance(ctx, inventory.Movement{EffectiveAt: at(11, 8), SKU: "123", Deposit: "Teste", Quantity: 30})
	require.NoError(t, err)

	report := NewPositionAuditor(engine, nil).Audit(ctx)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Inconsistent)
}

func TestPositionAuditor_StartStop(t *testing.T) {
	engine := seededEngine(t)
	obs := &fakeObserver{}
	auditor := NewPositionAuditor(engine, nil)
	auditor.Observer = obs
	auditor.CheckInterval = time.Hour

	auditor.Start()
	require.Eventually(t, func() bool { return auditor.Last() != nil }, time.Second, 5*time.Millisecond)
	auditor.Stop()
	auditor.Stop()

	assert.Equal(t, 0, auditor.Last().Checked)
}

func TestPositionAuditor_Disabled(t *testing.T) {
	auditor := NewPositionAuditor(seededEngine(t), nil)
	auditor.Enabled = false

	auditor.Start()
	auditor.Stop()

	assert.Nil(t, auditor.Last())
}

func TestAuditEndpoint(t *testing.T) {
	s := store.NewMemory()
	_, err := inventory.Seed(context.Background(), s)
	require.NoError(t, err)
	engine := inventory.NewEngine(s)
	auditor := NewPositionAuditor(engine, nil)
	router := NewRouter(NewHandler(engine, s, time.UTC, nil), RouterOptions{Auditor: auditor})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[AuditReport](t, rec)
	assert.Equal(t, 0, report.Checked)
	assert.NotNil(t, report.Inconsistent)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsMount(t *testing.T) {
	s := store.NewMemory()
	engine := inventory.NewEngine(s)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	withMetrics := NewRouter(NewHandler(engine, s, time.UTC, nil), RouterOptions{Metrics: metrics})
	rec := httptest.NewRecorder()
	withMetrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	without := NewRouter(NewHandler(engine, s, time.UTC, nil), RouterOptions{})
	rec = httptest.NewRecorder()
	without.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
