package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/inventory/store"
)

func TestCollector_ResultLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveOperation(inventory.OpAdd, time.Millisecond, nil)
	c.ObserveOperation(inventory.OpAdd, time.Millisecond, inventory.ProductNotFound("999"))
	c.ObserveOperation(inventory.OpTransfer, time.Millisecond, fmt.Errorf("commit: %w", inventory.ErrConcurrentUpdate))
	c.ObserveOperation(inventory.OpBalance, time.Millisecond, &inventory.QuantityError{Operation: "balance", Quantity: -1})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("transfer", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("balance", "invalid")))
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := inventory.Seed(ctx, s)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	e := inventory.NewEngine(s, inventory.WithRecorder(c))

	day := func(d int) time.Time { return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC) }

	// GIVEN a balance on the 12th
	_, err = e.Balance(ctx, inventory.Movement{EffectiveAt: day(12), SKU: "123", Deposit: "Teste", Quantity: 50})
	require.NoError(t, err)

	// WHEN an add dated before it arrives
	_, err = e.Add(ctx, inventory.Movement{EffectiveAt: day(11), SKU: "123", Deposit: "Teste", Quantity: 10})
	require.NoError(t, err)

	// THEN it is counted as superseded
	assert.Equal(t, 1.0, testutil.ToFloat64(c.projections.WithLabelValues("balance", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.projections.WithLabelValues("add", "superseded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "ok")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveProjection(inventory.OpAdd, true)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stock_ledger_projections_total{operation="add",outcome="applied"} 1`)
}

func TestCollector_ObserveAudit(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveAudit(12, 2)
	c.ObserveAudit(10, 1)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.audited))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inconsistent))
}
