package metrics

import (
	"context"
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/idp-sessions-go/sessionmanager"
	"github.com/ggoodman/idp-sessions-go/storage/memory"
)

func TestPrometheusSinkCountsLifecycle(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	sink, err := NewPrometheus(reg)
	require.NoError(t, err)

	store, err := memory.New(10, memory.WithSweepInterval(0))
	require.NoError(t, err)
	defer store.Close()

	mgr, err := sessionmanager.New(store, sessionmanager.WithMetrics(sink))
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	ctx := context.Background()
	s, err := mgr.CreateSession(ctx, netip.MustParseAddr("127.0.0.1"), "alice")
	require.NoError(t, err)
	_, err = mgr.GetSession(ctx, s.ID())
	require.NoError(t, err)
	_, err = mgr.GetSession(ctx, "missing")
	require.ErrorIs(t, err, sessionmanager.ErrSessionNotFound)
	require.NoError(t, mgr.DestroySession(ctx, s.ID()))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.created))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.destroyed.WithLabelValues("logout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.lifetime))
}

func TestPrometheusSinkIgnoresUnknownNames(t *testing.T) {
	sink, err := NewPrometheus(prometheus.NewRegistry())
	require.NoError(t, err)

	sink.IncCounter("unknown", nil)
	sink.ObserveHistogram("unknown", 1, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.created))
}

func TestNewPrometheusRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg)
	require.NoError(t, err)
	_, err = NewPrometheus(reg)
	assert.Error(t, err)
}
