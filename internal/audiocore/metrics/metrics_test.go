package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/bus"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

func TestCollectorReportsPoolAndBusStats(t *testing.T) {
	p, err := pool.NewPool(4, pool.DefaultBlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	b := bus.New(bus.DefaultConfig())
	t.Cleanup(func() { _ = b.Shutdown(0) })

	reg := prometheus.NewRegistry()
	c := New(p, b)
	reg.MustRegister(c)

	assert.Equal(t, 11, testutil.CollectAndCount(c))
}

func TestCollectorToleratesNilCollaborators(t *testing.T) {
	c := New(nil, nil)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
