//go:build integration

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mesh_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresSourceDiscover(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, err := NewPostgresSource(ctx, startPostgres(t), zap.NewNop())
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Migrate(ctx))
	require.NoError(t, src.Migrate(ctx))

	for _, a := range DefaultCatalog() {
		require.NoError(t, src.Upsert(ctx, a))
	}

	r := New(src, SimulatedProber{}, zap.NewNop())
	res, err := r.Discover(ctx, Filter{Capability: "CRM_INTEGRATION"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "CRMConnector", res.Agents[0].Name)
	assert.Equal(t, StatusOnline, res.Agents[0].Status)
	assert.Equal(t, ConnHTTP, res.Agents[0].ConnectionType)

	res, err = r.Discover(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
}
