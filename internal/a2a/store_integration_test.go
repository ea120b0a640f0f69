//go:build integration

package a2a

import (
	"context"
	"testing"
	"time"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestStoreSaveGet(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mesh_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	store, err := NewStore(ctx, pool)
	require.NoError(t, err)
	_, err = NewStore(ctx, pool)
	require.NoError(t, err)

	task := &sdk.Task{
		ID:        sdk.TaskID("task-1"),
		ContextID: "ctx-1",
		Status:    sdk.TaskStatus{State: sdk.TaskStateWorking},
	}
	require.NoError(t, store.Save(ctx, task))

	task.Status.State = sdk.TaskStateCompleted
	require.NoError(t, store.Save(ctx, task))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", got.ContextID)
	assert.Equal(t, sdk.TaskStateCompleted, got.Status.State)

	_, err = store.Get(ctx, sdk.TaskID("missing"))
	assert.ErrorIs(t, err, sdk.ErrTaskNotFound)
}
