//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestRedisBusPublishReplay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	bus, err := NewRedisBus(ctx, startRedis(t), zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, bus.Publish(ctx, &Event{Type: DelegationCreated, Subject: "deleg_1"}))
	require.NoError(t, bus.Publish(ctx, &Event{Type: DelegationCompleted, Subject: "deleg_1"}))

	ch := bus.Replay(ctx)
	var got []string
	for len(got) < 2 {
		select {
		case e := <-ch:
			require.NotNil(t, e)
			require.NotEmpty(t, e.ID)
			require.Equal(t, "deleg_1", e.Subject)
			got = append(got, e.Type)
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}
	require.Equal(t, []string{DelegationCreated, DelegationCompleted}, got)
}
