package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/fulfillment/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecoveryLeavesDeadRedisTasksAlone(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	q, err := queue.NewRedis(client, node, clk, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "PAY-DEAD"))
	require.NoError(t, q.Enqueue(ctx, "PAY-LEASED"))
	tasks, err := q.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.NoError(t, q.Fail(ctx, tasks[0], errors.New("attempts exhausted")))

	ledger := &fakeLedger{undeliv: []string{"PAY-DEAD", "PAY-LEASED", "PAY-LOST"}}
	s, err := NewWithLedger(zap.NewNop(), ledger, q, node, clk, Config{})
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(ctx))
	tasks, err = q.Claim(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "PAY-LOST", tasks[0].Reference)

	// once the lease lapses the sweep takes the reference back
	clk.Advance(2 * time.Minute)
	ledger.undeliv = []string{"PAY-DEAD", "PAY-LEASED"}
	require.NoError(t, s.RunOnce(ctx))
	tasks, err = q.Claim(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "PAY-LEASED", tasks[0].Reference)
}
