package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysettle/internal/clock"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
)

const (
	keyReady    = "paysettle:fulfillment:ready"
	keyDelayed  = "paysettle:fulfillment:delayed"
	keyDead     = "paysettle:fulfillment:dead"
	keyPending  = "paysettle:fulfillment:pending"
	keyDeadRefs = "paysettle:fulfillment:dead_refs"

	blockTimeout = time.Second

	// heldScore marks a pending reference whose task is still stored in redis
	// (ready or delayed). Claimed tasks are scored by their lease deadline.
	heldScore = int64(1) << 52
)

// promoteScript moves delayed tasks whose score is due onto the ready list.
const promoteScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call("ZREM", KEYS[1], member)
  redis.call("LPUSH", KEYS[2], member)
end
return #due
`

// enqueueScript pushes a task unless its reference is pending with a live
// score. A lapsed lease means the claiming worker died, so it is replaced.
const enqueueScript = `
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if score and tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
redis.call("LPUSH", KEYS[2], ARGV[4])
return 1
`

// Redis keeps ready tasks in a list (LPUSH / BRPOP) and retries in a sorted
// set scored by unix milliseconds. Exhausted tasks land on a dead list.
// Every reference the queue is responsible for sits in the pending set until
// it completes or dies; dead references stay in dead_refs.
type Redis struct {
	client  *redis.Client
	genID   *snowflake.Node
	clock   clock.Clock
	lease   time.Duration
	promote *redis.Script
	enqueue *redis.Script
}

type envelope struct {
	ID        snowflake.ID `json:"id"`
	Reference string       `json:"reference"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
}

func NewRedis(client *redis.Client, genID *snowflake.Node, clk clock.Clock, lease time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis fulfillment queue requires REDIS_ADDR")
	}
	if genID == nil {
		return nil, errors.New("redis fulfillment queue requires a snowflake node")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Redis{
		client:  client,
		genID:   genID,
		clock:   clk,
		lease:   lease,
		promote: redis.NewScript(promoteScript),
		enqueue: redis.NewScript(enqueueScript),
	}, nil
}

// Enqueue is a no-op while the reference is queued, delayed or leased.
func (q *Redis) Enqueue(ctx context.Context, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return fulfillmentdomain.ErrEmptyReference
	}
	payload, err := encodeEnvelope(envelope{ID: q.genID.Generate(), Reference: reference})
	if err != nil {
		return err
	}
	now := q.clock.Now().UTC().UnixMilli()
	return q.enqueue.Run(ctx, q.client, []string{keyPending, keyReady}, reference, now, heldScore, payload).Err()
}

// Claim blocks up to one second for the first task when nothing is ready.
func (q *Redis) Claim(ctx context.Context, limit int) ([]fulfillmentdomain.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	now := q.clock.Now().UTC()
	if err := q.promote.Run(ctx, q.client, []string{keyDelayed, keyReady}, now.UnixMilli(), limit).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}

	raw, err := q.client.RPopCount(ctx, keyReady, limit).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(raw) == 0 {
		popped, err := q.client.BRPop(ctx, blockTimeout, keyReady).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		// BRPOP answers [key, value].
		if len(popped) == 2 {
			raw = []string{popped[1]}
		}
	}

	leaseUntil := float64(now.Add(q.lease).UnixMilli())
	tasks := make([]fulfillmentdomain.Task, 0, len(raw))
	for _, item := range raw {
		env, err := decodeEnvelope(item)
		if err != nil {
			_ = q.client.LPush(ctx, keyDead, item).Err()
			continue
		}
		if err := q.client.ZAdd(ctx, keyPending, redis.Z{Score: leaseUntil, Member: env.Reference}).Err(); err != nil {
			return tasks, fmt.Errorf("lease %s: %w", env.Reference, err)
		}
		env.Attempts++
		tasks = append(tasks, fulfillmentdomain.Task{ID: env.ID, Reference: env.Reference, Attempts: env.Attempts})
	}
	return tasks, nil
}

func (q *Redis) Complete(ctx context.Context, task fulfillmentdomain.Task) error {
	return q.client.ZRem(ctx, keyPending, task.Reference).Err()
}

func (q *Redis) Retry(ctx context.Context, task fulfillmentdomain.Task, cause error, availableAt time.Time) error {
	payload, err := encodeEnvelope(envelope{
		ID:        task.ID,
		Reference: task.Reference,
		Attempts:  task.Attempts,
		LastError: errorText(cause),
	})
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyDelayed, redis.Z{
			Score:  float64(availableAt.UTC().UnixMilli()),
			Member: payload,
		})
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: float64(heldScore), Member: task.Reference})
		return nil
	})
	return err
}

func (q *Redis) Fail(ctx context.Context, task fulfillmentdomain.Task, cause error) error {
	payload, err := encodeEnvelope(envelope{
		ID:        task.ID,
		Reference: task.Reference,
		Attempts:  task.Attempts,
		LastError: errorText(cause),
	})
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyDead, payload)
		pipe.SAdd(ctx, keyDeadRefs, task.Reference)
		pipe.ZRem(ctx, keyPending, task.Reference)
		return nil
	})
	return err
}

// Holds reports whether the reference is dead, or pending with a live lease.
func (q *Redis) Holds(ctx context.Context, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	dead, err := q.client.SIsMember(ctx, keyDeadRefs, reference).Result()
	if err != nil {
		return false, err
	}
	if dead {
		return true, nil
	}
	score, err := q.client.ZScore(ctx, keyPending, reference).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return int64(score) > q.clock.Now().UTC().UnixMilli(), nil
}

func encodeEnvelope(env envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, err
	}
	if strings.TrimSpace(env.Reference) == "" {
		return envelope{}, fulfillmentdomain.ErrEmptyReference
	}
	return env, nil
}
