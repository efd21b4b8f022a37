package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	scheduleKey = "relay:jobs:schedule"
	payloadsKey = "relay:jobs:payloads"

	pollInterval = time.Second
	claimBatch   = 32
)

type jobRecord struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

// RedisQueue implements Queue on a Redis sorted set: member is the job id,
// score is the fire time. A job fires when its id is successfully removed
// from the set, so the fire/cancel race is settled at the storage layer:
// exactly one of the two removals wins.
type RedisQueue struct {
	client *redis.Client
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	stop chan struct{}
	done chan struct{}
}

// NewRedisQueue builds the queue. Call Start to run the dispatcher.
func NewRedisQueue(client *redis.Client, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:   client,
		logger:   logger,
		handlers: make(map[string]Handler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job name. Must be called before Start.
func (q *RedisQueue) RegisterHandler(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// EnqueueDelayed schedules a job and returns its id.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, name, payload string, delay time.Duration) (string, error) {
	jobID := uuid.NewString()
	record, err := json.Marshal(jobRecord{Name: name, Payload: payload})
	if err != nil {
		return "", err
	}

	fireAt := time.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, payloadsKey, jobID, record)
	pipe.ZAdd(ctx, scheduleKey, redis.Z{Score: float64(fireAt.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return jobID, nil
}

// Cancel removes a scheduled job. A job that already fired is gone from the
// schedule, so cancellation quietly does nothing.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	removed, err := q.client.ZRem(ctx, scheduleKey, jobID).Result()
	if err != nil {
		return err
	}
	if removed > 0 {
		_ = q.client.HDel(ctx, payloadsKey, jobID).Err()
	}
	return nil
}

// Start runs the polling dispatcher until Stop is called.
func (q *RedisQueue) Start(ctx context.Context) {
	go q.loop(ctx)
}

// Stop shuts the dispatcher down and waits for the loop to exit.
func (q *RedisQueue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *RedisQueue) loop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainDue(ctx)
		}
	}
}

func (q *RedisQueue) drainDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: claimBatch,
	}).Result()
	if err != nil {
		q.logger.Warn("job poll failed", zap.Error(err))
		return
	}

	for _, jobID := range ids {
		// ZRem is the claim: only the remover that takes the member out
		// fires the job.
		removed, err := q.client.ZRem(ctx, scheduleKey, jobID).Result()
		if err != nil || removed == 0 {
			continue
		}
		raw, err := q.client.HGet(ctx, payloadsKey, jobID).Result()
		_ = q.client.HDel(ctx, payloadsKey, jobID).Err()
		if err != nil {
			q.logger.Warn("job payload missing", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		var record jobRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			q.logger.Warn("job payload malformed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		q.dispatch(ctx, jobID, record)
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, jobID string, record jobRecord) {
	q.mu.RLock()
	handler, ok := q.handlers[record.Name]
	q.mu.RUnlock()
	if !ok {
		q.logger.Warn("no handler for job", zap.String("name", record.Name), zap.String("job_id", jobID))
		return
	}
	go func() {
		if err := handler(ctx, record.Payload); err != nil {
			q.logger.Error("job handler failed",
				zap.String("name", record.Name),
				zap.String("job_id", jobID),
				zap.Error(err))
		}
	}()
}
