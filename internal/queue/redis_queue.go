package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tally/internal/config"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/ratelimit"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"github.com/smallbiznis/tally/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyReady      = "recon:queue:%s:ready"
	keyProcessing = "recon:queue:%s:processing"
	keyRetry      = "recon:queue:%s:retry"
	keyLock       = "recon:queue:%s:lock:%s"
)

const (
	blockTimeout = 5 * time.Second
	reapInterval = 5 * time.Second
	opTimeout    = 2 * time.Second
	maxBackoff   = 5 * time.Minute
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *telemetry.Metrics `optional:"true"`
}

// RedisQueue keeps jobs on a ready list, moves them to a processing list
// while a consumer holds a per-job lock, and parks failed jobs on a delayed
// retry set. A reaper promotes due retries and requeues processing entries
// whose lock expired, which is where the at-least-once redelivery comes from.
type RedisQueue struct {
	client  *redis.Client
	locker  *ratelimit.Locker
	log     *zap.Logger
	node    *snowflake.Node
	metrics *telemetry.Metrics

	wg sync.WaitGroup
}

// NewRedisQueue returns nil without error when redis is not configured.
func NewRedisQueue(p Params) (*RedisQueue, error) {
	if !p.Cfg.RedisEnabled() {
		return nil, nil
	}

	node, err := snowflake.NewNode(snowflakeNodeID(p.Cfg.InstanceID))
	if err != nil {
		return nil, fmt.Errorf("queue snowflake node: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})

	return &RedisQueue{
		client:  client,
		locker:  ratelimit.NewLocker(client),
		log:     p.Log.Named("queue"),
		node:    node,
		metrics: p.Metrics,
	}, nil
}

func (q *RedisQueue) Enabled() bool {
	return q != nil && q.client != nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if !q.Enabled() {
		return "", ErrQueueDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	job := Job{
		ID:          q.node.Generate().String(),
		Name:        name,
		Payload:     body,
		Attempt:     1,
		EnqueuedAt:  time.Now().UTC(),
		Correlation: correlation.ExtractCorrelationID(ctx),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		job.TraceID = sc.TraceID().String()
		job.SpanID = sc.SpanID().String()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job envelope: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := q.client.LPush(opCtx, fmt.Sprintf(keyReady, name), raw).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}

	q.metrics.ObserveQueueJob("enqueued")
	q.log.Info("job enqueued", zap.String("job", name), zap.String("job_id", job.ID))
	return job.ID, nil
}

// Consume starts the consumer goroutines and the reaper. They run until ctx
// is canceled; Wait blocks until all of them have drained.
func (q *RedisQueue) Consume(ctx context.Context, name string, handler Handler, opts Options) {
	if !q.Enabled() {
		return
	}
	opts = opts.withDefaults()

	for i := 0; i < opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.consumeLoop(ctx, name, handler, opts)
	}
	q.wg.Add(1)
	go q.reapLoop(ctx, name)

	q.log.Info("queue consumer started",
		zap.String("job", name),
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("max_attempts", opts.MaxAttempts),
	)
}

func (q *RedisQueue) Wait() {
	if q == nil {
		return
	}
	q.wg.Wait()
}

func (q *RedisQueue) Close() error {
	if !q.Enabled() {
		return nil
	}
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if !q.Enabled() {
		return nil
	}
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) consumeLoop(ctx context.Context, name string, handler Handler, opts Options) {
	defer q.wg.Done()

	ready := fmt.Sprintf(keyReady, name)
	processing := fmt.Sprintf(keyProcessing, name)
	for {
		raw, err := q.client.BLMove(ctx, ready, processing, "RIGHT", "LEFT", blockTimeout).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == redis.Nil {
				continue
			}
			q.log.Warn("queue poll failed", zap.String("job", name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.runJob(ctx, name, raw, handler, opts)
	}
}

func (q *RedisQueue) runJob(ctx context.Context, name, raw string, handler Handler, opts Options) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Error("dropping undecodable job", zap.String("job", name), zap.Error(err))
		q.removeProcessing(name, raw)
		q.metrics.ObserveQueueJob("dropped")
		return
	}

	lockKey := fmt.Sprintf(keyLock, name, job.ID)
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	lock, err := q.locker.TryLock(opCtx, lockKey, opts.LockTTL)
	cancel()
	if err != nil {
		// Leave the entry on the processing list: the reaper requeues it
		// once it sees no lock.
		q.log.Warn("job lock failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if lock == nil {
		// Another consumer already owns this delivery.
		q.removeProcessing(name, raw)
		return
	}

	// Resume the enqueuing request's correlation and trace so the handler's
	// logs and spans join the original upload.
	jobCtx := correlation.ContextWithCorrelationID(ctx, job.Correlation)
	jobCtx = correlation.ContextWithRemoteSpan(jobCtx, job.TraceID, job.SpanID)
	jobCtx, cancelJob := context.WithTimeout(jobCtx, opts.LockTTL)

	wm := obsmetrics.Worker()
	wm.IncJobRun(name)
	start := time.Now()
	err = handler(jobCtx, job)
	cancelJob()
	wm.ObserveJobDuration(name, time.Since(start))

	q.removeProcessing(name, raw)
	q.releaseLock(lock)

	if err == nil {
		q.metrics.ObserveQueueJob("completed")
		return
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		wm.IncJobTimeout(name)
	}
	wm.IncJobError(name, err)
	q.log.Warn("job failed",
		zap.String("job", name),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)
	if errors.Is(err, SkipRetry) {
		q.metrics.ObserveQueueJob("dead")
		q.log.Error("job dropped, not retryable",
			zap.String("job", name),
			zap.String("job_id", job.ID),
		)
		return
	}
	if job.Attempt >= opts.MaxAttempts {
		q.metrics.ObserveQueueJob("dead")
		q.log.Error("job exhausted attempts",
			zap.String("job", name),
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempt),
		)
		return
	}

	delay := backoffDelay(opts.Backoff, job.Attempt)
	job.Attempt++
	updated, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		q.log.Error("job retry marshal failed", zap.String("job_id", job.ID), zap.Error(marshalErr))
		return
	}

	retryCtx, cancelRetry := context.WithTimeout(context.Background(), opTimeout)
	defer cancelRetry()
	zaddErr := q.client.ZAdd(retryCtx, fmt.Sprintf(keyRetry, name), redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: string(updated),
	}).Err()
	if zaddErr != nil {
		q.log.Error("job retry scheduling failed", zap.String("job_id", job.ID), zap.Error(zaddErr))
		return
	}
	q.metrics.ObserveQueueJob("retried")
	wm.IncBatchDeferred(name, obsmetrics.WorkerDeferredReasonRetryBackoff)
}

func (q *RedisQueue) reapLoop(ctx context.Context, name string) {
	defer q.wg.Done()

	wm := obsmetrics.Worker()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	next := time.Now().Add(reapInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// A positive lag means the previous pass overran the interval and a
		// tick was dropped.
		if lag := time.Since(next); lag > 0 {
			wm.ObserveRunLoopLag(lag)
		}
		q.promoteDueRetries(ctx, name)
		q.reclaimAbandoned(ctx, name)
		q.reportDepth(ctx, name)
		next = time.Now().Add(reapInterval)
	}
}

// promoteDueRetries moves retry members whose schedule has passed back onto
// the ready list.
func (q *RedisQueue) promoteDueRetries(ctx context.Context, name string) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	retry := fmt.Sprintf(keyRetry, name)
	due, err := q.client.ZRangeByScore(opCtx, retry, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("retry scan failed", zap.String("job", name), zap.Error(err))
		}
		return
	}

	for _, member := range due {
		// ZRem first: if another reaper got here concurrently only one of
		// them wins the member.
		removed, err := q.client.ZRem(opCtx, retry, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(opCtx, fmt.Sprintf(keyReady, name), member).Err(); err != nil {
			q.log.Error("retry promotion failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// reclaimAbandoned requeues processing entries whose lock has expired, the
// sign that a consumer died mid-job.
func (q *RedisQueue) reclaimAbandoned(ctx context.Context, name string) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	processing := fmt.Sprintf(keyProcessing, name)
	entries, err := q.client.LRange(opCtx, processing, 0, -1).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("processing scan failed", zap.String("job", name), zap.Error(err))
		}
		return
	}

	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.LRem(opCtx, processing, 1, raw)
			continue
		}
		locked, err := q.client.Exists(opCtx, fmt.Sprintf(keyLock, name, job.ID)).Result()
		if err != nil || locked > 0 {
			continue
		}
		removed, err := q.client.LRem(opCtx, processing, 1, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(opCtx, fmt.Sprintf(keyReady, name), raw).Err(); err != nil {
			q.log.Error("job reclaim failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		q.metrics.ObserveQueueJob("reclaimed")
		obsmetrics.Worker().IncBatchDeferred(name, obsmetrics.WorkerDeferredReasonLockExpired)
		q.log.Warn("abandoned job requeued", zap.String("job", name), zap.String("job_id", job.ID))
	}
}

func (q *RedisQueue) reportDepth(ctx context.Context, name string) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	depth, err := q.client.LLen(opCtx, fmt.Sprintf(keyReady, name)).Result()
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth(float64(depth))
}

// removeProcessing uses a fresh context so cleanup still lands while the
// consumer context is being canceled.
func (q *RedisQueue) removeProcessing(name, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := q.client.LRem(ctx, fmt.Sprintf(keyProcessing, name), 1, raw).Err(); err != nil {
		q.log.Warn("processing entry removal failed", zap.String("job", name), zap.Error(err))
	}
}

// releaseLock checks the lease token, so a lock that expired mid-job and
// was re-acquired by a reclaiming consumer stays theirs.
func (q *RedisQueue) releaseLock(lock *ratelimit.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		q.log.Warn("job lock release failed", zap.Error(err))
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << (attempt - 1)
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func snowflakeNodeID(instanceID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return int64(h.Sum32() % 1024)
}
