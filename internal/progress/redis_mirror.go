package progress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyProgress = "recon:progress:%s"

const (
	fieldStatus      = "status"
	fieldTotal       = "total"
	fieldProcessed   = "processed"
	fieldAutoMatched = "auto_matched"
	fieldNeedsReview = "needs_review"
	fieldUnmatched   = "unmatched"
)

const (
	mirrorTTL = 24 * time.Hour
	opTimeout = 2 * time.Second
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *telemetry.Metrics `optional:"true"`
}

// RedisMirror keeps one hash per batch under recon:progress:<batchID>.
type RedisMirror struct {
	client  *redis.Client
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// NewRedisMirror returns nil without error when redis is not configured.
func NewRedisMirror(p Params) (*RedisMirror, error) {
	if !p.Cfg.RedisEnabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})
	return &RedisMirror{
		client:  client,
		log:     p.Log.Named("progress.mirror"),
		metrics: p.Metrics,
	}, nil
}

func (m *RedisMirror) Enabled() bool {
	return m != nil && m.client != nil
}

func (m *RedisMirror) Init(ctx context.Context, batchID string) {
	if !m.Enabled() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProgress, batchID)
	pipe := m.client.TxPipeline()
	pipe.HSet(opCtx, key, map[string]any{
		fieldStatus:      "processing",
		fieldTotal:       0,
		fieldProcessed:   0,
		fieldAutoMatched: 0,
		fieldNeedsReview: 0,
		fieldUnmatched:   0,
	})
	pipe.Expire(opCtx, key, mirrorTTL)
	if _, err := pipe.Exec(opCtx); err != nil {
		m.fail("init", batchID, err)
	}
}

func (m *RedisMirror) SetTotal(ctx context.Context, batchID string, total int) {
	if !m.Enabled() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProgress, batchID)
	pipe := m.client.TxPipeline()
	pipe.HSet(opCtx, key, fieldTotal, total)
	pipe.Expire(opCtx, key, mirrorTTL)
	if _, err := pipe.Exec(opCtx); err != nil {
		m.fail("set_total", batchID, err)
	}
}

func (m *RedisMirror) Increment(ctx context.Context, batchID string, delta Delta) {
	if !m.Enabled() || delta.empty() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProgress, batchID)
	pipe := m.client.TxPipeline()
	if delta.Processed != 0 {
		pipe.HIncrBy(opCtx, key, fieldProcessed, int64(delta.Processed))
	}
	if delta.AutoMatched != 0 {
		pipe.HIncrBy(opCtx, key, fieldAutoMatched, int64(delta.AutoMatched))
	}
	if delta.NeedsReview != 0 {
		pipe.HIncrBy(opCtx, key, fieldNeedsReview, int64(delta.NeedsReview))
	}
	if delta.Unmatched != 0 {
		pipe.HIncrBy(opCtx, key, fieldUnmatched, int64(delta.Unmatched))
	}
	pipe.Expire(opCtx, key, mirrorTTL)
	if _, err := pipe.Exec(opCtx); err != nil {
		m.fail("increment", batchID, err)
	}
}

func (m *RedisMirror) SetStatus(ctx context.Context, batchID, status string) {
	if !m.Enabled() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := fmt.Sprintf(keyProgress, batchID)
	pipe := m.client.TxPipeline()
	pipe.HSet(opCtx, key, fieldStatus, status)
	pipe.Expire(opCtx, key, mirrorTTL)
	if _, err := pipe.Exec(opCtx); err != nil {
		m.fail("set_status", batchID, err)
	}
}

func (m *RedisMirror) Get(ctx context.Context, batchID string) *Counters {
	if !m.Enabled() {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := m.client.HGetAll(opCtx, fmt.Sprintf(keyProgress, batchID)).Result()
	if err != nil {
		m.log.Warn("mirror read failed", zap.String("batch_id", batchID), zap.Error(err))
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return &Counters{
		Status:      fields[fieldStatus],
		Total:       parseCount(fields[fieldTotal]),
		Processed:   parseCount(fields[fieldProcessed]),
		AutoMatched: parseCount(fields[fieldAutoMatched]),
		NeedsReview: parseCount(fields[fieldNeedsReview]),
		Unmatched:   parseCount(fields[fieldUnmatched]),
	}
}

func (m *RedisMirror) Clear(ctx context.Context, batchID string) {
	if !m.Enabled() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := m.client.Del(opCtx, fmt.Sprintf(keyProgress, batchID)).Err(); err != nil {
		m.fail("clear", batchID, err)
	}
}

func (m *RedisMirror) Close() error {
	if !m.Enabled() {
		return nil
	}
	return m.client.Close()
}

func (m *RedisMirror) fail(op, batchID string, err error) {
	m.metrics.AddMirrorFailure()
	m.log.Warn("mirror write skipped",
		zap.String("op", op),
		zap.String("batch_id", batchID),
		zap.Error(err),
	)
}

func parseCount(raw string) int64 {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
