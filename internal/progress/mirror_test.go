package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/smallbiznis/tally/internal/config"
)

func TestDisabledMirrorStaysInert(t *testing.T) {
	m, err := NewRedisMirror(Params{
		Cfg: config.Config{RedisAddr: ""},
		Log: zap.NewNop(),
	})
	assert.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, m.Enabled())

	// Every operation on the nil mirror is a no-op, never a panic: the
	// worker calls these unconditionally.
	ctx := context.Background()
	m.Init(ctx, "batch-1")
	m.SetTotal(ctx, "batch-1", 100)
	m.Increment(ctx, "batch-1", Delta{Processed: 10, AutoMatched: 4})
	m.SetStatus(ctx, "batch-1", "completed")
	m.Clear(ctx, "batch-1")
	assert.Nil(t, m.Get(ctx, "batch-1"))
	assert.NoError(t, m.Close())
}

func TestDeltaEmpty(t *testing.T) {
	assert.True(t, Delta{}.empty())
	assert.False(t, Delta{Processed: 1}.empty())
	assert.False(t, Delta{Unmatched: 3}.empty())
}

func TestParseCount(t *testing.T) {
	assert.EqualValues(t, 42, parseCount("42"))
	assert.EqualValues(t, 0, parseCount(""))
	assert.EqualValues(t, 0, parseCount("garbage"))
}
