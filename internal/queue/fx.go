package queue

import "go.uber.org/fx"

var Module = fx.Module("queue",
	fx.Provide(NewRedisQueue),
	fx.Provide(func(q *RedisQueue) Queue { return q }),
)
