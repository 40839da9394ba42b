package progress

import "go.uber.org/fx"

var Module = fx.Module("progress",
	fx.Provide(NewRedisMirror),
	fx.Provide(func(m *RedisMirror) Mirror { return m }),
)
