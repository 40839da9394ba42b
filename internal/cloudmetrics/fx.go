package cloudmetrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pushInterval = 30 * time.Second

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Invoke(runPusher),
)

// runPusher ships the default registry on a fixed cadence for as long as
// the app runs. A nil pusher means cloud metrics are off.
func runPusher(lc fx.Lifecycle, pusher Pusher, logger *zap.Logger) {
	if pusher == nil {
		return
	}

	loop := &pushLoop{
		pusher:   pusher,
		gatherer: prometheus.DefaultGatherer,
		log:      logger.Named("cloudmetrics"),
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			loop.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return loop.Stop(ctx)
		},
	})
}

type pushLoop struct {
	pusher   Pusher
	gatherer prometheus.Gatherer
	log      *zap.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	failing atomic.Bool
}

func (l *pushLoop) Start() {
	if l.stopCh != nil {
		return
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(pushInterval)
		defer ticker.Stop()
		l.pushOnce()
		for {
			select {
			case <-ticker.C:
				l.pushOnce()
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *pushLoop) Stop(ctx context.Context) error {
	if l.stopCh == nil {
		return nil
	}
	close(l.stopCh)
	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pushOnce logs the first failure and then stays quiet until a push
// succeeds again, so a flapping endpoint does not flood the log.
func (l *pushLoop) pushOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPushTimeout)
	defer cancel()

	if err := l.pusher.Push(ctx, l.gatherer); err != nil {
		if l.failing.CompareAndSwap(false, true) {
			l.log.Warn("cloud metrics push failed", zap.Error(err))
		}
		return
	}
	l.failing.Store(false)
}
