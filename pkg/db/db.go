package db

import (
	"context"
	"time"

	"github.com/smallbiznis/tally/internal/config"
	obslogger "github.com/smallbiznis/tally/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type Params struct {
	fx.In

	LC  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

// New opens the authoritative store with the configured dialect, pool limits
// and telemetry plugins.
func New(p Params) (*gorm.DB, error) {
	dialect, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	// Statement logs flow through zap with the caller's request identity;
	// development surfaces every query, production only slow ones and errors.
	logCfg := obslogger.DefaultGormLoggerConfig()
	if p.Cfg.Environment == "development" {
		logCfg.Level = gormlogger.Info
	}

	gdb, err := gorm.Open(dialect, &gorm.Config{
		Logger:         obslogger.NewGormLogger(logCfg),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Cfg.DBName))); err != nil {
		return nil, err
	}
	if p.Cfg.DBType != "sqlite" {
		if err := gdb.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          p.Cfg.DBName,
			RefreshInterval: 15,
		})); err != nil {
			return nil, err
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if p.Cfg.DBMaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Cfg.DBMaxIdleConn)
	}
	if p.Cfg.DBMaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Cfg.DBMaxOpenConn)
	}
	if p.Cfg.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(p.Cfg.DBConnMaxLifetime) * time.Second)
	}
	if p.Cfg.DBConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(p.Cfg.DBConnMaxIdleTime) * time.Second)
	}

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Info("closing database")
			return sqlDB.Close()
		},
	})

	return gdb, nil
}
