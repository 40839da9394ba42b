// Command seed loads invoice fixtures into the reconciliation store. With no
// flags it inserts the built-in demo set; -file loads a CSV instead.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/seed"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/log"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "", "invoice CSV to load instead of the built-in fixtures")
	flag.Parse()

	if err := run(file); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(file string) error {
	cfg := config.Load()

	logger, err := log.NewLogger(cfg)
	if err != nil {
		return err
	}

	dialect, err := db.Dialect(cfg)
	if err != nil {
		return err
	}
	conn, err := gorm.Open(dialect, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// A fresh database may not have the schema yet.
	if cfg.DBType == "postgres" {
		err = migration.RunMigrations(sqlDB)
	} else {
		err = migration.AutoMigrate(conn)
	}
	if err != nil {
		return err
	}

	var created int
	source := "builtin"
	if file != "" {
		source = file
		created, err = seed.LoadCSV(conn, file)
	} else {
		created, err = seed.EnsureInvoices(conn)
	}
	if err != nil {
		return err
	}

	logger.Info("seed complete", zap.Int("created", created), zap.String("source", source))
	return nil
}
