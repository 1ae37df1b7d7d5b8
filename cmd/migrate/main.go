// Command migrate applies the Postgres schema migrations.
//
// Usage:
//
//	migrate -config config.yaml -action up
//	migrate -action down -steps 1
//	migrate -action version
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (optional)")
		action     = flag.String("action", "up", "up, down, or version")
		steps      = flag.Int("steps", 0, "number of migrations for down (0 = all)")
		source     = flag.String("source", "file://migrations", "migration source URL")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	m, err := migrate.New(*source, pgxURL(cfg.Database.URL))
	if err != nil {
		logger.Fatal("opening migrator", zap.Error(err))
	}
	defer m.Close()

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Fatal("reading version", zap.Error(verr))
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	default:
		logger.Fatal("unknown action", zap.String("action", *action))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
	logger.Info("migrations applied", zap.String("action", *action))
}

// pgxURL rewrites a postgres:// connection URL to the pgx v5 migrate
// driver scheme.
func pgxURL(databaseURL string) string {
	if rest, ok := strings.CutPrefix(databaseURL, "postgres://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(databaseURL, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	return databaseURL
}
