package main

import (
	"errors"
	"log"

	"github.com/boonlink/promptpay-bridge/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	m, err := migrate.New("file://migrations", "pgx5://"+stripScheme(cfg.DB.DSN))
	if err != nil {
		log.Fatalf("migrate init failed: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate up failed: %v", err)
	}

	log.Println("migrations applied")
}

// stripScheme drops a leading "postgres://" or "postgresql://" so the DSN
// can be re-prefixed with the pgx5 driver scheme golang-migrate expects.
func stripScheme(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(dsn) > len(prefix) && dsn[:len(prefix)] == prefix {
			return dsn[len(prefix):]
		}
	}
	return dsn
}
