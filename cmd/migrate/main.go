package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/db"
)

type Config struct {
	Database config.DatabaseConfig
}

func main() {
	direction := flag.String("direction", db.DirectionUp, "migration direction: up or down")
	dsn := flag.String("database-url", "", "database url, overrides IDM_PG_* settings")
	flag.Parse()

	config.LoadEnvFile()
	cfg := Config{}
	if err := config.Load(&cfg); err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	url := *dsn
	if url == "" {
		url = cfg.Database.ToDatabaseURL()
	}

	if err := db.Migrate(url, *direction); err != nil {
		slog.Error("Migration failed", "direction", *direction, "db", cfg.Database.Database, "host", cfg.Database.Host, "error", err)
		os.Exit(1)
	}
}
