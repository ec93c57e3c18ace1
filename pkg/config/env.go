package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// LoadEnvFile loads a .env file next to the executable or, failing that, in
// the working directory. A missing file is not an error.
func LoadEnvFile() {
	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		slog.Info("Loading configuration from .env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("Failed to load .env file", "error", err)
		}
		return
	}
	slog.Debug("No .env file found (using environment variables or defaults)")
}

// Load fills cfg from the environment using its env tags.
func Load(cfg interface{}) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	return nil
}
