// Package config holds the environment-driven settings of the 2FA service.
//
// Sections are plain structs with cleanenv tags so a command can embed them
// in its own Config and read everything with one call:
//
//	type Config struct {
//		Database  config.DatabaseConfig
//		JWT       config.JWTConfig
//		TwoFA     config.TwoFAConfig
//		AppConfig app.AppConfig
//	}
//
//	config.LoadEnvFile()
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	if err := config.Validate(cfg.JWT.Validate, cfg.TwoFA.Validate); err != nil {
//		return err
//	}
//
// Durations accept ISO 8601 ("PT10M") as well as Go syntax ("10m").
package config
