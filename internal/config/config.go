package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"soulspot/internal/constants"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level configuration, read from the environment.
// Tuning that operators change per deployment lives in the TOML profile.
type Config struct {
	Port        string `env:"PORT"`
	DBPath      string `env:"DB_PATH"`
	LibraryDir  string `env:"LIBRARY_DIR"`
	ImageDir    string `env:"IMAGE_DIR"`
	ProfilePath string `env:"PROFILE_PATH"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`
	Workers     int    `env:"WORKERS"`

	// Profile is populated from the TOML file, not the environment.
	Profile Profile
}

// Load reads the environment over built-in defaults, then merges the TOML
// profile if one exists at ProfilePath.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        constants.DefaultPort,
		DBPath:      constants.DefaultDBPath,
		LibraryDir:  constants.DefaultLibraryDir,
		ImageDir:    constants.DefaultImageDir,
		ProfilePath: "soulspot.toml",
		LogLevel:    "info",
		LogFormat:   "text",
		Workers:     constants.DefaultWorkers,
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Profile = DefaultProfile()
	if _, err := os.Stat(cfg.ProfilePath); err == nil {
		if err := LoadProfile(cfg.ProfilePath, &cfg.Profile); err != nil {
			return nil, err
		}
	}

	// secrets stay out of the profile file
	if key := os.Getenv("TRANSFER_API_KEY"); key != "" {
		cfg.Profile.Transfer.APIKey = key
	}

	return cfg, nil
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}
	if c.LibraryDir == "" {
		errors = append(errors, "LIBRARY_DIR cannot be empty")
	}
	if c.ImageDir == "" {
		errors = append(errors, "IMAGE_DIR cannot be empty")
	}

	if c.Workers < 1 {
		errors = append(errors, fmt.Sprintf("WORKERS must be at least 1, got: %d", c.Workers))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	errors = append(errors, c.Profile.validate()...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
