// Package cli provides common CLI initialization utilities shared by
// cmd/dividi and cmd/dividi-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dividi/internal/config"
	"dividi/internal/log"
)

// SetupLogger initializes structured logging at the given LOG_LEVEL and
// installs it as the process default.
func SetupLogger(level, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig reads the environment. It exits the process when the
// environment cannot be parsed.
func LoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := SetupLogger("info", log.ComponentApp)
		bootstrap.Error("Configuration load failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg
}

// MustValidate exits the process when validate reports a problem.
func MustValidate(logger *log.Logger, validate func() error) {
	if err := validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
