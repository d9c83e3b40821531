package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/config"
)

// New builds a logrus logger writing to stdout.
func New(cfg config.LoggingConfig) (*logrus.Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger for the given level and format
// ("json", "text" or "plain").
func NewWithWriter(cfg config.LoggingConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json", "":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "plain":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", cfg.Format)
	}

	return logger, nil
}
