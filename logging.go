package main

import (
	"io"
	"os"
	"time"

	"sipua/config"

	"github.com/natefinch/lumberjack"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging points the global logger at stderr and, when configured, a
// rotated file. stdout stays free for command output.
func setupLogging(c config.Log) error {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", c.Level)
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if c.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if c.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...))
	return nil
}
