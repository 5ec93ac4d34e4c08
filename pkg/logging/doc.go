// Package logging provides structured logging configuration for the
// simulator.
//
// This package wraps log/slog to provide consistent logging across all
// simulator components. It supports configurable log levels and output
// formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("simulator started", "port", 8000, "mode", "generate")
//	logger.Error("forward failed", "error", err)
//
// # Integration
//
// Components accept a *slog.Logger in their constructor or via a setter.
// If no logger is provided, use logging.Nop() for a no-op logger.
package logging
