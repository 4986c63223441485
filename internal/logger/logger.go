package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger at the given verbosity ("debug", "info", ...).
func New(verbosity string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	return config.Build()
}

// NewConsole builds a development logger for the CLI, where human-readable
// output matters more than structured fields.
func NewConsole(verbosity string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	return config.Build()
}
