package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a zap logger. Production mode writes JSON; development
// mode writes the console encoding with caller information.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("observability.NewLogger: parse level failed: %w", err)
		}
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("observability.NewLogger: build failed: %w", err)
	}
	return logger, nil
}
