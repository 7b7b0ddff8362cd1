package logindex

import (
	"fmt"
	"os"
	"path/filepath"

	"planstore/internal/config"
	"planstore/internal/planstore"
)

// NewIndexFromConfig creates an Index based on the log index config type.
// Type "none" returns a nil Index and no error.
func NewIndexFromConfig(cfg config.LogIndexConfig, logger planstore.Logger) (*Index, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite log index")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log index directory: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "events.db"), logger)
	case "memory":
		return Open(":memory:", logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown log index type: %s", cfg.Type)
	}
}
