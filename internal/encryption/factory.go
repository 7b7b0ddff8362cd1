package encryption

import (
	"fmt"

	"planstore/internal/config"
)

// NewCodecFromConfig creates a Codec based on the configuration type.
func NewCodecFromConfig(cfg config.EncryptionConfig) (Codec, error) {
	switch cfg.Type {
	case "none", "":
		return PlainCodec{}, nil
	case "age":
		return NewAgeCodec(cfg)
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
