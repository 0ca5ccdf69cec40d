package provider

import (
	"fmt"

	"github.com/fablecast/fablecast/pkg/types"
)

// NewTTSProvider creates a TTS provider based on the configuration.
func NewTTSProvider(cfg types.TTSConfig) (TTSProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAITTSProvider(cfg)
	case "stub":
		return NewStubTTSProvider(), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider: %s", cfg.Provider)
	}
}
