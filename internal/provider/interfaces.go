// Package provider contains the text-to-speech backends the synthesizer
// worker speaks to.
package provider

import (
	"context"
)

// TTSProvider defines the interface for TTS providers
type TTSProvider interface {
	// Name returns the provider name
	Name() string

	// Synthesize converts text to speech
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error)

	// Close cleans up resources
	Close() error
}

// TTSRequest contains the text and voice settings for synthesis
type TTSRequest struct {
	Text     string // Text to synthesize
	VoiceID  string // Provider-specific voice ID
	Language string // BCP-47 language code, e.g. "en-US"
}

// TTSResponse contains the synthesized audio and metadata
type TTSResponse struct {
	AudioData []byte // Audio file data
	Format    string // Audio format (e.g. "mp3")
}
