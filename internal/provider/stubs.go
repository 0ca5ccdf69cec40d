package provider

import (
	"context"
	"fmt"
)

// StubTTSProvider is a stub implementation of TTSProvider for testing
type StubTTSProvider struct {
	// Fail makes Synthesize return an error, for failure-path tests.
	Fail bool
}

// NewStubTTSProvider creates a new stub TTS provider
func NewStubTTSProvider() *StubTTSProvider {
	return &StubTTSProvider{}
}

func (s *StubTTSProvider) Name() string {
	return "stub"
}

func (s *StubTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	if s.Fail {
		return nil, fmt.Errorf("stub synthesis failure")
	}
	textPreview := req.Text
	if len(textPreview) > 10 {
		textPreview = textPreview[:10]
	}
	return &TTSResponse{
		AudioData: []byte(fmt.Sprintf("STUB_AUDIO_%s", textPreview)),
		Format:    "mp3",
	}, nil
}

func (s *StubTTSProvider) Close() error {
	return nil
}
