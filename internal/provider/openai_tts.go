package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fablecast/fablecast/pkg/types"
)

// OpenAITTSProvider implements TTSProvider using OpenAI-compatible TTS APIs
type OpenAITTSProvider struct {
	config     types.TTSConfig
	httpClient *http.Client
}

// NewOpenAITTSProvider creates a new OpenAI-compatible TTS provider
func NewOpenAITTSProvider(config types.TTSConfig) (*OpenAITTSProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for OpenAI TTS provider")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required for OpenAI TTS provider")
	}

	// TTS can take a while on long inputs, default generously
	timeout := 300 * time.Second
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}

	return &OpenAITTSProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (o *OpenAITTSProvider) Name() string {
	return "openai"
}

// Synthesize converts text to speech using an OpenAI-compatible API
func (o *OpenAITTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResponse, error) {
	voice := req.VoiceID
	if voice == "" {
		voice = o.config.Voice
	}

	apiReq := ttsAPIRequest{
		Model:          o.config.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3",
	}

	// Note: Language field is not used in the API request as OpenAI TTS API
	// doesn't have a direct language parameter. The model infers language
	// from input. Providers whose APIs take a language code read it here.

	audioData, err := o.callTTSAPI(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call TTS API: %w", err)
	}

	return &TTSResponse{
		AudioData: audioData,
		Format:    "mp3",
	}, nil
}

func (o *OpenAITTSProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// ttsAPIRequest represents the OpenAI TTS API request structure
type ttsAPIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// ttsAPIErrorResponse represents an error response from the TTS API
type ttsAPIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// callTTSAPI calls the OpenAI-compatible speech endpoint
func (o *OpenAITTSProvider) callTTSAPI(ctx context.Context, req ttsAPIRequest) ([]byte, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := o.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "audio/speech"

	log.Printf("[TTS] Request: POST %s model=%s voice=%s input_length=%d chars",
		endpoint, req.Model, req.Voice, len(req.Input))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	startTime := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		log.Printf("[TTS] Request failed after %v: %v", duration, err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[TTS] Response: %d %s (took %v)", resp.StatusCode, resp.Status, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ttsAPIErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			log.Printf("[TTS] API error: %s (type: %s, code: %s)",
				errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateString(string(body), 500))
	}

	log.Printf("[TTS] Response payload: audio_size=%d bytes", len(body))
	return body, nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
