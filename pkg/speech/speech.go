// Package speech turns reply text into audio.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nawresmhed/guidezella/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "JBFqnCBsd6RMkjVDRZzb"
	DefaultModelID = "eleven_multilingual_v2"
	// ContentType is the media type of the produced audio.
	ContentType = "audio/mpeg"
)

var ErrEmptyText = errors.New("no text provided")

// Speaker synthesizes text. The caller must close the returned stream.
type Speaker interface {
	Speak(ctx context.Context, text string) (io.ReadCloser, error)
}

// APIError is a non-2xx answer of the speech service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech request failed with status %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	BaseURL    string
	APIKey     string
	VoiceID    string
	ModelID    string
	HTTPClient *http.Client
}

// ElevenLabs is a Speaker backed by the ElevenLabs streaming endpoint.
type ElevenLabs struct {
	baseURL string
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

func NewElevenLabs(opts Options) (*ElevenLabs, error) {
	if opts.APIKey == "" {
		return nil, errors.New("elevenlabs api key is not set")
	}
	e := &ElevenLabs{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		voiceID: opts.VoiceID,
		modelID: opts.ModelID,
		client:  opts.HTTPClient,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.voiceID == "" {
		e.voiceID = DefaultVoiceID
	}
	if e.modelID == "" {
		e.modelID = DefaultModelID
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	return e, nil
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabs) Speak(ctx context.Context, text string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	body, err := json.Marshal(ttsRequest{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", e.baseURL, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentType)

	logger := session.Logger(ctx, "speech")
	logger.Debug("synthesizing", "voice", e.voiceID, "model", e.modelID, "chars", len(text))
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}
