// Package stt is an OpenAI-compatible speech-to-text client used as the remote
// transcription capability. Each call uploads one audio file as multipart form
// data and requests verbose_json output so segment timestamps are preserved.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meetingflow/internal/language"
	"meetingflow/internal/meeting"
	"meetingflow/internal/services"
)

const (
	capabilityName     = "transcription"
	defaultBaseURL     = "https://api.openai.com/v1/audio/transcriptions"
	defaultModel       = "whisper-1"
	defaultHTTPTimeout = 5 * time.Minute
	maxErrorBody       = 512
)

// Config captures the transcription endpoint settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	TimeoutSeconds int
	// MaxPayloadBytes rejects oversized uploads before they are sent. Zero disables the check.
	MaxPayloadBytes int64
}

// Client uploads audio to the transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// Transcribe uploads audioPath and returns its utterances with offsets
// relative to the start of the file.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (meeting.Transcript, error) {
	var empty meeting.Transcript
	if c.cfg.APIKey == "" {
		return empty, invalidInput(errors.New("api key required"))
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return empty, invalidInput(fmt.Errorf("stat audio: %w", err))
	}
	if c.cfg.MaxPayloadBytes > 0 && info.Size() > c.cfg.MaxPayloadBytes {
		return empty, invalidInput(fmt.Errorf("audio payload %d bytes exceeds limit %d", info.Size(), c.cfg.MaxPayloadBytes))
	}

	body, contentType, err := c.buildForm(audioPath)
	if err != nil {
		return empty, invalidInput(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, body)
	if err != nil {
		return empty, invalidInput(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.ClassifyTransportError(capabilityName, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.ClassifyTransportError(capabilityName, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		retryAfter, _ := services.ParseRetryAfter(resp.Header.Get("Retry-After"))
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody] + "..."
		}
		return empty, &services.CapabilityError{
			Kind:       services.ClassifyHTTPStatus(resp.StatusCode),
			Capability: capabilityName,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        errors.New(snippet),
		}
	}

	var parsed verboseResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return empty, &services.CapabilityError{
			Kind:       services.ErrUnavailable,
			Capability: capabilityName,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return toTranscript(parsed), nil
}

func (c *Client) buildForm(audioPath string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := [][2]string{
		{"model", c.cfg.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if c.cfg.Language != "" {
		fields = append(fields, [2]string{"language", c.cfg.Language})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", field[0], err)
		}
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func toTranscript(resp verboseResponse) meeting.Transcript {
	out := meeting.Transcript{Language: language.ToISO2(resp.Language), Duration: resp.Duration}
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out.Utterances = append(out.Utterances, meeting.Utterance{
			Start:   seg.Start,
			End:     seg.End,
			Text:    text,
			Speaker: strings.TrimSpace(seg.Speaker),
		})
	}
	// Plain responses carry no segments; keep the text as one utterance.
	if len(out.Utterances) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			out.Utterances = []meeting.Utterance{{Start: 0, End: resp.Duration, Text: text}}
		}
	}
	return out
}

func invalidInput(err error) error {
	return &services.CapabilityError{Kind: services.ErrInvalidInput, Capability: capabilityName, Err: err}
}
