// Package tts provides an HTTP client for the standalone speech synthesis
// service that converts narration text into WAV audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yheihei/pdf-to-podcast/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultVoice    = "Kore"
	defaultLanguage = "ja"
)

// Static errors.
var (
	ErrTextEmpty         = errors.New("text cannot be empty")
	ErrReceivedEmptyWAV  = errors.New("received empty audio data")
	ErrWrongContentType  = errors.New("unexpected content type")
	ErrHealthCheckFailed = errors.New("speech service health check failed")
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "speech service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "speech service returned non-OK status: %s, body: %s"
)

// Client talks to the speech synthesis HTTP service. It implements
// core.AudioSynthesizer.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// SpeechRequest defines the JSON payload for synthesis requests.
type SpeechRequest struct {
	// Text contains the narration text to convert to speech.
	// Must be non-empty and within the service's length limits.
	Text string `json:"text"`

	// Voice selects the speaker voice. Defaults to "Kore".
	Voice string `json:"voice"`

	// Language specifies the target language code. Defaults to "ja".
	Language string `json:"language"`
}

// ErrorResponse represents a structured error response from the service.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// New creates a client for the speech service. The baseURL should include
// protocol and port (e.g., "http://localhost:8000"). The timeout applies to
// every synthesis request, so it must cover the service's worst-case
// generation time for one chunk.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends the narration text to the speech service and returns the
// raw WAV data. Non-success statuses are tagged with the retry class the
// limiter switches on.
func (c *Client) Synthesize(ctx context.Context, text string, voice string) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	if voice == "" {
		voice = defaultVoice
	}

	requestBody, marshalErr := json.Marshal(SpeechRequest{
		Text:     text,
		Voice:    voice,
		Language: defaultLanguage,
	})
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
	}

	url := c.baseURL + apiGenerateSpeech

	httpReq, reqErr := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, classifyTransportError(c.baseURL, doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s",
			ErrWrongContentType, contentTypeWAV, contentType)
	}

	audioData, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", readErr)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyWAV
	}

	return audioData, nil
}

// HealthCheck verifies that the speech service is running. It should be
// called before processing a large batch to fail fast when the service is
// down.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if reqErr != nil {
		return fmt.Errorf("failed to create health check request: %w", reqErr)
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return fmt.Errorf("%w for service at %s: %w", ErrHealthCheckFailed, c.baseURL, doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w with status: %s", ErrHealthCheckFailed, resp.Status)
	}

	return nil
}

// classifyTransportError tags request-level failures with a retry class:
// deadline expiry is a timeout, everything else at the transport layer is
// assumed transient.
func classifyTransportError(baseURL string, err error) error {
	wrapped := fmt.Errorf("failed to send request to speech service at %s: %w", baseURL, err)

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewServiceError(core.ClassTimeout, wrapped)
	}

	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	return core.NewServiceError(core.ClassTransient, wrapped)
}

// classifyStatusError maps a non-OK HTTP status to a retry class: 429 is a
// rate-limit violation, 5xx is transient, anything else is fatal.
func classifyStatusError(resp *http.Response) error {
	cause := parseErrorResponse(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.NewServiceError(core.ClassRateLimit, cause)
	case resp.StatusCode >= http.StatusInternalServerError:
		return core.NewServiceError(core.ClassTransient, cause)
	default:
		return core.NewServiceError(core.ClassFatal, cause)
	}
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service, falling back to the raw response body.
func parseErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&errorResp)
	if decodeErr == nil {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	// Fallback to raw response for non-JSON errors
	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		string(body),
	)
}
