// Package llm provides an HTTP client for the text-generation service used
// for document structure detection and narration script generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/yheihei/pdf-to-podcast/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateText = "/v1/generate/text"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Default values.
const (
	defaultTemperature = 0.7
)

// Static errors.
var (
	ErrPromptEmpty      = errors.New("prompt cannot be empty")
	ErrEmptyCompletion  = errors.New("received empty completion")
	ErrScriptEmpty      = errors.New("generated script is empty")
	ErrTotalPagessValid = errors.New("total pages must be positive")
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "text service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "text service returned non-OK status: %s, body: %s"
)

// Client talks to the standalone text-generation HTTP service. It implements
// both core.StructureDetector and core.ScriptGenerator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	log        *logger.Logger
}

// GenerateRequest defines the JSON payload for text generation requests.
type GenerateRequest struct {
	// Model selects the provider model for this request.
	Model string `json:"model"`

	// Prompt is the full instruction text. Must be non-empty.
	Prompt string `json:"prompt"`

	// Temperature controls randomness. Valid range: 0.0 to 2.0.
	Temperature float64 `json:"temperature"`
}

// GenerateResponse is the JSON body of a successful generation call.
type GenerateResponse struct {
	// Text is the raw completion, possibly wrapped in markdown fences.
	Text string `json:"text"`
}

// ErrorResponse represents a structured error response from the service.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// New creates a client for the text-generation service. The baseURL should
// include protocol and port (e.g., "http://localhost:8100"). The timeout
// applies to every HTTP request made by this client.
func New(baseURL, model string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		log:     log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Detect asks the service for the document's chapter boundaries based on a
// sample of its text. Transport and service failures propagate so callers
// can retry them; an unparseable or empty answer degrades to a single
// whole-document chapter instead of failing the run.
func (c *Client) Detect(
	ctx context.Context,
	sampleText string,
	totalPages int,
) ([]core.ChapterSpec, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrTotalPagessValid, totalPages)
	}

	prompt := structurePrompt(sampleText, totalPages)

	completion, genErr := c.generate(ctx, prompt)
	if genErr != nil {
		return nil, genErr
	}

	chapters, parseErr := parseChapters(completion)
	if parseErr != nil {
		c.log.Warn("Failed to parse chapter detection response, using whole document: %v", parseErr)

		return wholeDocument(totalPages), nil
	}

	if len(chapters) == 0 {
		c.log.Warn("No chapters detected, treating entire document as a single chapter")

		return wholeDocument(totalPages), nil
	}

	return chapters, nil
}

// Generate produces the lecture narration script for one work item. The
// surrounding-document hints in genCtx are woven into the prompt when set.
func (c *Client) Generate(
	ctx context.Context,
	item core.WorkItem,
	genCtx core.GenerationContext,
) (string, error) {
	prompt := lecturePrompt(item, genCtx)

	completion, genErr := c.generate(ctx, prompt)
	if genErr != nil {
		return "", genErr
	}

	script := stripFences(completion)
	if script == "" {
		return "", fmt.Errorf("%w for item %q", ErrScriptEmpty, item.ID)
	}

	return script, nil
}

// generate sends a single generation request and returns the raw completion.
// Non-success statuses are tagged with their retry class.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrPromptEmpty
	}

	requestBody, marshalErr := json.Marshal(GenerateRequest{
		Model:       c.model,
		Prompt:      prompt,
		Temperature: defaultTemperature,
	})
	if marshalErr != nil {
		return "", fmt.Errorf("failed to marshal request: %w", marshalErr)
	}

	url := c.baseURL + apiGenerateText

	httpReq, reqErr := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if reqErr != nil {
		return "", fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		return "", classifyTransportError(c.baseURL, doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatusError(resp)
	}

	var generateResp GenerateResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&generateResp)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if generateResp.Text == "" {
		return "", ErrEmptyCompletion
	}

	return generateResp.Text, nil
}

// classifyTransportError tags request-level failures with a retry class:
// deadline expiry is a timeout, everything else at the transport layer is
// assumed transient.
func classifyTransportError(baseURL string, err error) error {
	wrapped := fmt.Errorf("failed to send request to text service at %s: %w", baseURL, err)

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewServiceError(core.ClassTimeout, wrapped)
	}

	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	return core.NewServiceError(core.ClassTransient, wrapped)
}

// classifyStatusError maps a non-OK HTTP status to the retry class the
// limiter switches on: 429 is a rate-limit violation, 5xx is transient,
// anything else is fatal.
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
// service. If structured parsing fails, it falls back to the raw response
// body so diagnostic information is preserved.
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

// wholeDocument is the fallback chapter list covering every page.
func wholeDocument(totalPages int) []core.ChapterSpec {
	return []core.ChapterSpec{
		{Title: "全体", StartPage: 1, EndPage: totalPages},
	}
}
