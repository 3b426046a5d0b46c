package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vipplay/content-backend/internal/domain"
)

// Generator is the contract the pipeline holds against the generation backend.
// The returned result is opaque to the pipeline; only the backend and the web
// layer interpret it.
type Generator interface {
	Generate(ctx context.Context, jobType domain.JobType, payload json.RawMessage) (json.RawMessage, error)
}

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the generation backend over HTTP and classifies failures.
// It never retries in-call: redelivery through the queue is the single retry
// mechanism, so an attempt here maps 1:1 to a processing attempt.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		apiKey:     strings.TrimSpace(config.APIKey),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *Client) Generate(
	ctx context.Context,
	jobType domain.JobType,
	payload json.RawMessage,
) (json.RawMessage, error) {
	route, ok := RouteFor(jobType)
	if !ok {
		return nil, permanentError("no backend route for job type %q", jobType)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+route.Path,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, permanentError("create backend request: %v", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transientError("backend transport error: %v", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, transientError("read backend body: %v", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		if isRetryableStatus(httpResponse.StatusCode) {
			return nil, transientError("backend status %d: %s", httpResponse.StatusCode, message)
		}
		return nil, permanentError("backend status %d: %s", httpResponse.StatusCode, message)
	}

	var response backendResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, transientError("decode backend response: %v", err)
	}
	if !response.Success {
		return nil, permanentError("backend rejected request: %s", response.failureMessage())
	}

	value := strings.TrimSpace(response.value(route.ResultKey))
	if value == "" {
		return nil, transientError("backend response without %s", route.ResultKey)
	}

	result := map[string]any{route.ResultKey: value}
	if len(response.Metadata) > 0 {
		result["metadata"] = json.RawMessage(response.Metadata)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, permanentError("encode result: %v", err)
	}
	return encoded, nil
}

func isRetryableStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}
