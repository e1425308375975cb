package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"eventdedup/internal/config"
	"eventdedup/internal/permanent"
)

// HTTPExecutor posts action payload to configured webhook.
// Params: endpoint URL, method, timeout, headers, and optional message template.
// Returns: webhook executor.
type HTTPExecutor struct {
	cfg     config.ActionConfig
	client  *http.Client
	message *template.Template
}

// NewHTTPExecutor creates webhook executor.
func NewHTTPExecutor(cfg config.ActionConfig, message *template.Template) *HTTPExecutor {
	return &HTTPExecutor{
		cfg:     cfg,
		message: message,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Execute delivers JSON payload to webhook.
// Params: context and action request.
// Returns: transport error, retryable 5xx/408/429 error, or permanent 4xx error.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) error {
	payload := NewPayload(req)
	text, err := renderText(e.message, payload)
	if err != nil {
		return permanent.Mark(fmt.Errorf("render http action message: %w", err))
	}
	payload.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode http action payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(e.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build http action request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Dispatch-Id", req.DispatchID)
	for key, value := range e.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := e.client.Do(request)
	if err != nil {
		return fmt.Errorf("http action send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return permanent.HTTPStatus(response.StatusCode, readBodySummary(response.Body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

// readBodySummary reads up to 512 bytes of response body for error text.
func readBodySummary(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return "(read body error: " + err.Error() + ")"
	}
	return strings.TrimSpace(string(raw))
}
