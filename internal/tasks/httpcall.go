package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskmill/internal/worker"
)

// HTTPCall performs an outbound HTTP request. Payload:
//
//	{"url": "...", "method": "POST", "headers": {...}, "body": "...", "timeout": 30}
type HTTPCall struct {
	worker.Base
}

type httpPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
	Timeout int               `json:"timeout"` // seconds
}

func (HTTPCall) Kind() string { return "httpcall" }

func (HTTPCall) Run(ctx context.Context, payload json.RawMessage) error {
	var p httpPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid httpcall payload: %w", err)
	}
	if p.URL == "" {
		return fmt.Errorf("url is required")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	if p.Timeout <= 0 {
		p.Timeout = 30
	}

	client := &http.Client{Timeout: time.Duration(p.Timeout) * time.Second}

	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
