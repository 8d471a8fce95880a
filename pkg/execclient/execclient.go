// Package execclient calls the code-execution collaborator over HTTP.
// The sandbox itself lives elsewhere; this client only submits code and
// returns the outcome.
package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kodescrux/collab/pkg/protocol"
)

type Client struct {
	baseURL string
	hc      *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, hc: hc}
}

type runRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

// Run executes code in the given language and returns the result. A
// failed program is a successful call: compile and runtime errors come
// back inside the result, not as an error.
func (c *Client) Run(ctx context.Context, code, language, stdin string) (*protocol.ExecutionResult, error) {
	body, err := json.Marshal(runRequest{Code: code, Language: language, Stdin: stdin})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execute: status %d", resp.StatusCode)
	}

	var result protocol.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
