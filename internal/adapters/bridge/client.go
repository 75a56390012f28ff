// Package bridge reaches the conversational execution service over HTTP.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"researchEngine/internal/ports"
)

// Client implements ports.ExecutionBridge against POST {baseURL}/execute.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ ports.ExecutionBridge = (*Client)(nil)

type executeRequest struct {
	UserID      string `json:"user_id"`
	Instruction string `json:"instruction"`
}

// New creates a bridge client. A nil client uses a 30s timeout.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: client}
}

// Execute submits the instruction and decodes the outcome. A 4xx/5xx answer
// with a decodable body is returned as an unsuccessful result.
func (c *Client) Execute(ctx context.Context, userID, instruction string) (*ports.BridgeResult, error) {
	body, err := json.Marshal(executeRequest{UserID: userID, Instruction: instruction})
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read bridge response: %w", err)
	}
	var res ports.BridgeResult
	if err := json.Unmarshal(data, &res); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: bridge returned status %d", ports.ErrExchangeUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("decode bridge response: %w", err)
	}
	if resp.StatusCode >= 300 {
		res.Success = false
		if res.Message == "" {
			res.Message = fmt.Sprintf("bridge returned status %d", resp.StatusCode)
		}
	}
	return &res, nil
}
