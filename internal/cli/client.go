// Package cli implements the opsctl commands. Every command talks to the
// portal API over HTTP; nothing here touches the database directly.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client is a thin wrapper over the portal API's response envelope.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient reads connection settings from the environment:
// OPSCTL_API_URL and OPSCTL_TOKEN.
func NewClient() *Client {
	base := os.Getenv("OPSCTL_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &Client{
		baseURL: base,
		token:   os.Getenv("OPSCTL_TOKEN"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Get fetches a resource and decodes the envelope's data into out.
func (c *Client) Get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

// Post sends a JSON body and decodes the envelope's data into out. Both
// body and out may be nil.
func (c *Client) Post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

// Put sends a JSON body with PUT semantics.
func (c *Client) Put(path string, body, out any) error {
	return c.do(http.MethodPut, path, body, out)
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("request failed with %s", resp.Status)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
