// Package client talks to the records server over JSON/HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/domain"

	"github.com/tidwall/gjson"
)

const DefaultTimeout = 30 * time.Second

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration, deviceID string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for an access token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, userName, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_name": userName, "password": password})
	if err != nil {
		return "", err
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body)
	if err != nil {
		return "", fmt.Errorf("failed to login: %w", err)
	}

	token := gjson.GetBytes(data, "data.access_token").String()
	if token == "" {
		return "", fmt.Errorf("failed to login: no access token in response")
	}
	c.SetToken(token)
	return token, nil
}

// Push sends a record payload and returns the server's copy of the document.
func (c *Client) Push(ctx context.Context, method, path string, payload *domain.SyncPayload) (*domain.Fields, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	doc, err := domain.ParseFields(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode server document: %w", err)
	}
	return doc, nil
}

func (c *Client) FetchAttachment(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// IDsAndRevs lists the server's record ids with their current revisions.
func (c *Client) IDsAndRevs(ctx context.Context) (map[string]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/children/ids", nil)
	if err != nil {
		return nil, err
	}

	revs := make(map[string]string)
	if err := json.Unmarshal(data, &revs); err != nil {
		return nil, fmt.Errorf("failed to decode revisions: %w", err)
	}
	return revs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return data, nil
}
