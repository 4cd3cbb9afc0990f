// Package backend is the HTTP client for the practice's records API, the
// one external collaborator of the intake service. It speaks the seven
// verbs the session controller needs and nothing else.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutricare/intake/internal/record"
)

// APIError is a non-2xx response from the records API. Message carries the
// backend-supplied detail when one was parseable.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("records api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("records api: status %d", e.Status)
}

// Client talks to the records API with bearer-token auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func New(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *Client) CreateClient(ctx context.Context, payload *record.ClientPayload) (*record.Client, error) {
	var out record.Client
	if err := c.do(ctx, http.MethodPost, "/clients/", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReplaceClient(ctx context.Context, id int64, payload *record.ClientPayload) (*record.Client, error) {
	var out record.Client
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/clients/%d/", id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PatchClient(ctx context.Context, id int64, patch *record.ClientPatch) (*record.Client, error) {
	var out record.Client
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/clients/%d/", id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClientByID returns the record with its nested follow-ups.
func (c *Client) GetClientByID(ctx context.Context, id int64) (*record.Client, error) {
	var out record.Client
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/clients/%d/", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFollowUp(ctx context.Context, clientID int64, payload *record.FollowUpPayload) (*record.FollowUp, error) {
	var out record.FollowUp
	path := fmt.Sprintf("/clients/%d/followups/", clientID)
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateFollowUp(ctx context.Context, clientID, followUpID int64, payload *record.FollowUpPayload) (*record.FollowUp, error) {
	var out record.FollowUp
	path := fmt.Sprintf("/clients/%d/followups/%d/", clientID, followUpID)
	if err := c.do(ctx, http.MethodPut, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteFollowUp(ctx context.Context, clientID, followUpID int64) error {
	path := fmt.Sprintf("/clients/%d/followups/%d/", clientID, followUpID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
		c.log.Warn().Int("status", resp.StatusCode).Str("method", method).
			Str("path", path).Str("detail", apiErr.Message).Msg("records api error")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls the backend's detail or error field out of an error
// body. Anything unparseable yields an empty message and the caller falls
// back to a generic one.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Detail != "" {
		return body.Detail
	}
	return body.Error
}
