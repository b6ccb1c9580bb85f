// Package client is a Go client for the custom server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
	"github.com/metorial/custom-server/internal/utils"
)

// APIError is a non-2xx response from the API
type APIError struct {
	Status    int
	Reason    string
	Message   string
	Retryable bool
	Issues    []svcerr.Issue
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to one deployment of the API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// MaxRetries bounds retries of retryable failures such as lock timeouts
	MaxRetries int
	// RetryWait is the wait used when the server sends no Retry-After
	RetryWait time.Duration
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		MaxRetries: 3,
		RetryWait:  time.Second,
	}
}

// CreateCustomServerResponse is the result of creating a custom server
type CreateCustomServerResponse struct {
	CustomServer models.CustomServer        `json:"custom_server"`
	Version      models.CustomServerVersion `json:"version"`
}

func serverPath(instanceID, serverID string) string {
	return "/v1/instances/" + url.PathEscape(instanceID) + "/custom-servers/" + url.PathEscape(serverID)
}

// CreateCustomServer creates a custom server and its first version
func (c *Client) CreateCustomServer(ctx context.Context, instanceID string, req utils.CreateCustomServerRequest) (*CreateCustomServerResponse, error) {
	var out CreateCustomServerResponse
	path := "/v1/instances/" + url.PathEscape(instanceID) + "/custom-servers"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateVersion creates a version in the instance's environment
func (c *Client) CreateVersion(ctx context.Context, instanceID, serverID string, impl models.Implementation) (*models.CustomServerVersion, error) {
	var out models.CustomServerVersion
	body := utils.CreateVersionRequest{Implementation: impl}
	if err := c.do(ctx, http.MethodPost, serverPath(instanceID, serverID)+"/versions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion fetches a version by id, hash or "current"
func (c *Client) GetVersion(ctx context.Context, instanceID, serverID, versionID string) (*models.CustomServerVersion, error) {
	var out models.CustomServerVersion
	path := serverPath(instanceID, serverID) + "/versions/" + url.PathEscape(versionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVersions fetches one page of versions, newest first
func (c *Client) ListVersions(ctx context.Context, instanceID, serverID string, limit, offset int) (*models.VersionList, error) {
	var out models.VersionList
	path := fmt.Sprintf("%s/versions?limit=%d&offset=%d", serverPath(instanceID, serverID), limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAllVersions pages through every version of the instance's environment
func (c *Client) ListAllVersions(ctx context.Context, instanceID, serverID string) ([]models.CustomServerVersion, error) {
	const pageSize = 100

	var all []models.CustomServerVersion
	for offset := 0; ; offset += pageSize {
		page, err := c.ListVersions(ctx, instanceID, serverID, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing versions at offset %d: %w", offset, err)
		}
		all = append(all, page.Versions...)
		if len(page.Versions) < pageSize || len(all) >= page.Metadata.Total {
			return all, nil
		}
	}
}

// PromoteVersion makes a version the current one of its environment
func (c *Client) PromoteVersion(ctx context.Context, instanceID, serverID, versionID string) (*models.CustomServerVersion, error) {
	var out models.CustomServerVersion
	path := serverPath(instanceID, serverID) + "/versions/" + url.PathEscape(versionID) + "/promote"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportVersion copies a version of another instance's environment into this one.
// An empty versionID imports the source's current version.
func (c *Client) ImportVersion(ctx context.Context, instanceID, serverID, fromInstanceID, versionID string) (*models.CustomServerVersion, error) {
	var out models.CustomServerVersion
	body := utils.ImportVersionRequest{FromInstanceID: fromInstanceID, VersionID: versionID}
	if err := c.do(ctx, http.MethodPost, serverPath(instanceID, serverID)+"/import", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportResult is the outcome of importing into one target instance
type ImportResult struct {
	InstanceID string
	Version    *models.CustomServerVersion
	Err        error
}

// ImportToInstances imports the source's current version into every target
// instance, a few at a time. Per-target failures are reported in the results.
func (c *Client) ImportToInstances(ctx context.Context, serverID, fromInstanceID string, targets []string) []ImportResult {
	results := make([]ImportResult, len(targets))
	var wg sync.WaitGroup

	// Limit concurrent requests
	semaphore := make(chan struct{}, 4)

	for i, target := range targets {
		wg.Add(1)
		go func(idx int, instanceID string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			v, err := c.ImportVersion(ctx, instanceID, serverID, fromInstanceID, "")
			results[idx] = ImportResult{InstanceID: instanceID, Version: v, Err: err}
		}(i, target)
	}

	wg.Wait()
	return results
}

// do sends one request, retrying retryable failures
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		wait, err := c.send(ctx, method, path, payload, out)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.Retryable || attempt >= c.MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// send performs a single attempt and returns how long to wait before a retry
func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}) (time.Duration, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.retryWait(resp), decodeError(resp)
	}

	if out == nil {
		return 0, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}
	return 0, nil
}

func (c *Client) retryWait(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return c.RetryWait
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body utils.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &APIError{
			Status:    resp.StatusCode,
			Message:   string(bytes.TrimSpace(data)),
			Retryable: resp.StatusCode == http.StatusServiceUnavailable,
		}
	}
	return &APIError{
		Status:    resp.StatusCode,
		Reason:    body.Reason,
		Message:   body.Error,
		Retryable: body.Retryable,
		Issues:    body.Issues,
	}
}
