// Package github sends workflow_dispatch events to the GitHub Actions REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL = "https://api.github.com/"
	acceptHeader   = "application/vnd.github+json"
	userAgent      = "workflow-relay"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise instance or a test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/") + "/"
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Workflow identifies the workflow file to run and the ref to run it on.
type Workflow struct {
	Owner string
	Repo  string
	File  string
	Ref   string
}

func (w Workflow) dispatchPath() string {
	return fmt.Sprintf("repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(w.Owner), url.PathEscape(w.Repo), url.PathEscape(w.File))
}

// DispatchResult is the upstream answer to a dispatch request.
type DispatchResult struct {
	StatusCode int
	Body       string
}

// Triggered reports whether GitHub accepted the dispatch. The API answers
// 204 No Content on success; every other status is a rejection.
func (r *DispatchResult) Triggered() bool {
	return r.StatusCode == http.StatusNoContent
}

// Client is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	api        *gh.Client
}

// NewClient creates a dispatch client authenticating with token.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c.api = gh.NewClient(c.httpClient)
	c.api.BaseURL = base
	c.api.UserAgent = userAgent

	return c, nil
}

// DispatchWorkflow asks GitHub to run wf with manifest as its "manifest" input.
// The manifest is forwarded verbatim. A non-nil error means no upstream answer
// was obtained; an upstream rejection is reported through the result instead.
func (c *Client) DispatchWorkflow(ctx context.Context, wf Workflow, manifest json.RawMessage) (*DispatchResult, error) {
	body := &gh.CreateWorkflowDispatchEventRequest{
		Ref: wf.Ref,
		Inputs: map[string]interface{}{
			"manifest": manifest,
		},
	}

	req, err := c.api.NewRequest(http.MethodPost, wf.dispatchPath(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &DispatchResult{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}, nil
}
