package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"underground-bot/internal/domain"
)

const apiVersion = "2016-07-11"

// messageRequest is the minimal request shape for the workspace message
// endpoint.
type messageRequest struct {
	Input   messageInput               `json:"input"`
	Context domain.ConversationContext `json:"context"`
}

type messageInput struct {
	Text string `json:"text"`
}

// credentialsPayload is the expected JSON shape stored in SSM for the
// conversation service credentials.
type credentialsPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	WorkspaceID string `json:"workspaceId"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("conversation: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the conversation service's workspace
// message endpoint.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	credsOnce sync.Once
	creds     credentialsPayload
	credsErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore Getter for
// credential retrieval. Credentials are fetched from SSM on the first call
// to Message and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("conversation: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("conversation: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://gateway.watsonplatform.net/conversation/api",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (credentialsPayload, error) {
	c.credsOnce.Do(func() {
		c.creds, c.credsErr = fetchCredentials(ctx, c.getter, c.paramPrefix+"/conversation-credentials")
	})
	return c.creds, c.credsErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func messageURL(baseURL, workspaceID string) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/v1/workspaces/%s/message?version=%s", base, url.PathEscape(workspaceID), apiVersion)
}

// Message sends the user's text plus the active context to the conversation
// service and returns its structured response. The service is stateless
// across calls except through the returned context.
func (c *Client) Message(ctx context.Context, text string, convCtx domain.ConversationContext) (*domain.NLUResponse, error) {
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	if convCtx == nil {
		convCtx = domain.ConversationContext{}
	}
	body, err := json.Marshal(messageRequest{
		Input:   messageInput{Text: text},
		Context: convCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal request: %w", err)
	}

	u := messageURL(c.baseURL, creds.WorkspaceID)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("conversation: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return nil, fmt.Errorf("conversation: request failed: %w", err)
	}

	var payload domain.NLUResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("conversation: decode response: %w", decErr)
	}
	if payload.Context == nil {
		payload.Context = domain.ConversationContext{}
	}
	return &payload, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchCredentials(ctx context.Context, getter Getter, name string) (credentialsPayload, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return credentialsPayload{}, fmt.Errorf("conversation: fetch credentials from paramstore: %w", err)
	}
	var cp credentialsPayload
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return credentialsPayload{}, fmt.Errorf("conversation: unmarshal paramstore credentials as JSON: %w", err)
	}
	if cp.Username == "" || cp.Password == "" {
		return credentialsPayload{}, errors.New("conversation: credentials are incomplete")
	}
	if cp.WorkspaceID == "" {
		return credentialsPayload{}, errors.New("conversation: workspace id is empty")
	}
	return cp, nil
}
