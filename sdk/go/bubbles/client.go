package bubbles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// A chat turn may run several tool rounds, so it is longer than a plain REST call.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the Bubbles REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	maxRetries uint64
}

// ChatRequest is the payload of a single chat turn.
type ChatRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ToolCall is a tool invocation requested by the model during a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the serialized outcome of a ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ChatReply is the assistant answer for a turn.
type ChatReply struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	Reply          string       `json:"reply"`
	Model          string       `json:"model,omitempty"`
	Rounds         int          `json:"rounds"`
	Source         string       `json:"source"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
}

// Message is a stored conversation message.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	Feedback       string       `json:"feedback,omitempty"`
	Model          string       `json:"model,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HolderCount is the answer of the holder count endpoint.
type HolderCount struct {
	Total       int `json:"total"`
	WithBalance int `json:"with_balance"`
}

// Holder is one entry of the top holders ranking.
type Holder struct {
	Address          string  `json:"address"`
	Balance          string  `json:"balance"`
	TransactionCount int     `json:"transaction_count"`
	Category         string  `json:"category"`
	Emoji            string  `json:"emoji,omitempty"`
	Label            *string `json:"label,omitempty"`
	IsFlagship       bool    `json:"is_flagship"`
	IsExchange       bool    `json:"is_exchange"`
	IsWrapped        bool    `json:"is_wrapped"`
}

// QueryResult carries a holder query answer plus the data tier that served it.
type QueryResult[T any] struct {
	Kind    string `json:"kind"`
	Result  T      `json:"result"`
	Source  string `json:"source"`
	Records int    `json:"records"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("bubbles api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("bubbles api error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetries retries read-only calls that fail with a temporary error.
// Chat turns are never retried because the server persists them.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient instantiates a client for the Bubbles API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Chat sends one user message and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/api/v1/chat", req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// Feedback rates an assistant message, matched by its content.
func (c *Client) Feedback(ctx context.Context, conversationID, content string, positive bool) error {
	rating := "negative"
	if positive {
		rating = "positive"
	}
	body := map[string]string{"conversation_id": conversationID, "content": content, "feedback": rating}
	return c.post(ctx, "/api/v1/chat/feedback", body, nil)
}

// Messages returns the most recent messages of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	endpoint := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, endpoint, q, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// HolderCount returns the number of WCO holder addresses.
func (c *Client) HolderCount(ctx context.Context) (QueryResult[HolderCount], error) {
	var out QueryResult[HolderCount]
	err := c.get(ctx, "/api/v1/holders/count", nil, &out)
	return out, err
}

// TopHolders returns the largest holders, optionally filtered by category.
func (c *Client) TopHolders(ctx context.Context, limit int, category string) (QueryResult[[]Holder], error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if category != "" {
		q.Set("category", category)
	}
	var out QueryResult[[]Holder]
	err := c.get(ctx, "/api/v1/holders/top", q, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	op := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.do(req, out)
		var apiErr *APIError
		if err != nil && errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	if c.maxRetries == 0 {
		return op()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: apiErr})
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
