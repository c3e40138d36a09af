package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/llm"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型接口，支持工具调用。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient 根据配置创建客户端。未配置 API Key 时仍可创建，调用时返回 UNAUTHENTICATED。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("openai"),
	}
}

var _ llm.Client = (*Client)(nil)

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Chat 调用模型。429 与额度不足映射为 RATE_LIMITED，401/403 映射为 UNAUTHENTICATED，
// 超时映射为 TIMEOUT，其余失败映射为 PROVIDER_FAILURE。
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (resp *llm.ChatResponse, err error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = strings.ToLower(string(xerrors.CodeOf(err)))
		}
		metrics.ObserveLLMRequest(model, outcome, time.Since(started))
	}()

	if c.apiKey == "" {
		return nil, xerrors.New(xerrors.CodeUnauthenticated, "未提供大模型 API Key")
	}

	payload, err := json.Marshal(buildRequest(model, req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "构建请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, statusError(httpResp.StatusCode, body)
	}

	var decoded wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "解析模型响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeProviderFailure, "模型响应中没有有效的 choices")
	}

	choice := decoded.Choices[0]
	out := &llm.ChatResponse{
		FinishReason: choice.FinishReason,
		Model:        decoded.Model,
		Usage:        decoded.Usage,
	}
	if out.Model == "" {
		out.Model = model
	}
	if choice.Message.Content != nil {
		out.Content = strings.TrimSpace(*choice.Message.Content)
	}
	for _, call := range choice.Message.ToolCalls {
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	c.log.Debug("chat completion", "model", out.Model, "tool_calls", len(out.ToolCalls), "finish_reason", out.FinishReason, "total_tokens", out.Usage.TotalTokens)
	return out, nil
}

func buildRequest(model string, req llm.ChatRequest) wireRequest {
	wire := wireRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		content := msg.Content
		m := wireMessage{Role: string(msg.Role), Content: &content, ToolCallID: msg.ToolCallID, Name: msg.Name}
		for _, call := range msg.ToolCalls {
			args := string(call.Arguments)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			m.ToolCalls = append(m.ToolCalls, wireToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: wireFunction{Name: call.Name, Arguments: args},
			})
		}
		if msg.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 && content == "" {
			m.Content = nil
		}
		wire.Messages = append(wire.Messages, m)
	}
	for _, tool := range req.Tools {
		var t wireTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.Parameters
		wire.Tools = append(wire.Tools, t)
	}
	if len(wire.Tools) > 0 {
		wire.ToolChoice = req.ToolChoice
		if wire.ToolChoice == "" {
			wire.ToolChoice = llm.ToolChoiceAuto
		}
	}
	return wire
}

func statusError(status int, body []byte) error {
	var decoded wireError
	_ = json.Unmarshal(body, &decoded)
	message := strings.TrimSpace(decoded.Error.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	code := fmt.Sprint(decoded.Error.Code)
	detail := fmt.Sprintf("模型接口返回状态 %d: %s", status, message)
	opts := []xerrors.Option{xerrors.WithMetadata("status", fmt.Sprint(status))}

	switch {
	case status == http.StatusTooManyRequests, code == "insufficient_quota", decoded.Error.Type == "insufficient_quota":
		return xerrors.New(xerrors.CodeRateLimited, detail, opts...)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return xerrors.New(xerrors.CodeUnauthenticated, detail, opts...)
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return xerrors.New(xerrors.CodeTimeout, detail, opts...)
	default:
		return xerrors.New(xerrors.CodeProviderFailure, detail, opts...)
	}
}

func mapTransportError(ctx context.Context, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "模型请求超时")
	}
	return xerrors.Wrap(xerrors.CodeProviderFailure, err, "请求模型失败")
}
