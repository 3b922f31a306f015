package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容接口给出交易决策。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 决策方。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Decide 实现 oracle.Oracle 接口。
func (c *Client) Decide(ctx context.Context, signal feed.Signal, dctx oracle.Context) (oracle.Decision, error) {
	reply, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(signal, dctx)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return oracle.Decision{}, err
	}
	return oracle.ParseReply(reply, dctx.Proposal)
}

// complete 发送一次 chat completion 请求，返回首个 choice 的内容。
func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleFailure, err, "序列化 OpenAI 请求失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleFailure, err, "构建 OpenAI 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", xerrors.New(xerrors.CodeOracleFailure, "OpenAI 返回错误状态",
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithMetadata("body", strings.TrimSpace(string(detail))))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleFailure, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeOracleFailure, "OpenAI 响应中没有有效的 choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

const systemPrompt = "" +
	"You are the decision engine of an autonomous on-chain trading agent. " +
	"Answer every question with one compact JSON object: " +
	"{\"decision\": \"act\" | \"no_act\", \"amount\": number, \"from\": string, \"to\": string, \"reason\": string}. " +
	"Omit amount/from/to to accept the proposed swap unchanged."

func buildUserPrompt(signal feed.Signal, dctx oracle.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", dctx.Prompt)
	fmt.Fprintf(&b, "observation: %s %s/%s\n", dctx.Observation, signal.Asset, signal.Quote)
	if !signal.ObservedAt.IsZero() {
		fmt.Fprintf(&b, "observed_at: %s\n", signal.ObservedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "proposal: swap %v %s -> %s\n", dctx.Proposal.Amount, dctx.Proposal.From, dctx.Proposal.To)
	fmt.Fprintf(&b, "cycle: %d\n", dctx.Cycle)
	return b.String()
}

var _ oracle.Oracle = (*Client)(nil)
