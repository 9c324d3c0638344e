// Package llm provides an OpenAI-compatible chat completions adapter for the
// agent's Generator and Summarizer capabilities. Provider identity is opaque
// to the orchestration core; anything speaking this wire format works.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	summaryModel string
	httpClient   *http.Client
	logger       *slog.Logger
}

// New creates a client from the API config.
func New(cfg agent.APIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Model
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		summaryModel: summaryModel,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With("component", "llm"),
	}
}

// ---------- Wire types (OpenAI-compatible) ----------

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []toolDef     `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate implements agent.Generator.
func (c *Client) Generate(ctx context.Context, instructions string, history []agent.Message, tools []agent.ToolDefinition) (agent.GenerationOutput, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	if instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: instructions})
	}
	for _, m := range history {
		messages = append(messages, toWire(m))
	}

	wireTools := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		wireTools = append(wireTools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.complete(ctx, chatRequest{Model: c.model, Messages: messages, Tools: wireTools})
	if err != nil {
		return nil, err
	}

	choice := resp.Choices[0]
	usage := agent.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	if len(choice.Message.ToolCalls) == 0 {
		return agent.FinalText{Text: choice.Message.Content, Usage: usage}, nil
	}

	requests := make([]agent.ToolCallRequest, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseToolArgs(tc.Function.Arguments)
		if err != nil {
			c.logger.Warn("unparseable tool arguments",
				"tool", tc.Function.Name, "error", err)
			args = map[string]any{}
		}
		requests = append(requests, agent.ToolCallRequest{
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Args:       args,
		})
	}
	return agent.DeferredToolRequests{
		Text:     choice.Message.Content,
		Requests: requests,
		Usage:    usage,
	}, nil
}

// Summarize implements agent.Summarizer via a plain completion on the
// summary model.
func (c *Client) Summarize(ctx context.Context, instructions, text string) (string, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model: c.summaryModel,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// complete performs one chat completions round-trip.
func (c *Client) complete(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response (%s): %w", httpResp.Status, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("api error (%s): %s", httpResp.Status, resp.Error.Message)
	}
	if httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("api error: %s", httpResp.Status)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	c.logger.Debug("completion finished",
		"model", reqBody.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return &resp, nil
}

// toWire converts a conversation message to the wire format.
func toWire(m agent.Message) chatMessage {
	wire := chatMessage{Role: m.Role, Content: m.Content}
	if m.Role == agent.RoleTool {
		wire.ToolCallID = m.ToolCallID
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Args)
		if err != nil {
			args = []byte("{}")
		}
		wire.ToolCalls = append(wire.ToolCalls, toolCall{
			ID:   tc.ToolCallID,
			Type: "function",
			Function: functionCall{
				Name:      tc.ToolName,
				Arguments: string(args),
			},
		})
	}
	return wire
}

// parseToolArgs decodes the JSON argument string of a tool call.
func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
