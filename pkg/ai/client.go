package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
)

// User-facing fallback replies. Upstream failures never surface as Go
// errors to chat users, only as these strings.
const (
	MsgNotConfigured   = "AI服务未配置，无法提供智能回复"
	MsgConnectionError = "AI服务连接异常，请稍后重试"
	MsgTimeout         = "AI服务响应超时，请稍后重试"
	MsgBadResponse     = "AI服务返回格式异常"
)

// Message is a single chat turn sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError is a non-200 response from the chat completion endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// UserMessage renders the status as a user-facing reply.
func (e *StatusError) UserMessage() string {
	return fmt.Sprintf("AI服务暂时不可用: %d", e.Code)
}

// ErrStop makes Stream return nil early from a delta callback.
var ErrStop = errors.New("stop streaming")

// Client calls an OpenAI-compatible chat completion API. The HTTP client is
// shared across calls and recreated after a transport failure. Configuration
// can be swapped at runtime via UpdateConfig.
type Client struct {
	mu         sync.Mutex
	cfg        config.OpenAIConfig
	httpClient *http.Client
}

func NewClient(cfg config.OpenAIConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// UpdateConfig swaps the upstream configuration for subsequent calls.
func (c *Client) UpdateConfig(cfg config.OpenAIConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Configured reports whether the upstream URL and key are set.
func (c *Client) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.APIURL != "" && c.cfg.APIKey != ""
}

func (c *Client) snapshot() (config.OpenAIConfig, *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.httpClient
}

// resetHTTPClient discards the shared client after a transport error, the
// next call gets fresh connections.
func (c *Client) resetHTTPClient(old *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient == old {
		old.CloseIdleConnections()
		c.httpClient = &http.Client{}
		logger.WarnC("ai", "Transport error, recreated HTTP client")
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, cfg config.OpenAIConfig, messages []Message, stream bool) (*http.Request, error) {
	full := messages
	if cfg.Prompt != "" {
		full = append([]Message{{Role: "system", Content: cfg.Prompt}}, messages...)
	}

	body, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Messages:    full,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(cfg.APIURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// withDefaultTimeout applies the configured timeout when the caller did not
// set a deadline.
func withDefaultTimeout(ctx context.Context, cfg config.OpenAIConfig) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

// Chat issues a blocking chat completion and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	cfg, httpClient := c.snapshot()

	ctx, cancel := withDefaultTimeout(ctx, cfg)
	defer cancel()

	req, err := c.newRequest(ctx, cfg, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.resetHTTPClient(httpClient)
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.ErrorCF("ai", "Chat completion failed", map[string]any{
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// Stream issues a streaming chat completion and invokes onDelta for each
// content fragment. Returning ErrStop from the callback ends the stream
// without error.
func (c *Client) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) error {
	cfg, httpClient := c.snapshot()

	ctx, cancel := withDefaultTimeout(ctx, cfg)
	defer cancel()

	req, err := c.newRequest(ctx, cfg, messages, true)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.resetHTTPClient(httpClient)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.ErrorCF("ai", "Streaming completion failed", map[string]any{
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line[6:]), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		// a mid-stream deadline still leaves usable partial content
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// userFacing maps any call error onto a canned chat reply.
func userFacing(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case errors.As(err, &statusErr):
		return statusErr.UserMessage()
	default:
		return MsgConnectionError
	}
}

// SimpleChat runs a blocking completion and always returns something a
// chat user can read.
func (c *Client) SimpleChat(ctx context.Context, userMessage string, history []Message) string {
	if !c.Configured() {
		return MsgNotConfigured
	}

	messages := append(append([]Message(nil), history...), Message{Role: "user", Content: userMessage})
	reply, err := c.Chat(ctx, messages)
	if err != nil {
		logger.ErrorCF("ai", "Chat failed", map[string]any{"error": err.Error()})
		return userFacing(err)
	}
	if reply == "" {
		return MsgBadResponse
	}
	return reply
}

// CollectStream runs a streaming completion and accumulates the reply up to
// limit runes. Hitting the limit or the deadline appends suffix to whatever
// was collected, so a slow upstream still yields a usable partial answer.
func (c *Client) CollectStream(ctx context.Context, userMessage string, history []Message, limit int, suffix string) string {
	if !c.Configured() {
		return MsgNotConfigured
	}

	messages := append(append([]Message(nil), history...), Message{Role: "user", Content: userMessage})

	var b strings.Builder
	collected := 0
	truncated := false

	err := c.Stream(ctx, messages, func(delta string) error {
		b.WriteString(delta)
		collected += len([]rune(delta))
		if limit > 0 && collected >= limit {
			truncated = true
			return ErrStop
		}
		return nil
	})

	if truncated {
		// the final delta may cross the cap, trim back to it
		runes := []rune(b.String())
		if len(runes) > limit {
			runes = runes[:limit]
		}
		return string(runes) + "..." + suffix
	}
	if err != nil {
		if b.Len() == 0 {
			logger.ErrorCF("ai", "Streaming chat failed", map[string]any{"error": err.Error()})
			return userFacing(err)
		}
		// partial answer beats an apology
		b.WriteString(suffix)
	}
	return b.String()
}
