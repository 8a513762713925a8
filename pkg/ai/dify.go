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
	"time"

	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
)

// DifyClient calls the Dify chat-messages API as an alternative upstream.
// Dify keeps conversation state server-side, so callers pass a conversation
// id instead of replaying history.
type DifyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewDifyClient(cfg config.DifyConfig) *DifyClient {
	base := cfg.APIURL
	if base == "" {
		base = "https://api.dify.ai/v1"
	}
	return &DifyClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

type difyRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

type difyEvent struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// Chat sends a blocking query and returns the answer plus the conversation
// id to continue the thread.
func (d *DifyClient) Chat(ctx context.Context, query, user, conversationID string) (answer, convID string, err error) {
	body, err := json.Marshal(difyRequest{
		Inputs:         map[string]any{},
		Query:          query,
		User:           user,
		ResponseMode:   "blocking",
		ConversationID: conversationID,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.ErrorCF("ai", "Dify request failed", map[string]any{
			"status": resp.StatusCode,
			"body":   string(errBody),
		})
		return "", "", &StatusError{Code: resp.StatusCode, Body: string(errBody)}
	}

	var result difyEvent
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Answer, result.ConversationID, nil
}

// Stream sends a streaming query, invoking onAnswer for each answer
// fragment until the message_end event. Returns the conversation id seen on
// the stream.
func (d *DifyClient) Stream(ctx context.Context, query, user, conversationID string, onAnswer func(fragment string) error) (string, error) {
	body, err := json.Marshal(difyRequest{
		Inputs:         map[string]any{},
		Query:          query,
		User:           user,
		ResponseMode:   "streaming",
		ConversationID: conversationID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: string(errBody)}
	}

	convID := conversationID
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event difyEvent
		if err := json.Unmarshal([]byte(line[6:]), &event); err != nil {
			continue
		}
		if event.ConversationID != "" {
			convID = event.ConversationID
		}
		if event.Event == "message_end" {
			break
		}
		if event.Answer == "" {
			continue
		}

		if err := onAnswer(event.Answer); err != nil {
			if errors.Is(err, ErrStop) {
				return convID, nil
			}
			return convID, err
		}
	}
	if err := scanner.Err(); err != nil {
		return convID, err
	}
	return convID, nil
}

// CollectAnswer streams a query into a single reply string, mapping every
// failure mode onto a user-facing message.
func (d *DifyClient) CollectAnswer(ctx context.Context, query, user, conversationID string) (string, string) {
	var b strings.Builder

	convID, err := d.Stream(ctx, query, user, conversationID, func(fragment string) error {
		b.WriteString(fragment)
		return nil
	})
	if err != nil && b.Len() == 0 {
		logger.ErrorCF("ai", "Dify streaming failed", map[string]any{"error": err.Error()})
		return userFacing(err), convID
	}
	return b.String(), convID
}
