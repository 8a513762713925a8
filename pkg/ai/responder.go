package ai

import (
	"context"
	"strings"
	"sync"
)

// Responder produces a chat reply for a single user message. Both upstream
// flavors implement it; the reply is always user-displayable.
type Responder interface {
	Reply(ctx context.Context, user, message string) string
	// ClearHistory drops any server- or client-side conversation state
	// for the user.
	ClearHistory(user string)
}

// OpenAIResponder answers via an OpenAI-compatible endpoint. Conversation
// history is kept per user in memory and replayed on each call.
type OpenAIResponder struct {
	client *Client
	mode   string
	limit  int
	suffix string

	mu      sync.Mutex
	history map[string][]Message
	maxTurn int
}

func NewOpenAIResponder(client *Client, mode string, limit int, suffix string) *OpenAIResponder {
	return &OpenAIResponder{
		client:  client,
		mode:    mode,
		limit:   limit,
		suffix:  suffix,
		history: make(map[string][]Message),
		maxTurn: 10,
	}
}

func (r *OpenAIResponder) Reply(ctx context.Context, user, message string) string {
	r.mu.Lock()
	history := append([]Message(nil), r.history[user]...)
	r.mu.Unlock()

	var reply string
	if r.mode == "block" {
		reply = r.client.SimpleChat(ctx, message, history)
		if r.limit > 0 {
			runes := []rune(reply)
			if len(runes) > r.limit {
				reply = string(runes[:r.limit]) + "..." + r.suffix
			}
		}
	} else {
		reply = r.client.CollectStream(ctx, message, history, r.limit, r.suffix)
	}

	r.remember(user, message, reply)
	return reply
}

func (r *OpenAIResponder) remember(user, message, reply string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := append(r.history[user],
		Message{Role: "user", Content: message},
		Message{Role: "assistant", Content: reply},
	)
	if len(h) > r.maxTurn*2 {
		h = h[len(h)-r.maxTurn*2:]
	}
	r.history[user] = h
}

func (r *OpenAIResponder) ClearHistory(user string) {
	r.mu.Lock()
	delete(r.history, user)
	r.mu.Unlock()
}

// DifyResponder answers via Dify, which keeps history server-side. The
// conversation id returned by the first call is reused for the user until
// cleared.
type DifyResponder struct {
	client *DifyClient

	mu            sync.Mutex
	conversations map[string]string
}

func NewDifyResponder(client *DifyClient) *DifyResponder {
	return &DifyResponder{
		client:        client,
		conversations: make(map[string]string),
	}
}

func (r *DifyResponder) Reply(ctx context.Context, user, message string) string {
	r.mu.Lock()
	convID := r.conversations[user]
	r.mu.Unlock()

	answer, newConvID := r.client.CollectAnswer(ctx, message, user, convID)
	if newConvID != "" && newConvID != convID {
		r.mu.Lock()
		r.conversations[user] = newConvID
		r.mu.Unlock()
	}
	return strings.TrimSpace(answer)
}

func (r *DifyResponder) ClearHistory(user string) {
	r.mu.Lock()
	delete(r.conversations, user)
	r.mu.Unlock()
}
