package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oabridge/oabridge/pkg/config"
)

func testConfig(url string) config.OpenAIConfig {
	return config.OpenAIConfig{
		APIURL:         url,
		APIKey:         "sk-test",
		Model:          "test-model",
		Prompt:         "you are helpful",
		MaxTokens:      1024,
		Temperature:    0.7,
		TimeoutSeconds: 10,
	}
}

func sseChunk(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func TestChatBlocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}

		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("system prompt not prepended: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "你好！"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "你好！" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	reply := c.SimpleChat(context.Background(), "hi", nil)
	if reply != "AI服务暂时不可用: 429" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestSimpleChatUnconfigured(t *testing.T) {
	c := NewClient(config.OpenAIConfig{})
	if got := c.SimpleChat(context.Background(), "hi", nil); got != MsgNotConfigured {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestStreamAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("第一"))
		fmt.Fprint(w, sseChunk("第二"))
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, sseChunk("第三"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	got := c.CollectStream(context.Background(), "hi", nil, 0, "")
	if got != "第一第二第三" {
		t.Fatalf("unexpected accumulation %q", got)
	}
}

func TestCollectStreamLengthCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, sseChunk(strings.Repeat("字", 10)))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	got := c.CollectStream(context.Background(), "hi", nil, 50, "余下省略")

	if !strings.HasSuffix(got, "...余下省略") {
		t.Fatalf("missing truncation suffix: %q", got)
	}
	body := strings.TrimSuffix(got, "...余下省略")
	if n := len([]rune(body)); n != 50 {
		t.Fatalf("expected exactly 50 runes before the suffix, got %d", n)
	}
}

func TestCollectStreamCapWithOversizedDelta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(strings.Repeat("字", 200)))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	got := c.CollectStream(context.Background(), "hi", nil, 50, "余下省略")

	if !strings.HasSuffix(got, "...余下省略") {
		t.Fatalf("missing truncation suffix: %q", got)
	}
	body := strings.TrimSuffix(got, "...余下省略")
	if n := len([]rune(body)); n != 50 {
		t.Fatalf("a single delta past the cap must still be trimmed to 50 runes, got %d", n)
	}
}

func TestCollectStreamTimeoutKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseChunk("部分内容"))
		flusher.Flush()
		// stall past the caller's deadline
		time.Sleep(2 * time.Second)
		fmt.Fprint(w, sseChunk("迟到的内容"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	got := c.CollectStream(ctx, "hi", nil, 600, "（回答未完成）")
	if got != "部分内容（回答未完成）" {
		t.Fatalf("expected partial with suffix, got %q", got)
	}
}

func TestCollectStreamTimeoutNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if got := c.CollectStream(ctx, "hi", nil, 600, ""); got != MsgTimeout {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestClientRecreatedAfterTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := NewClient(testConfig(srv.URL))
	_, before := c.snapshot()

	reply := c.SimpleChat(context.Background(), "hi", nil)
	if reply != MsgConnectionError {
		t.Fatalf("unexpected reply %q", reply)
	}

	_, after := c.snapshot()
	if before == after {
		t.Fatal("expected HTTP client to be recreated after transport error")
	}
}

func TestOpenAIResponderHistory(t *testing.T) {
	var lastMessages []Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		lastMessages = req.Messages
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "answer"}},
			},
		})
	}))
	defer srv.Close()

	r := NewOpenAIResponder(NewClient(testConfig(srv.URL)), "block", 0, "")
	ctx := context.Background()

	r.Reply(ctx, "user-a", "first")
	r.Reply(ctx, "user-a", "second")

	// system + first turn (user/assistant) + second user message
	if len(lastMessages) != 4 {
		t.Fatalf("expected replayed history, got %d messages", len(lastMessages))
	}
	if lastMessages[1].Content != "first" || lastMessages[3].Content != "second" {
		t.Fatalf("history out of order: %+v", lastMessages)
	}

	r.ClearHistory("user-a")
	r.Reply(ctx, "user-a", "third")
	if len(lastMessages) != 2 {
		t.Fatalf("history not cleared, got %d messages", len(lastMessages))
	}
}

func TestDifyCollectAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req difyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseMode != "streaming" {
			t.Errorf("unexpected mode %s", req.ResponseMode)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"message","answer":"你","conversation_id":"conv-1"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message","answer":"好","conversation_id":"conv-1"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message_end","conversation_id":"conv-1"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message","answer":"ignored"}`+"\n\n")
	}))
	defer srv.Close()

	d := NewDifyClient(config.DifyConfig{APIURL: srv.URL, APIKey: "dify-key"})
	answer, convID := d.CollectAnswer(context.Background(), "hi", "user-a", "")
	if answer != "你好" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if convID != "conv-1" {
		t.Fatalf("unexpected conversation id %q", convID)
	}
}
