package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oabridge/oabridge/pkg/ai"
	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/tracker"
	"github.com/oabridge/oabridge/pkg/wechat"
)

// clearHistoryCommand resets the user's conversation instead of being
// answered.
const clearHistoryCommand = "/clear"

const (
	emptyResultReply   = "抱歉，处理结果为空"
	waitExhaustedReply = "处理时间较长，请稍后重新询问"
)

// handlerTimeout is WeChat's hard budget for a webhook response. The
// platform retries twice after it expires, which is the raw material the
// whole bridging flow is built from. Variable only so tests can compress
// the clock.
var handlerTimeout = config.DefaultHandlerTimeoutSeconds * time.Second

// Handler implements the webhook endpoint: signature handshake on GET,
// the timeout/retry bridging state machine on POST.
type Handler struct {
	cfg        *config.Config
	tracker    *tracker.StatusTracker
	waiting    *tracker.WaitingManager
	dispatcher *Dispatcher
	responder  ai.Responder
	sender     *wechat.Client
}

func NewHandler(cfg *config.Config, st *tracker.StatusTracker, wm *tracker.WaitingManager, dispatcher *Dispatcher, responder ai.Responder, sender *wechat.Client) *Handler {
	return &Handler{
		cfg:        cfg,
		tracker:    st,
		waiting:    wm,
		dispatcher: dispatcher,
		responder:  responder,
		sender:     sender,
	}
}

// ServeVerify answers WeChat's GET handshake: echo back echostr when the
// signature checks out.
func (h *Handler) ServeVerify(w http.ResponseWriter, r *http.Request) {
	snap := h.cfg.Snapshot()
	if snap.WeChat.Token == "" {
		http.Error(w, "未配置 token", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	crypto, err := wechat.NewCrypto(snap.WeChat.Token, "", snap.WeChat.AppID)
	if err != nil {
		http.Error(w, "配置错误", http.StatusInternalServerError)
		return
	}

	if crypto.VerifyURLSignature(q.Get("signature"), q.Get("timestamp"), q.Get("nonce")) {
		logger.InfoC("webhook", "Server verification passed")
		w.Write([]byte(q.Get("echostr")))
		return
	}

	logger.WarnC("webhook", "Server verification failed")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte("验证失败"))
}

// ServeMessage is the POST entry point. Whatever goes wrong past
// decryption, the response is an empty 200: a 5xx here would make WeChat
// redeliver a message we cannot even parse.
func (h *Handler) ServeMessage(w http.ResponseWriter, r *http.Request) {
	// a dropped connection would make WeChat redeliver, so even a panic
	// must come back as an empty 200
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("webhook", "Request handling panicked", map[string]any{
				"panic": fmt.Sprintf("%v", rec),
			})
			w.WriteHeader(http.StatusOK)
		}
	}()

	snap := h.cfg.Snapshot()
	if snap.WeChat.AppID == "" || snap.WeChat.Token == "" {
		http.Error(w, "未配置", http.StatusInternalServerError)
		return
	}

	crypto, err := wechat.NewCrypto(snap.WeChat.Token, snap.WeChat.EncodingAESKey, snap.WeChat.AppID)
	if err != nil {
		logger.ErrorCF("webhook", "Invalid crypto configuration", map[string]any{"error": err.Error()})
		http.Error(w, "配置错误", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	q := r.URL.Query()
	timestamp, nonce := q.Get("timestamp"), q.Get("nonce")

	plain, err := crypto.DecryptEnvelope(body, q.Get("msg_signature"), timestamp, nonce)
	if err != nil {
		logger.ErrorCF("webhook", "Failed to decrypt message", map[string]any{"error": err.Error()})
		http.Error(w, "解密失败", http.StatusBadRequest)
		return
	}

	msg, err := wechat.ParseMessage([]byte(plain))
	if err != nil {
		logger.ErrorCF("webhook", "Failed to parse message", map[string]any{"error": err.Error()})
		w.WriteHeader(http.StatusOK)
		return
	}

	if msg.Content == clearHistoryCommand {
		h.responder.ClearHistory(msg.FromUserName)
		h.replyText(w, crypto, msg, "历史记录已清除", timestamp, nonce)
		return
	}

	id := msg.TrackingID()
	if id == "" {
		// untrackable messages still flow through the machine, they just
		// can never match a redelivery
		id = uuid.NewString()
	}

	st := h.tracker.Track(id, msg.FromUserName, msg.Content, msg.CreateTime)
	retryWait := time.Duration(float64(handlerTimeout) * snap.WeChat.RetryWaitTimeoutRatio)

	if msg.Content == "1" && !snap.WeChat.EnableCustomMessage && h.waiting.IsWaiting(msg.FromUserName) {
		h.handleContinueWaiting(w, r, crypto, msg, &snap, st.RetryCount, retryWait)
		return
	}

	if st.RetryCount > 0 {
		logger.InfoCF("webhook", "WeChat redelivery", map[string]any{
			"message_id":  id,
			"retry_count": st.RetryCount,
		})
		h.handleRetry(w, r, crypto, msg, &snap, id, st.RetryCount, retryWait)
		return
	}

	h.handleFirst(w, r, crypto, msg, &snap, id)
}

// handleFirst runs the first delivery: start the AI task, wait out the
// 5 second budget, and either answer inline or provoke a retry with a 500.
func (h *Handler) handleFirst(w http.ResponseWriter, r *http.Request, crypto *wechat.Crypto, msg *wechat.Message, snap *config.Snapshot, id string) {
	q := r.URL.Query()
	timestamp, nonce := q.Get("timestamp"), q.Get("nonce")

	if snap.WeChat.EnableCustomMessage && h.sender != nil {
		if err := h.sender.SendTypingStatus(r.Context(), msg.FromUserName, wechat.TypingOn); err != nil {
			logger.WarnCF("webhook", "Failed to set typing status", map[string]any{"error": err.Error()})
		}
	}

	go h.processAsync(id, msg)

	if h.tracker.WaitCompletion(r.Context(), id, handlerTimeout) {
		if snap.WeChat.EnableCustomMessage && h.sender != nil {
			h.sender.SendTypingStatus(r.Context(), msg.FromUserName, wechat.TypingOff)
		}

		st, _ := h.tracker.Get(id)
		content := st.Result
		if content == "" {
			content = emptyResultReply
		}
		h.tracker.MarkResultReturned(id)
		h.replyText(w, crypto, msg, content, timestamp, nonce)
		return
	}

	logger.InfoCF("webhook", "Processing exceeded budget, engaging retries", map[string]any{
		"message_id": id,
	})

	if snap.WeChat.EnableCustomMessage && h.sender != nil {
		go h.waitAndPush(id, msg)
	}

	// the 500 is deliberate: it makes WeChat redeliver, buying another
	// window to return the result synchronously
	w.WriteHeader(http.StatusInternalServerError)
}

// handleRetry runs a WeChat redelivery: wait a fraction of the budget for
// the in-flight task, then answer, provoke another retry, or hand off to
// the push/waiting fallback on the final attempt.
func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request, crypto *wechat.Crypto, msg *wechat.Message, snap *config.Snapshot, id string, retryCount int, retryWait time.Duration) {
	q := r.URL.Query()
	timestamp, nonce := q.Get("timestamp"), q.Get("nonce")

	completed := h.tracker.WaitCompletion(r.Context(), id, retryWait)
	st, _ := h.tracker.Get(id)

	if completed || st.Completed {
		content := st.Result
		if content == "" {
			content = emptyResultReply
		}

		if !h.tracker.MarkResultReturned(id) {
			// another attempt already answered; stay silent so the user
			// sees the result exactly once
			w.WriteHeader(http.StatusOK)
			return
		}

		h.tracker.SetSkipCustom(id)
		h.tracker.SignalRetryDone(id)
		h.replyText(w, crypto, msg, content, timestamp, nonce)
		return
	}

	if retryCount < 2 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// final attempt, no result: the synchronous channel is exhausted
	if snap.WeChat.EnableCustomMessage {
		logger.InfoC("webhook", "Falling back to customer-service push")
		h.tracker.SignalRetryDone(id)
		h.replyText(w, crypto, msg, snap.WeChat.TimeoutMessage, timestamp, nonce)
		return
	}

	logger.InfoC("webhook", "Falling back to interactive waiting")
	h.waiting.SetWaiting(msg.FromUserName, id, msg.Content)
	h.replyText(w, crypto, msg, snap.WeChat.ContinueWaitingMessage, timestamp, nonce)
}

// handleContinueWaiting serves a "1" sent by a parked user: deliver the
// original answer if it arrived, otherwise spend one continuation from the
// budget.
func (h *Handler) handleContinueWaiting(w http.ResponseWriter, r *http.Request, crypto *wechat.Crypto, msg *wechat.Message, snap *config.Snapshot, retryCount int, retryWait time.Duration) {
	q := r.URL.Query()
	timestamp, nonce := q.Get("timestamp"), q.Get("nonce")

	info, ok := h.waiting.Info(msg.FromUserName)
	if !ok {
		logger.WarnC("webhook", "Continue request without waiting state")
		h.waiting.ClearWaiting(msg.FromUserName)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	origID := info.MessageID

	if st, tracked := h.tracker.Get(origID); tracked && st.Completed {
		h.waiting.ClearWaiting(msg.FromUserName)
		if !h.tracker.MarkResultReturned(origID) {
			w.WriteHeader(http.StatusOK)
			return
		}
		content := st.Result
		if content == "" {
			content = emptyResultReply
		}
		h.replyText(w, crypto, msg, content, timestamp, nonce)
		return
	}

	if h.tracker.WaitCompletion(r.Context(), origID, retryWait) {
		logger.InfoC("webhook", "Original task finished during continue wait")
		h.waiting.ClearWaiting(msg.FromUserName)
		if !h.tracker.MarkResultReturned(origID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		st, _ := h.tracker.Get(origID)
		content := st.Result
		if content == "" {
			content = emptyResultReply
		}
		h.replyText(w, crypto, msg, content, timestamp, nonce)
		return
	}

	if retryCount < 2 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	updated, ok := h.waiting.HandleContinue(msg.FromUserName)
	if !ok {
		h.replyText(w, crypto, msg, waitExhaustedReply, timestamp, nonce)
		return
	}

	if updated.ContinueCount >= snap.WeChat.MaxContinueCount {
		logger.InfoCF("webhook", "Continue budget exhausted", map[string]any{
			"from": msg.FromUserName,
		})
		h.waiting.ClearWaiting(msg.FromUserName)
		h.replyText(w, crypto, msg, waitExhaustedReply, timestamp, nonce)
		return
	}

	remaining := snap.WeChat.MaxContinueCount - updated.ContinueCount
	var content string
	if remaining > 0 {
		content = fmt.Sprintf("%s (剩余%d次机会)", snap.WeChat.ContinueWaitingMessage, remaining)
	} else {
		content = fmt.Sprintf("%s (最后1次机会)", snap.WeChat.ContinueWaitingMessage)
	}

	h.waiting.Extend(msg.FromUserName)
	h.replyText(w, crypto, msg, content, timestamp, nonce)
}

// processAsync runs the AI task off the request goroutine and parks the
// outcome in the tracker for whichever delivery attempt gets to return it.
func (h *Handler) processAsync(id string, msg *wechat.Message) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			errMsg := fmt.Sprintf("%v", rec)
			h.tracker.SetResult(id, "处理失败: "+errMsg, errMsg)
			logger.ErrorCF("webhook", "Message processing panicked", map[string]any{
				"message_id": id,
				"panic":      errMsg,
			})
		}
	}()

	snap := h.cfg.Snapshot()
	aiTimeout := time.Duration(snap.WeChat.AITimeoutSeconds) * time.Second
	if aiTimeout <= 0 {
		aiTimeout = config.DefaultAITimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), aiTimeout)
	defer cancel()

	result := h.dispatcher.Process(ctx, msg)
	h.tracker.SetResult(id, result, "")

	logger.InfoCF("webhook", "Message processing finished", map[string]any{
		"message_id": id,
		"elapsed":    time.Since(start).String(),
	})
}

// replyText writes a passive XML reply, encrypting it when the account
// runs in encrypted mode. An empty content degrades to the bare "success"
// acknowledgement, which tells WeChat there is nothing to say.
func (h *Handler) replyText(w http.ResponseWriter, crypto *wechat.Crypto, msg *wechat.Message, content, timestamp, nonce string) {
	if content == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("success"))
		return
	}

	replyXML, err := wechat.BuildTextReply(msg, content, time.Now().Unix())
	if err != nil {
		logger.ErrorCF("webhook", "Failed to build reply", map[string]any{"error": err.Error()})
		w.WriteHeader(http.StatusOK)
		return
	}

	out, err := crypto.EncryptEnvelope(replyXML, timestamp, nonce)
	if err != nil {
		logger.ErrorCF("webhook", "Failed to encrypt reply", map[string]any{"error": err.Error()})
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(out))
}
