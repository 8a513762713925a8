package server

import (
	"context"
	"time"

	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/wechat"
)

const (
	pushTimeoutResult = "处理超时，请稍后重试"
	pushMissingResult = "抱歉，无法获取处理结果"
)

// Variables only so tests can compress the clock.
var (
	// pushWaitTimeout bounds how long the pusher waits for the AI result
	// after the synchronous channel has given up.
	pushWaitTimeout = 300 * time.Second
	// retrySettleTimeout bounds the wait for the final redelivery to
	// resolve, so the pusher does not race a synchronous reply.
	retrySettleTimeout = 20 * time.Second
)

// waitAndPush delivers the AI result over the customer-service API once
// the webhook exchange is out of budget. It defers to any retry attempt
// that managed to answer synchronously.
func (h *Handler) waitAndPush(id string, msg *wechat.Message) {
	ctx := context.Background()

	completed := h.tracker.WaitCompletion(ctx, id, pushWaitTimeout)

	if h.sender == nil {
		logger.ErrorC("pusher", "No API client configured, dropping push")
		return
	}
	h.sender.SendTypingStatus(ctx, msg.FromUserName, wechat.TypingOff)

	if !completed {
		logger.WarnCF("pusher", "AI task never finished, giving up", map[string]any{
			"message_id": id,
		})
		h.tracker.SetResult(id, pushTimeoutResult, "处理超时")
		return
	}

	// the final redelivery may still be streaming the answer back; let it
	// settle before deciding who delivers
	if !h.tracker.WaitRetryDone(ctx, id, retrySettleTimeout) {
		logger.WarnCF("pusher", "Retry flow did not settle in time", map[string]any{
			"message_id": id,
		})
	}

	st, ok := h.tracker.Get(id)
	if !ok || st.SkipCustom {
		return
	}

	if !h.tracker.MarkResultReturned(id) {
		return
	}

	content := st.Result
	if content == "" {
		content = pushMissingResult
	}

	if err := h.sender.SendText(ctx, msg.FromUserName, content); err != nil {
		logger.ErrorCF("pusher", "Failed to send customer-service message", map[string]any{
			"message_id": id,
			"error":      err.Error(),
		})
		return
	}

	logger.InfoCF("pusher", "Delivered result via customer-service message", map[string]any{
		"message_id": id,
		"to":         msg.FromUserName,
	})
}
