package server

import (
	"context"
	"fmt"

	"github.com/oabridge/oabridge/pkg/ai"
	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/utils"
	"github.com/oabridge/oabridge/pkg/wechat"
)

// Dispatcher routes an inbound message to a reply by type. Text and voice
// go to the AI upstream; the rest get canned acknowledgements. Replies are
// always user-displayable strings.
type Dispatcher struct {
	responder ai.Responder
}

func NewDispatcher(responder ai.Responder) *Dispatcher {
	return &Dispatcher{responder: responder}
}

func (d *Dispatcher) Process(ctx context.Context, msg *wechat.Message) string {
	switch msg.MsgType {
	case "text":
		logger.InfoCF("dispatch", "Processing text message", map[string]any{
			"from":    msg.FromUserName,
			"content": utils.Truncate(msg.Content, 50),
		})
		return d.responder.Reply(ctx, msg.FromUserName, msg.Content)

	case "voice":
		if msg.Recognition != "" {
			// the platform already transcribed it, answer the transcript
			return d.responder.Reply(ctx, msg.FromUserName, msg.Recognition)
		}
		return "收到您的语音消息"

	case "image":
		logger.InfoCF("dispatch", "Received image message", map[string]any{
			"from":     msg.FromUserName,
			"media_id": msg.MediaID,
		})
		return "收到您的图片消息"

	case "link":
		prompt := fmt.Sprintf("收到您分享的链接\n标题: %s\n描述: %s\n链接: %s",
			msg.Title, msg.Description, msg.URL)
		return d.responder.Reply(ctx, msg.FromUserName, prompt)

	case "event":
		return d.processEvent(msg)

	default:
		return fmt.Sprintf("当前不支持处理%s类型的消息", msg.MsgType)
	}
}

func (d *Dispatcher) processEvent(msg *wechat.Message) string {
	switch msg.Event {
	case "subscribe":
		return "欢迎关注！\n\n感谢您关注我们的公众号。\n您可以直接向我发送消息，我会尽快回复您。"
	case "unsubscribe":
		// nothing to say to someone who left
		return ""
	case "CLICK":
		return fmt.Sprintf("收到菜单点击：%s", msg.EventKey)
	default:
		logger.DebugCF("dispatch", "Ignoring event", map[string]any{"event": msg.Event})
		return ""
	}
}
