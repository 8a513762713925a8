package config

const (
	// DefaultHandlerTimeoutSeconds is WeChat's documented response budget
	// for a callback. Not configurable: the platform fixes it.
	DefaultHandlerTimeoutSeconds = 5

	// DefaultAITimeoutSeconds bounds the background AI call behind a
	// webhook message when WECHAT_MSG_AI_TIMEOUT is unset.
	DefaultAITimeoutSeconds = 15

	defaultTimeoutMessage         = "内容生成耗时较长，请稍等..."
	defaultContinueWaitingMessage = "生成答复中，继续等待请回复1"
	defaultMaxContinueCount       = 2
	defaultRetryWaitTimeoutRatio  = 0.7
	defaultAILengthLimit          = 600
	defaultAITimeoutPrompt        = "（回答未完成，回复1继续等待）"

	defaultAPIBaseURL = "api.weixin.qq.com"

	defaultOpenAIMaxTokens      = 4096
	defaultOpenAITemperature    = 0.8
	defaultOpenAITimeoutSeconds = 300

	defaultServerHost = "0.0.0.0"
	defaultServerPort = 8000

	defaultDBPath = "data/wechat_mcp.db"
)

func (c *Config) applyDefaults() {
	if c.WeChat.APIBaseURL == "" {
		c.WeChat.APIBaseURL = defaultAPIBaseURL
	}
	if c.WeChat.TimeoutMessage == "" {
		c.WeChat.TimeoutMessage = defaultTimeoutMessage
	}
	if c.WeChat.ContinueWaitingMessage == "" {
		c.WeChat.ContinueWaitingMessage = defaultContinueWaitingMessage
	}
	if c.WeChat.MaxContinueCount <= 0 {
		c.WeChat.MaxContinueCount = defaultMaxContinueCount
	}
	if c.WeChat.RetryWaitTimeoutRatio <= 0 {
		c.WeChat.RetryWaitTimeoutRatio = defaultRetryWaitTimeoutRatio
	}
	// The ratio scales the in-retry wait against the fixed 5s budget; out of
	// range values would either spin or overrun the budget.
	if c.WeChat.RetryWaitTimeoutRatio < 0.1 {
		c.WeChat.RetryWaitTimeoutRatio = 0.1
	}
	if c.WeChat.RetryWaitTimeoutRatio > 1.0 {
		c.WeChat.RetryWaitTimeoutRatio = 1.0
	}
	if c.WeChat.AITimeoutSeconds <= 0 {
		c.WeChat.AITimeoutSeconds = DefaultAITimeoutSeconds
	}
	if c.WeChat.AILengthLimit <= 0 {
		c.WeChat.AILengthLimit = defaultAILengthLimit
	}
	if c.WeChat.AITimeoutPrompt == "" {
		c.WeChat.AITimeoutPrompt = defaultAITimeoutPrompt
	}

	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = defaultOpenAIMaxTokens
	}
	if c.OpenAI.Temperature <= 0 {
		c.OpenAI.Temperature = defaultOpenAITemperature
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = defaultOpenAITimeoutSeconds
	}
	if c.OpenAI.InteractionMode != "stream" && c.OpenAI.InteractionMode != "block" {
		c.OpenAI.InteractionMode = "stream"
	}

	if c.Server.Host == "" {
		c.Server.Host = defaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}

	if c.Store.DBPath == "" {
		c.Store.DBPath = defaultDBPath
	}
}
