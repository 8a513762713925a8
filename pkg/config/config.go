package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// WeChatConfig carries the Official Account credentials and the knobs of the
// webhook retry-bridging flow. Env names match the original deployment
// surface so existing .env files keep working.
type WeChatConfig struct {
	AppID          string `json:"app_id" env:"WECHAT_APP_ID"`
	AppSecret      string `json:"app_secret" env:"WECHAT_APP_SECRET"`
	Token          string `json:"token" env:"WECHAT_TOKEN"`
	EncodingAESKey string `json:"encoding_aes_key" env:"WECHAT_ENCODING_AES_KEY"`

	// APIBaseURL is the WeChat API host, without scheme. A reverse proxy
	// host can be substituted for deployments outside mainland China.
	APIBaseURL string `json:"api_base_url" env:"WECHAT_API_PROXY_URL"`

	EnableCustomMessage    bool    `json:"enable_custom_message" env:"WECHAT_ENABLE_CUSTOM_MESSAGE"`
	TimeoutMessage         string  `json:"timeout_message" env:"WECHAT_TIMEOUT_MESSAGE"`
	ContinueWaitingMessage string  `json:"continue_waiting_message" env:"WECHAT_CONTINUE_WAITING_MESSAGE"`
	MaxContinueCount       int     `json:"max_continue_count" env:"WECHAT_MAX_CONTINUE_COUNT"`
	RetryWaitTimeoutRatio  float64 `json:"retry_wait_timeout_ratio" env:"WECHAT_RETRY_WAIT_TIMEOUT_RATIO"`

	// AITimeoutSeconds bounds the AI call behind a webhook message. The call
	// runs in the background, so this outlives the 5 second callback budget;
	// in streaming mode a deadline here still yields a partial answer.
	AITimeoutSeconds int `json:"ai_timeout_seconds" env:"WECHAT_MSG_AI_TIMEOUT"`
	AILengthLimit    int `json:"ai_length_limit" env:"WECHAT_MSG_AI_LEN_LIMIT"`
	// AITimeoutPrompt is appended to truncated or timed-out replies.
	AITimeoutPrompt string `json:"ai_timeout_prompt" env:"WECHAT_MSG_AI_TIMEOUT_PROMPT"`
}

// OpenAIConfig configures the upstream OpenAI-compatible completion endpoint.
type OpenAIConfig struct {
	APIURL      string  `json:"api_url" env:"OPENAI_API_URL"`
	APIKey      string  `json:"api_key" env:"OPENAI_API_KEY"`
	Model       string  `json:"model" env:"OPENAI_MODEL"`
	Prompt      string  `json:"prompt" env:"OPENAI_PROMPT"`
	MaxTokens   int     `json:"max_tokens" env:"OPENAI_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"OPENAI_TEMPERATURE"`

	// TimeoutSeconds is the ceiling for "page" (direct API) callers; webhook
	// callers use the much shorter WeChat budget instead.
	TimeoutSeconds int `json:"timeout_seconds" env:"OPENAI_TIMEOUT"`

	// InteractionMode is "stream" or "block". Streaming keeps partial
	// content when the call is cut off by a timeout.
	InteractionMode string `json:"interaction_mode" env:"OPENAI_INTERACTION_MODE"`
}

// DifyConfig selects Dify as the upstream instead of an OpenAI-compatible
// endpoint when Enabled is set.
type DifyConfig struct {
	Enabled bool   `json:"enabled" env:"DIFY_ENABLED"`
	APIURL  string `json:"api_url" env:"DIFY_API_URL"`
	APIKey  string `json:"api_key" env:"DIFY_API_KEY"`
	AppID   string `json:"app_id" env:"DIFY_APP_ID"`
}

type ServerConfig struct {
	Host     string `json:"host" env:"WECHAT_SERVER_HOST"`
	Port     int    `json:"port" env:"WECHAT_SERVER_PORT"`
	SSLCert  string `json:"ssl_cert" env:"WECHAT_SSL_CERT"`
	SSLKey   string `json:"ssl_key" env:"WECHAT_SSL_KEY"`
	PagesDir string `json:"pages_dir" env:"WECHAT_PAGES_DIR"`
}

type StoreConfig struct {
	DBPath string `json:"db_path" env:"WECHAT_DB_PATH"`
}

type LogConfig struct {
	Level string `json:"level" env:"LOG_LEVEL"`
	File  string `json:"file" env:"LOG_FILE"`
}

type Config struct {
	WeChat WeChatConfig `json:"wechat"`
	OpenAI OpenAIConfig `json:"openai"`
	Dify   DifyConfig   `json:"dify"`
	Server ServerConfig `json:"server"`
	Store  StoreConfig  `json:"store"`
	Log    LogConfig    `json:"log"`

	path string
	mu   sync.RWMutex
}

// Snapshot is a race-free value copy of the public config sections. Request
// handlers take one snapshot per request so that a concurrent Reload cannot
// change prompts or timeouts mid-flight.
type Snapshot struct {
	WeChat WeChatConfig
	OpenAI OpenAIConfig
	Dify   DifyConfig
	Server ServerConfig
	Store  StoreConfig
	Log    LogConfig
}

// Load reads the JSON config file at path (if it exists), overlays
// environment variables, and applies defaults. A missing file is not an
// error; env-only deployments are the common case.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Reload re-reads the config file and environment in place.
func (c *Config) Reload() error {
	fresh, err := Load(c.path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.WeChat = fresh.WeChat
	c.OpenAI = fresh.OpenAI
	c.Dify = fresh.Dify
	c.Server = fresh.Server
	c.Store = fresh.Store
	c.Log = fresh.Log
	return nil
}

func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		WeChat: c.WeChat,
		OpenAI: c.OpenAI,
		Dify:   c.Dify,
		Server: c.Server,
		Store:  c.Store,
		Log:    c.Log,
	}
}

// UpdateOpenAI replaces the OpenAI section at runtime (admin API) and
// persists the whole config when a file path is configured.
func (c *Config) UpdateOpenAI(oc OpenAIConfig) error {
	c.mu.Lock()
	c.OpenAI = oc
	c.mu.Unlock()
	return c.Save()
}

// Save writes the current config back to its JSON file. A config loaded
// without a file path is env-only and Save is a no-op.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return nil
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MissingRequired reports which of the credentials the webhook server cannot
// run without are unset.
func (c *Config) MissingRequired() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	if c.WeChat.AppID == "" {
		missing = append(missing, "WECHAT_APP_ID")
	}
	if c.WeChat.AppSecret == "" {
		missing = append(missing, "WECHAT_APP_SECRET")
	}
	if c.WeChat.Token == "" {
		missing = append(missing, "WECHAT_TOKEN")
	}
	return missing
}
