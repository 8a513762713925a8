package mcpserver

import (
	"context"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/store"
	"github.com/oabridge/oabridge/pkg/wechat"
)

// serverName is what MCP clients see during initialize.
const serverName = "wechat-official-account-mcp"

// Server exposes the Official Account REST surface as MCP tools over
// stdio. Credentials come from the store, so the wechat_auth tool must be
// used once before any API-backed tool works.
type Server struct {
	store   *store.Store
	version string

	mu     sync.Mutex
	client *wechat.Client
}

func New(st *store.Store, version string) *Server {
	return &Server{store: st, version: version}
}

// Run serves MCP over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: s.version}, nil)
	s.register(srv)

	logger.InfoCF("mcp", "MCP server listening on stdio", map[string]any{
		"name":    serverName,
		"version": s.version,
	})
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_auth",
		Description: "管理微信公众号认证配置和 Access Token",
	}, s.handleAuth)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_media_upload",
		Description: "上传和管理微信公众号临时素材（图片、语音、视频、缩略图）",
	}, s.handleTempMedia)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_upload_img",
		Description: "上传图文消息内所需的图片，不占用素材库限制（仅支持jpg/png格式，大小必须在1MB以下）",
	}, s.handleUploadImg)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_permanent_media",
		Description: "管理微信公众号永久素材（添加、获取、列表、删除、统计）",
	}, s.handlePermanentMedia)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_draft",
		Description: "管理微信公众号图文草稿",
	}, s.handleDraft)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wechat_publish",
		Description: "管理微信公众号文章发布",
	}, s.handlePublish)
}

// apiClient builds a REST client from stored credentials, caching it
// until the configuration changes.
func (s *Server) apiClient() (*wechat.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	acct, err := s.store.DefaultAccount()
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errors.New("尚未配置微信公众号信息，请先使用 wechat_auth 的 configure 操作进行配置")
	}

	s.client = wechat.NewClient(acct.AppID, acct.AppSecret, wechat.WithTokenStore(s.store))
	return s.client, nil
}

// resetClient drops the cached client so the next call picks up new
// credentials.
func (s *Server) resetClient() {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
}
