package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oabridge/oabridge/pkg/ai"
	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/tracker"
	"github.com/oabridge/oabridge/pkg/wechat"
)

// Server hosts the WeChat webhook, the static pages, and the admin API on
// one listener.
type Server struct {
	cfg     *config.Config
	handler *Handler
	pages   *Pages
	tracker *tracker.StatusTracker
	waiting *tracker.WaitingManager

	httpServer *http.Server
	listener   net.Listener
}

// Options carries the collaborators the server does not build itself.
type Options struct {
	Config    *config.Config
	AIClient  *ai.Client
	Responder ai.Responder
	APISender *wechat.Client
}

func New(opts Options) *Server {
	st := tracker.NewStatusTracker()
	wm := tracker.NewWaitingManager()
	dispatcher := NewDispatcher(opts.Responder)

	return &Server{
		cfg:     opts.Config,
		tracker: st,
		waiting: wm,
		handler: NewHandler(opts.Config, st, wm, dispatcher, opts.Responder, opts.APISender),
		pages:   NewPages(opts.Config, opts.AIClient),
	}
}

func (s *Server) Start(ctx context.Context) error {
	snap := s.cfg.Snapshot()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /wechat", s.handler.ServeVerify)
	mux.HandleFunc("POST /wechat", s.handler.ServeMessage)
	mux.HandleFunc("GET /health", s.serveHealth)
	s.pages.Register(mux)

	addr := fmt.Sprintf("%s:%d", snap.Server.Host, snap.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	useTLS := snap.Server.SSLCert != "" && snap.Server.SSLKey != ""

	go func() {
		var serveErr error
		if useTLS {
			serveErr = s.httpServer.ServeTLS(listener, snap.Server.SSLCert, snap.Server.SSLKey)
		} else {
			serveErr = s.httpServer.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.ErrorCF("server", "HTTP server error", map[string]any{
				"error": serveErr.Error(),
			})
		}
	}()

	logger.InfoCF("server", "Server started", map[string]any{
		"addr": addr,
		"tls":  useTLS,
	})
	return nil
}

func (s *Server) Stop() error {
	s.tracker.Close()
	s.waiting.Close()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.WarnCF("server", "Graceful shutdown failed", map[string]any{
			"error": err.Error(),
		})
		return s.httpServer.Close()
	}

	logger.InfoC("server", "Server stopped")
	return nil
}

// Addr returns the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"time":              time.Now().Format(time.RFC3339),
		"wechat_configured": snap.WeChat.AppID != "" && snap.WeChat.Token != "",
		"ai_configured":     snap.OpenAI.APIURL != "" && snap.OpenAI.APIKey != "",
		"token_cached":      s.handler.sender != nil && s.handler.sender.HasCachedToken(),
	})
}
