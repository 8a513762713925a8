package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oabridge/oabridge/pkg/ai"
	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
)

//go:embed templates/chat.html
var templatesFS embed.FS

// Pages serves the hosted static pages, the chat page, and the admin
// config API.
type Pages struct {
	cfg      *config.Config
	aiClient *ai.Client
}

func NewPages(cfg *config.Config, aiClient *ai.Client) *Pages {
	return &Pages{cfg: cfg, aiClient: aiClient}
}

func (p *Pages) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", p.serveIndex)
	mux.HandleFunc("GET /pages/", p.servePage)
	mux.HandleFunc("GET /chat/", p.serveChat)
	mux.HandleFunc("POST /api/chat", p.serveChatAPI)
	mux.HandleFunc("GET /api/config", p.serveConfigGet)
	mux.HandleFunc("POST /api/config", p.serveConfigPost)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (p *Pages) pagesDir() string {
	snap := p.cfg.Snapshot()
	if snap.Server.PagesDir != "" {
		return snap.Server.PagesDir
	}
	return "pages"
}

// serveIndex lists the hosted pages.
func (p *Pages) serveIndex(w http.ResponseWriter, r *http.Request) {
	dir := p.pagesDir()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".html") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>静态页面</title></head><body>")
	b.WriteString("<h1>静态页面</h1><ul>")
	for _, name := range names {
		escaped := html.EscapeString(name)
		fmt.Fprintf(&b, `<li><a href="/pages/%s">%s</a></li>`, escaped, escaped)
	}
	if len(names) == 0 {
		b.WriteString("<li>暂无页面</li>")
	}
	b.WriteString(`</ul><p><a href="/chat/">AI 对话</a></p></body></html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}

// servePage serves a single hosted HTML file, refusing path traversal.
func (p *Pages) servePage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/pages/")
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(p.pagesDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (p *Pages) serveChat(w http.ResponseWriter, r *http.Request) {
	data, err := templatesFS.ReadFile("templates/chat.html")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// serveChatAPI answers the chat page with a blocking completion under the
// page timeout.
func (p *Pages) serveChatAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string       `json:"message"`
		History []ai.Message `json:"history"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "消息不能为空"})
		return
	}

	snap := p.cfg.Snapshot()
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(snap.OpenAI.TimeoutSeconds)*time.Second)
	defer cancel()

	reply := p.aiClient.SimpleChat(ctx, req.Message, req.History)
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// serveConfigGet reports the AI configuration with the key masked.
func (p *Pages) serveConfigGet(w http.ResponseWriter, r *http.Request) {
	snap := p.cfg.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"api_url":            snap.OpenAI.APIURL,
		"api_key_configured": snap.OpenAI.APIKey != "",
		"model":              snap.OpenAI.Model,
		"system_prompt":      snap.OpenAI.Prompt,
		"max_tokens":         snap.OpenAI.MaxTokens,
		"temperature":        snap.OpenAI.Temperature,
		"timeout_seconds":    snap.OpenAI.TimeoutSeconds,
		"is_configured":      snap.OpenAI.APIURL != "" && snap.OpenAI.APIKey != "",
	})
}

// serveConfigPost updates the AI configuration and propagates it to the
// live client.
func (p *Pages) serveConfigPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIURL      string  `json:"api_url"`
		APIKey      string  `json:"api_key"`
		Model       string  `json:"model"`
		Prompt      string  `json:"system_prompt"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Timeout     int     `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "请求格式错误"})
		return
	}
	if req.APIURL == "" || req.Model == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "api_url 和 model 不能为空"})
		return
	}

	snap := p.cfg.Snapshot()
	oc := snap.OpenAI
	oc.APIURL = req.APIURL
	oc.Model = req.Model
	oc.Prompt = req.Prompt
	if req.APIKey != "" {
		oc.APIKey = req.APIKey
	}
	if req.MaxTokens > 0 {
		oc.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		oc.Temperature = req.Temperature
	}
	if req.Timeout > 0 {
		oc.TimeoutSeconds = req.Timeout
	}

	if err := p.cfg.UpdateOpenAI(oc); err != nil {
		logger.ErrorCF("pages", "Failed to persist AI config", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "保存配置失败"})
		return
	}
	p.aiClient.UpdateConfig(oc)

	logger.InfoCF("pages", "AI configuration updated", map[string]any{"model": oc.Model})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
