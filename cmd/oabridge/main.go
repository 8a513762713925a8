package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oabridge/oabridge/pkg/ai"
	"github.com/oabridge/oabridge/pkg/config"
	"github.com/oabridge/oabridge/pkg/logger"
	"github.com/oabridge/oabridge/pkg/mcpserver"
	"github.com/oabridge/oabridge/pkg/server"
	"github.com/oabridge/oabridge/pkg/store"
	"github.com/oabridge/oabridge/pkg/wechat"
)

// Set via -ldflags at release time.
var (
	version   = "dev"
	gitCommit string
	buildTime string
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "oabridge",
		Short:        "WeChat Official Account bridge: webhook server, AI replies and MCP tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"path to the JSON config file (missing file is fine, env vars still apply)")

	root.AddCommand(newServeCmd(), newMCPCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".oabridge", "config.json")
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	snap := cfg.Snapshot()
	logger.SetLevel(logger.ParseLevel(snap.Log.Level))
	if snap.Log.File != "" {
		if err := logger.EnableFileLogging(snap.Log.File); err != nil {
			logger.WarnCF("main", "Failed to enable file logging", map[string]any{
				"file":  snap.Log.File,
				"error": err.Error(),
			})
		}
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and pages server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if missing := cfg.MissingRequired(); len(missing) > 0 {
				return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
			}

			snap := cfg.Snapshot()

			st, err := store.Open(snap.Store.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveAccount(store.Account{
				AppID:          snap.WeChat.AppID,
				AppSecret:      snap.WeChat.AppSecret,
				Token:          snap.WeChat.Token,
				EncodingAESKey: snap.WeChat.EncodingAESKey,
			}); err != nil {
				logger.WarnCF("main", "Failed to persist account", map[string]any{
					"error": err.Error(),
				})
			}

			sender := wechat.NewClient(snap.WeChat.AppID, snap.WeChat.AppSecret,
				wechat.WithTokenStore(st),
				wechat.WithBaseHost(snap.WeChat.APIBaseURL))

			aiClient := ai.NewClient(snap.OpenAI)

			var responder ai.Responder
			if snap.Dify.Enabled {
				responder = ai.NewDifyResponder(ai.NewDifyClient(snap.Dify))
				logger.InfoC("main", "Using Dify as the reply upstream")
			} else {
				responder = ai.NewOpenAIResponder(aiClient, snap.OpenAI.InteractionMode,
					snap.WeChat.AILengthLimit, snap.WeChat.AITimeoutPrompt)
			}

			srv := server.New(server.Options{
				Config:    cfg,
				AIClient:  aiClient,
				Responder: responder,
				APISender: sender,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.InfoCF("main", "Server started", map[string]any{
				"addr":    srv.Addr(),
				"version": formatVersion(),
			})

			<-ctx.Done()
			logger.InfoC("main", "Shutting down")
			return srv.Stop()
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP tool server on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			snap := cfg.Snapshot()

			st, err := store.Open(snap.Store.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			// Credentials from the environment seed the store so MCP
			// clients configured with env vars skip the configure step.
			if snap.WeChat.AppID != "" && snap.WeChat.AppSecret != "" {
				err := st.SaveAccount(store.Account{
					AppID:          snap.WeChat.AppID,
					AppSecret:      snap.WeChat.AppSecret,
					Token:          snap.WeChat.Token,
					EncodingAESKey: snap.WeChat.EncodingAESKey,
				})
				if err != nil {
					logger.WarnCF("main", "Failed to seed account from environment", map[string]any{
						"error": err.Error(),
					})
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return mcpserver.New(st, formatVersion()).Run(ctx)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("oabridge %s\n", formatVersion())
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}
