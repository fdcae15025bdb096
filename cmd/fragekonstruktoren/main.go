package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fragekonstruktoren/internal/handler"
	appI18n "fragekonstruktoren/internal/i18n"
	"fragekonstruktoren/internal/llm"
	"fragekonstruktoren/internal/model"
	"fragekonstruktoren/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fragekonstruktoren",
		Short: "Generate learning objectives and MCQs from a fact base",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `fragekonstruktoren --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "Server-wide API key (optional; users can enter their own)")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.StringP("lang", "l", "sv", "UI language (sv, en)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /sv)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Int64("max-upload-bytes", 32<<20, "Maximum upload size in bytes")
	f.Duration("session-ttl", 24*time.Hour, "Idle time before a session is evicted")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("FRAGEKONSTRUKTOREN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("fragekonstruktoren")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/fragekonstruktoren")
	v.AddConfigPath("/etc/fragekonstruktoren")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.AppConfig{
		LLMBaseURL:     v.GetString("llm-url"),
		LLMModel:       v.GetString("llm-model"),
		DefaultAPIKey:  v.GetString("llm-key"),
		BasePath:       basePath,
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),
	}

	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMModel)
	sessions := session.NewManager(v.GetDuration("session-ttl"))

	h, err := handler.New(sessions, llmClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	// Evict idle sessions in the background.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessions.CleanupExpired(); n > 0 {
				slog.Info("evicted idle sessions", "count", n)
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
	}))
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", cfg.LLMModel,
		"llm_url", cfg.LLMBaseURL,
		"lang", lang,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}
