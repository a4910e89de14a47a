// Command domselect is the element-selection agent daemon.
//
// Usage:
//
//	domselect -config domselect.yaml        # full configuration
//	domselect -url https://example.com \
//	          -origins https://host.app     # quick single-page session
//	domselect -url ... -origins ... -mcp    # also serve MCP tools on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/quillon/domselect"
)

func main() {
	configPath := flag.String("config", "", "path to domselect.yaml config file")
	pageURL := flag.String("url", "", "page to attach to")
	origins := flag.String("origins", "", "comma-separated host origin allow-list")
	addr := flag.String("addr", "", "control-plane listen address (overrides config)")
	storePath := flag.String("store", "", "SQLite file for selection persistence (overrides config)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *origins, *addr, *storePath, *serveMCP); err != nil {
		logger.Error("domselect: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, origins, addr, storePath string, serveMCP bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if origins != "" {
		cfg.Channel.AllowedOrigins = splitOrigins(origins)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	if cfg.Page.URL == "" {
		fmt.Fprintln(os.Stderr, "usage: domselect -config <file> | -url <url> -origins <origin,...>")
		os.Exit(1)
	}
	if len(cfg.Channel.AllowedOrigins) == 0 {
		return fmt.Errorf("no allowed origins configured; refusing to accept host connections")
	}

	agent := domselect.New(cfg, logger)
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer agent.Stop()

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "domselect",
			Version: "1.0.0",
		}, nil)
		agent.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("domselect: mcp server", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

func loadConfig(path string) (*domselect.Config, error) {
	if path == "" {
		return domselect.DefaultConfig()
	}
	cfg, err := domselect.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
