package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/agenttrace/internal/api"
	"github.com/hazyhaar/agenttrace/internal/audit"
	"github.com/hazyhaar/agenttrace/internal/auth"
	"github.com/hazyhaar/agenttrace/internal/config"
	"github.com/hazyhaar/agenttrace/internal/explain"
	"github.com/hazyhaar/agenttrace/internal/mcp"
	"github.com/hazyhaar/agenttrace/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "demo":
		cmdDemo(os.Args[2:])
	case "hash-password":
		cmdHashPassword(os.Args[2:])
	case "version":
		fmt.Printf("agenttrace %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agenttrace — agent action audit and explainability engine

Usage:
  agenttrace serve [--config config.toml] [--addr :8080]
  agenttrace mcp [--config config.toml]
  agenttrace demo [--config config.toml]
  agenttrace hash-password <password>
  agenttrace version
  agenttrace help

Commands:
  serve          Start the HTTP audit console
  mcp            Serve the audit tools over MCP stdio
  demo           Run a scripted multi-agent task and print its explanation
  hash-password  Print a bcrypt hash for admin_password_hash
  version        Print version
  help           Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	st, auditor := openEngine(cfg)
	defer auditor.Close()

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(st, auditor, a, cfg.Auth.AdminPasswordHash)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	slog.Info("agenttrace listening",
		"version", version,
		"addr", cfg.Server.Addr,
		"database", cfg.Database.Path,
		"audit_level", auditor.Level())

	if err := http.ListenAndServe(cfg.Server.Addr, api.RequestLogger(mux)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// stdout carries the MCP protocol; keep logs on stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	st, auditor := openEngine(cfg)
	defer auditor.Close()

	srv := mcp.NewServer(st, auditor)
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func cmdHashPassword(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: agenttrace hash-password <password>")
		os.Exit(1)
	}
	hash, err := auth.HashPassword(args[0])
	if err != nil {
		log.Fatalf("hashing password: %v", err)
	}
	fmt.Println(hash)
}

// openEngine opens the configured SQLite store and wraps it in an async
// auditor. If the database cannot be opened, the engine degrades to the
// in-memory log store so instrumented work keeps running.
func openEngine(cfg *config.Config) (store.Store, *audit.Auditor) {
	fallback := store.NewLogStore(cfg.Audit.FallbackCapacity)

	var st store.Store
	sqlStore, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		slog.Warn("opening audit database failed, falling back to log store",
			"error", err, "path", cfg.Database.Path)
		st = fallback
	} else {
		st = sqlStore
	}

	level, err := audit.ParseLevel(cfg.Audit.Level)
	if err != nil {
		slog.Warn("invalid audit level in config, using standard", "level", cfg.Audit.Level)
		level = audit.LevelStandard
	}

	auditor := audit.New(st,
		audit.WithLevel(level),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithFallback(fallback),
	)
	return st, auditor
}

// cmdDemo runs a scripted three-agent task through the engine and prints
// the resulting explanation report.
func cmdDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	st, auditor := openEngine(cfg)

	ctx := context.Background()
	taskID := fmt.Sprintf("demo-%d", time.Now().Unix())

	// Researcher gathers sources, with a nested fetch per source.
	_, err = auditor.Run(ctx, audit.Action{
		TaskID:     taskID,
		AgentID:    "researcher-1",
		AgentName:  "Researcher",
		ActionType: "research",
		ActionName: "gather_sources",
	}, map[string]any{"topic": "demo"}, func(ctx context.Context) (any, error) {
		audit.SetReasoning(ctx, "Decided to query the primary index first, then fall back to the archive.")
		for _, src := range []string{"index", "archive"} {
			_, err := auditor.Run(ctx, audit.Action{
				TaskID:     taskID,
				AgentID:    "researcher-1",
				AgentName:  "Researcher",
				ActionType: "tool_call",
				ActionName: "fetch_" + src,
			}, map[string]any{"source": src}, func(ctx context.Context) (any, error) {
				audit.AddToolUsage(ctx, "http_fetch", "https://example.org/"+src, "200 OK")
				audit.AddModelCall(ctx, 150)
				return src + " results", nil
			})
			if err != nil {
				return nil, err
			}
		}
		return "2 sources gathered", nil
	})
	if err != nil {
		log.Fatalf("demo research failed: %v", err)
	}

	// Analyst and critic work the sources in parallel; the critic times out.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		auditor.Run(ctx, audit.Action{
			TaskID:     taskID,
			AgentID:    "analyst-1",
			AgentName:  "Analyst",
			ActionType: "analysis",
			ActionName: "summarize_sources",
		}, "2 sources gathered", func(ctx context.Context) (any, error) {
			audit.SetReasoning(ctx, "Based on 2 sources gathered, chose to summarize index results before archive results.")
			audit.AddStep(ctx, "rank_sources", map[string]any{"count": 2})
			audit.AddModelCall(ctx, 800)
			time.Sleep(30 * time.Millisecond)
			return "summary of 2 sources", nil
		})
	}()
	go func() {
		defer wg.Done()
		auditor.Run(ctx, audit.Action{
			TaskID:     taskID,
			AgentID:    "critic-1",
			AgentName:  "Critic",
			ActionType: "review",
			ActionName: "verify_claims",
		}, "2 sources gathered", func(ctx context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, errors.New("verification request timed out after 10s")
		})
	}()
	wg.Wait()

	// Drain the async queue before reading the trail back.
	auditor.Close()

	report, err := explain.NewService(st).GenerateTaskExplanation(ctx, taskID)
	if err != nil {
		log.Fatalf("generating explanation: %v", err)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("encoding report: %v", err)
	}
	fmt.Println(string(out))
}
