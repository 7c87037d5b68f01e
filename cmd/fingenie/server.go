package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/fingenie/fingenie/internal/api"
	"github.com/fingenie/fingenie/internal/cache"
	"github.com/fingenie/fingenie/internal/composer"
	"github.com/fingenie/fingenie/internal/config"
	"github.com/fingenie/fingenie/internal/gemini"
	"github.com/fingenie/fingenie/internal/ingest"
	"github.com/fingenie/fingenie/internal/intent"
	"github.com/fingenie/fingenie/internal/market"
	"github.com/fingenie/fingenie/internal/news"
	"github.com/fingenie/fingenie/internal/orchestrator"
	"github.com/fingenie/fingenie/internal/retrieval"
	"github.com/fingenie/fingenie/internal/storage"
)

// cachePurgeInterval is how often the server sweeps expired entries out
// of the shared cache.
const cachePurgeInterval = 10 * time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fingenie server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fingenie server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fingenie system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fingenie.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fingenie version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Shared TTL cache for embeddings, quotes, headlines, and
	// classifications. Expired entries linger until read, so purge on an
	// interval to bound memory.
	shared := cache.New()
	go func() {
		ticker := time.NewTicker(cachePurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := shared.Purge(); n > 0 {
					slog.Debug("purged expired cache entries", "removed", n)
				}
			}
		}
	}()

	geminiClient := gemini.New(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.EmbedModel)
	if !geminiClient.Configured() {
		slog.Warn("no Gemini API key; answers fall back to curated responses")
	}

	embedder := retrieval.NewEmbedder(geminiClient, shared)
	vectorIndex := retrieval.NewSQLiteIndex(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorIndex)

	var quotes composer.QuoteProvider
	var headlines composer.HeadlineProvider
	if mc := market.New(cfg.Market.BaseURL, cfg.Market.APIKey); mc.Configured() {
		quotes = mc
	} else {
		slog.Warn("no market API key; live quotes disabled")
	}
	if nc := news.New(cfg.News.BaseURL, cfg.News.APIKey); nc.Configured() {
		headlines = nc
	} else {
		slog.Warn("no news API key; headlines disabled")
	}

	aggregator := composer.New(retriever, quotes, headlines, shared, cfg.Chat.MaxContextChars)
	classifier := intent.NewClassifier(shared)

	var orchHeadlines orchestrator.HeadlineProvider
	if headlines != nil {
		orchHeadlines = headlines
	}
	orch := orchestrator.New(classifier, aggregator, geminiClient, store, vectorIndex, orchHeadlines)
	orch.RelatedNewsProbability = cfg.Chat.RelatedNewsProbability

	pipeline := ingest.New(embedder, vectorIndex, store)

	handler := api.NewAppHandler(api.AppDeps{
		Responder:  orch,
		Pipeline:   pipeline,
		Docs:       store,
		Index:      vectorIndex,
		AdminToken: cfg.Server.AdminToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP over stdio alongside HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Responder: orch,
		Searcher:  retriever,
		Docs:      store,
		Index:     vectorIndex,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fingenie listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fingenie is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fingenie (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fingenie (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("Embed model", "%s", cfg.Gemini.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running && cfg.Server.AdminToken != "" {
		apic, err := newAPIClient()
		if err != nil {
			return nil
		}
		statusResp, err := apic.get(ctx, "/status")
		if err != nil {
			return nil
		}
		var status api.StatusResponse
		if err := decodeJSON(statusResp, &status); err != nil {
			return nil
		}
		printStatus("Documents", "%d", status.TotalDocuments)
		printStatus("Vectors", "%d", status.Vectors)
		for category, n := range status.Documents {
			printStatus("  "+category, "%d", n)
		}
	}

	return nil
}
