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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/campa/internal/agent"
	"github.com/kalambet/campa/internal/api"
	"github.com/kalambet/campa/internal/campaigns"
	"github.com/kalambet/campa/internal/config"
	"github.com/kalambet/campa/internal/docsearch"
	"github.com/kalambet/campa/internal/flush"
	"github.com/kalambet/campa/internal/generate"
	"github.com/kalambet/campa/internal/intent"
	"github.com/kalambet/campa/internal/llm"
	"github.com/kalambet/campa/internal/retrieval"
	"github.com/kalambet/campa/internal/session"
	"github.com/kalambet/campa/internal/storage"
	"github.com/kalambet/campa/internal/tokens"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the campa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running campa server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show campa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "campa.pid")
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
	fmt.Fprintf(os.Stderr, "campa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		apiToken = uuid.NewString()
		printWarning("no API token configured; generated ephemeral token %s", apiToken)
		printWarning("set CAMPA_API_TOKEN to keep a stable token across restarts")
	}

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("campa is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("campa is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient := llm.New(cfg.LLM.BaseURL)
	if !llmClient.IsRunning(ctx) {
		printWarning("model endpoint is not reachable at %s; queries will degrade until it is up", cfg.LLM.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the agent workflow.
	analyzer := intent.NewAnalyzer(llmClient, cfg.LLM.AnalyzerModel)
	campaignClient := campaigns.New(cfg.Campaign.BaseURL, cfg.Campaign.APIKey, cfg.Campaign.Timeout)
	docsClient := docsearch.New(cfg.Docs.BaseURL, cfg.Docs.Timeout, cfg.Docs.TopK)
	retriever := retrieval.NewRetriever(campaignClient, docsClient)
	generator := generate.NewGenerator(llmClient, cfg.LLM.AnswerModel, cfg.LLM.CallTimeout)
	sessions := session.NewStore(cfg.Memory.CheckpointTTL, cfg.Memory.CheckpointCapacity)
	counter := tokens.NewCounter()
	orchestrator := agent.New(analyzer, retriever, generator, store, sessions, counter, agent.Options{
		RecentTurns:      cfg.Memory.RecentTurns,
		FlushMaxAttempts: cfg.Memory.FlushMaxAttempts,
	})

	// Start the persistence retry worker.
	worker := flush.NewWorker(store, cfg.Memory.FlushPollInterval)
	go worker.Run(ctx)

	appHandler := api.NewAppHandler(api.AppDeps{
		Agent:    orchestrator,
		Store:    store,
		Counter:  counter,
		Sessions: sessions,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Agent:    orchestrator,
		Store:    store,
		Sessions: sessions,
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
		fmt.Fprintf(os.Stderr, "campa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
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
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("campa is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop campa (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to campa (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	llmResp, err := client.Get(cfg.LLM.BaseURL + "/api/tags")
	if err != nil {
		printStatus("Models", "endpoint not running")
	} else {
		llmResp.Body.Close()
		printStatus("Models", "endpoint running at %s", cfg.LLM.BaseURL)
	}

	printStatus("Analyzer model", "%s", cfg.LLM.AnalyzerModel)
	printStatus("Answer model", "%s", cfg.LLM.AnswerModel)
	printStatus("Campaign API", "%s", cfg.Campaign.BaseURL)
	printStatus("Doc search", "%s", cfg.Docs.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
