package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/daybook/internal/api"
	"github.com/kalambet/daybook/internal/composer"
	"github.com/kalambet/daybook/internal/config"
	"github.com/kalambet/daybook/internal/engine"
	"github.com/kalambet/daybook/internal/extract"
	"github.com/kalambet/daybook/internal/pipeline"
	"github.com/kalambet/daybook/internal/relevance"
	"github.com/kalambet/daybook/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daybook server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daybook server and AI backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "daybook.pid")
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

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "daybook version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		service extract.Service
		backend = cfg.AI.Provider
	)
	eng, err := engine.Detect(detectConfig(cfg))
	if err != nil {
		slog.Error("AI backend unavailable, batches will fail until the configuration is fixed", "error", err)
		service = extract.Unavailable(err)
	} else {
		backend = eng.Name()
		if err := engine.EnsureReady(ctx, eng, cfg.ExtractionModel(), os.Stderr); err != nil {
			// Related notes and entry storage work without the AI backend.
			slog.Warn("AI backend not ready", "backend", backend, "error", err)
		}
		service = extract.NewLLMService(eng, cfg.ExtractionModel(), cfg.Batch.CallTimeout)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	controller := pipeline.NewController(store, service)
	deps := api.Deps{
		Store:      store,
		Controller: controller,
		Relevance: relevance.NewEngine(store, relevance.Config{
			HalfLifeDays: cfg.Relevance.HalfLifeDays,
			DefaultLimit: cfg.Relevance.DefaultLimit,
		}),
		Composer: composer.New(0),
		Token:    apiToken,
	}
	mcpSrv := api.NewMCPServer(deps)
	deps.MCP = server.NewStreamableHTTPServer(mcpSrv)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("daybook listening", "addr", addr, "backend", backend, "model", cfg.ExtractionModel())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		if err := stopBatch(controller, cfg.Batch.CallTimeout+5*time.Second); err != nil {
			slog.Warn("batch did not finish before shutdown", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mcpStdio {
		g.Go(func() error {
			stdio := server.NewStdioServer(mcpSrv)
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func detectConfig(cfg config.Config) engine.DetectConfig {
	return engine.DetectConfig{
		Provider:      cfg.AI.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.AI.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.AI.OpenAIAPIKey,
	}
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng, err := engine.Detect(detectConfig(cfg))
	switch {
	case err != nil:
		printStatus("AI backend", "%s", red(err.Error()))
	case eng.IsRunning(ctx):
		printStatus("AI backend", "%s reachable", eng.Name())
	default:
		printStatus("AI backend", "%s not reachable", eng.Name())
	}
	printStatus("Model", "%s", cfg.ExtractionModel())

	if resp != nil && resp.StatusCode == http.StatusOK {
		if c, err := newAPIClient(); err == nil {
			var st pipeline.Status
			if c.call(ctx, http.MethodGet, "/batches/status", nil, &st) == nil {
				printStatus("Batch", "%s", describeBatch(st))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func describeBatch(st pipeline.Status) string {
	switch {
	case st.Running && st.Progress != nil:
		return fmt.Sprintf("%s running, %d/%d entries", st.Progress.Stage, st.Progress.Processed, st.Progress.Total)
	case st.Running:
		return "running"
	case st.LastError != "":
		return "idle, last batch aborted: " + st.LastError
	case st.Last != nil:
		s := fmt.Sprintf("idle, last %s processed %d/%d", st.Last.Stage, st.Last.Processed, st.Last.Total)
		if st.Last.Cancelled {
			s += " (cancelled)"
		}
		return s
	default:
		return "idle"
	}
}

// stopBatch cancels any running batch and waits up to grace for its
// in-flight entry to commit, so the store is not closed underneath it.
func stopBatch(c *pipeline.Controller, grace time.Duration) error {
	if c.Cancel() {
		slog.Info("waiting for in-flight batch entry")
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return c.Wait(ctx)
}
