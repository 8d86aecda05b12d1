package main

import (
	"context"
	"errors"
	"fmt"
	"io"
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

	"github.com/kalambet/sidekick/internal/api"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sidekick daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sidekick daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sidekick status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve commentary to agents over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(os.Stdin, os.Stdout)
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sidekick.pid")
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

// setupLogging installs the stderr+file logger and returns its closer.
func setupLogging(cfg config.Config) func() error {
	logger, closeLog := config.SetupLogger(cfg.Log.File, config.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	return closeLog
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "sidekick version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sidekick is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sidekick is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if err := writePIDFile(pidPath); err != nil {
		ln.Close()
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		ln.Close()
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if _, ok, err := d.secrets.Get(); err != nil {
		slog.Warn("reading credential failed", "error", err)
	} else if !ok {
		printWarning("no API credential configured; %s", config.MissingCredentialHint())
	}

	fmt.Fprintf(os.Stderr, "sidekick listening on %s\n", addr)
	err = d.serve(ctx, ln, apiToken)
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

func runMCP(stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	g, gctx := errgroup.WithContext(ctx)
	d.startWorkers(gctx, g)
	g.Go(func() error {
		// Workers stop once the client closes stdin.
		defer cancel()
		stdio := server.NewStdioServer(api.NewMCPServer(d.mcpServerDeps()))
		err := stdio.Listen(gctx, stdin, stdout)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")
	return g.Wait()
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
		printError("sidekick is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sidekick (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sidekick (PID %d)", pid)
	return nil
}

// daemonStatus mirrors GET /v1/status.
type daemonStatus struct {
	Scheduler scheduler.Status      `json:"scheduler"`
	State     presentation.Snapshot `json:"state"`
	RetryLen  int                   `json:"retry_queue_len"`
	Comments  int                   `json:"comments"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if c := runningDaemon(ctx); c == nil {
		printStatus("Daemon", "stopped")
	} else {
		printStatus("Daemon", "running on port %d", cfg.Server.Port)
		if resp, err := c.get(ctx, "/v1/status"); err == nil {
			var st daemonStatus
			if decodeJSON(resp, &st) == nil {
				printDaemonStatus(st)
			}
		}
	}

	printStatus("Endpoint", "%s", cfg.LLM.Endpoint)
	printStatus("Model", "%s", cfg.LLM.Model)
	if _, ok, err := config.NewSecrets(config.NewKeychain(), nil).Get(); err != nil {
		printStatus("Credential", "error (%v)", err)
	} else if ok {
		printStatus("Credential", "configured")
	} else {
		printStatus("Credential", "missing, %s", config.MissingCredentialHint())
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printDaemonStatus(st daemonStatus) {
	printStatus("Companion", "%s (%s)", st.State.Companion, st.State.Expression)
	if st.Scheduler.Threshold <= 0 {
		printStatus("Frequency", "automatic commentary off")
	} else {
		printStatus("Frequency", "%d/%d characters", st.Scheduler.Typed, st.Scheduler.Threshold)
	}
	if st.State.BubbleVisible {
		printStatus("Bubble", "visible")
	}
	if st.State.Fallback {
		printStatus("Sprites", "fallback rendering")
	}
	if st.RetryLen > 0 {
		printStatus("Retry queue", "%d waiting", st.RetryLen)
	}
	printStatus("History", "%d comments", st.Comments)
}
