package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/api"
	"github.com/joescharf/opsassist/internal/daemon"
)

const (
	shutdownTimeout = 10 * time.Second
	stopTimeout     = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server in the foreground",
	Long: `Run the HTTP/websocket API in the foreground. It listens on port 8080 by
default; use --port to change it. Use 'serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd, serveStopCmd, serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func stateDir() string {
	if dir := viper.GetString("state_dir"); dir != "" {
		return dir
	}
	dir, _ := configDirFunc()
	return dir
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(stateDir(), "opsassist-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(stateDir(), "opsassist-serve.log")
}

func serveAddr() string {
	return fmt.Sprintf(":%d", viper.GetInt("port"))
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := serveAddr()
	pf := pidFile()
	if err := pf.Acquire(addr); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	srv := api.NewServer(a.dispatcher, a.sessions, a.coordinator, logger.Named("api")).
		WithHub(a.hub).
		WithMetrics(a.registry)
	if a.history != nil {
		srv = srv.WithHistory(a.history)
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()
	ui.Info("Serving API at http://localhost%s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked and not tracked by Shutdown.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if r, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d on %s)", r.PID, r.Addr)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	// The child owns its lifecycle; release it so no zombie is left behind.
	_ = child.Process.Release()

	ui.Success("Server started (pid %d) on %s", child.Process.Pid, serveAddr())
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	r, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal pid %d: %w", r.PID, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			ui.Success("Server stopped (pid %d)", r.PID)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not exit within %s, killing pid %d", stopTimeout, r.PID)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill pid %d: %w", r.PID, err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	r, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server running (pid %d) on %s since %s", r.PID, r.Addr, r.StartedAt.Local().Format(time.RFC3339))
	return nil
}
