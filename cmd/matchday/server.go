package main

import (
	"context"
	"encoding/json"
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

	"github.com/spf13/cobra"

	"github.com/mufcstore/matchday/internal/api"
	"github.com/mufcstore/matchday/internal/cachestore"
	"github.com/mufcstore/matchday/internal/classify"
	"github.com/mufcstore/matchday/internal/config"
	"github.com/mufcstore/matchday/internal/lifecycle"
	"github.com/mufcstore/matchday/internal/notify"
	"github.com/mufcstore/matchday/internal/strategy"
	"github.com/mufcstore/matchday/internal/syncqueue"
	"github.com/mufcstore/matchday/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the matchday gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running matchday gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show matchday system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "matchday.pid")
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

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "matchday version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if the gateway is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("matchday is already running (PID %d)", pid)
			return fmt.Errorf("gateway already running (PID %d)", pid)
		}
		printWarning("matchday is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("gateway already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the cache store.
	store, err := cachestore.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing cache store: %v\n", err)
		}
	}()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	fetcher, err := strategy.NewOriginFetcher(cfg.Origin.BaseURL, httpClient)
	if err != nil {
		return fmt.Errorf("configuring origin fetcher: %w", err)
	}

	// Notification surface and push handling.
	center := notify.NewCenter(100)
	analytics := notify.NewBestEffort(cfg.Origin.BaseURL+"/api/analytics/notification-dismissed", httpClient)
	pushHandler := notify.NewHandler(center, center, analytics)

	// Deferred action replay.
	replayer := syncqueue.NewOriginReplayer(cfg.Origin.BaseURL, httpClient)
	coord := syncqueue.NewCoordinator(store, replayer, center)

	tasks := &worker.Tasks{}
	engine := strategy.NewEngine(store, fetcher, tasks)
	rules := classify.NewRules(cfg.Cache.PrecacheAssets, cfg.Classify.ImageHosts, cfg.Classify.APIPrefixes)

	gateway, err := api.NewGateway(cfg.Origin.BaseURL)
	if err != nil {
		return err
	}

	workerCfg := worker.Config{
		Rules:             rules,
		OfflinePath:       cfg.Cache.OfflinePath,
		PlaceholderPath:   cfg.Cache.PlaceholderPath,
		MaxImageEntries:   cfg.Cache.MaxImageEntries,
		MaxDynamicEntries: cfg.Cache.MaxDynamicEntries,
		SweepInterval:     parseDurationOr(cfg.Cache.SweepInterval, time.Minute),
		PeriodicInterval:  parseDurationOr(cfg.Sync.PeriodicInterval, 24*time.Hour),
	}

	controller := lifecycle.NewController(store, fetcher, cfg.Cache.Prefix, func(version string) {
		slog.Info("new worker version installed over an active one", "version", version)
	})

	// Each claim builds a worker for the new version and swaps it into the
	// gateway; the previous version's timed loops stop.
	var runCancel context.CancelFunc
	controller.OnClaim(func(v *lifecycle.Version) {
		wcfg := workerCfg
		wcfg.Partitions = v.Partitions
		wk, err := worker.New(wcfg, store, engine, fetcher, coord, center, tasks)
		if err != nil {
			slog.Error("building worker for claimed version", "version", v.Version, "error", err)
			return
		}
		if runCancel != nil {
			runCancel()
		}
		runCtx, cancel := context.WithCancel(ctx)
		runCancel = cancel
		gateway.Claim(wk)
		go wk.Run(runCtx)
	})

	if _, err := controller.Deploy(ctx, cfg.Cache.Version, cfg.Cache.PrecacheAssets); err != nil {
		if errors.Is(err, lifecycle.ErrInstallFailed) {
			// The origin is unreachable or missing shell assets. Serve
			// passthrough; a deploy can be retried on the next start.
			slog.Warn("install failed, serving without a cached shell", "error", err)
		} else {
			return err
		}
	}

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Gateway:    gateway,
		Controller: controller,
		Coord:      coord,
		Push: &api.PushDeps{
			Handler: pushHandler,
			Center:  center,
			Client:  httpClient,
		},
		AdminToken: cfg.Server.AdminToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "matchday listening on %s\n", addr)
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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if runCancel != nil {
		runCancel()
	}
	tasks.Wait()
	return nil
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
		printError("matchday is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop matchday (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to matchday (PID %d)", pid)
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

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		State   string `json:"state"`
	}
	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Gateway", "stopped")
	} else {
		if resp.StatusCode == 200 && json.NewDecoder(resp.Body).Decode(&health) == nil {
			running = true
			if health.Version != "" {
				printStatus("Gateway", "running on port %d (worker v%s, %s)", cfg.Server.Port, health.Version, health.State)
			} else {
				printStatus("Gateway", "running on port %d (no active worker)", cfg.Server.Port)
			}
		} else {
			printStatus("Gateway", "error (HTTP %d)", resp.StatusCode)
		}
		resp.Body.Close()
	}

	originResp, err := client.Get(cfg.Origin.BaseURL)
	if err != nil {
		printStatus("Origin", "unreachable at %s", cfg.Origin.BaseURL)
	} else {
		originResp.Body.Close()
		printStatus("Origin", "reachable at %s", cfg.Origin.BaseURL)
	}

	printStatus("Cache version", "%s-*-v%s", cfg.Cache.Prefix, cfg.Cache.Version)

	if running {
		if apiResp, err := apiGet(client, serverURL+"/internal/actions", cfg.Server.AdminToken); err == nil {
			var body struct {
				Pending map[string]int `json:"pending"`
			}
			if json.NewDecoder(apiResp.Body).Decode(&body) == nil {
				total := 0
				for _, n := range body.Pending {
					total += n
				}
				printStatus("Pending actions", "%d", total)
			}
			apiResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
