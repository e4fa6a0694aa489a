package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/inkfold/renderd/internal/api"
	"github.com/inkfold/renderd/internal/bridge"
	"github.com/inkfold/renderd/internal/cache"
	"github.com/inkfold/renderd/internal/config"
	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/joblog"
	"github.com/inkfold/renderd/internal/lock"
	"github.com/inkfold/renderd/internal/log"
	"github.com/inkfold/renderd/internal/pool"
	"github.com/inkfold/renderd/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "check":
		return runCheck(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `renderd - markup to PDF render service

Usage:
  renderd start [--config path]    Start the render service
  renderd check [--config path]    Validate configuration and exit
  renderd watch [--url url]        Live pool dashboard
  renderd version [--json]         Print version metadata
  renderd help                     Show this help`)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else {
			return config.Defaults(), nil
		}
	}
	return config.Load(configPath)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("renderd starting", "version", version, "engine", cfg.Engine.Command, "strategy", cfg.Engine.Strategy)

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	engineCfg := engine.Config{
		Command:     cfg.Engine.Command,
		Args:        cfg.Engine.Args,
		ReadyMarker: cfg.Engine.ReadyMarker,
	}

	b, err := bridge.New(engineCfg, cfg.Engine.Strategy)
	if err != nil {
		logger.Error("failed to build render bridge", "error", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := pool.NewMetrics(registry)

	p := pool.New(pool.Config{
		MinSlots:      cfg.Pool.MinSlots,
		MaxSlots:      cfg.Pool.MaxSlots,
		QueueCapacity: cfg.Pool.QueueCapacity,
		IdleTimeout:   cfg.Pool.IdleTimeout.Std(),
		JobTimeout:    cfg.Pool.JobTimeout.Std(),
		Engine:        engineCfg,
	}, b, metrics)
	defer p.Close()
	logger.Info("dispatch pool started", "min_slots", cfg.Pool.MinSlots, "max_slots", cfg.Pool.MaxSlots)

	var resultCache *cache.Cache
	if cfg.Cache.Enabled {
		resultCache = cache.New(cfg.Cache.MaxEntries)
		logger.Info("result cache enabled", "max_entries", cfg.Cache.MaxEntries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var renderLog api.RenderLog
	if cfg.JobLog.Enabled {
		jl, err := joblog.Open(ctx, cfg.JobLog.Path)
		if err != nil {
			logger.Error("failed to open render log", "path", cfg.JobLog.Path, "error", err)
			return 1
		}
		defer jl.Close()
		renderLog = jl
		logger.Info("render log enabled", "path", cfg.JobLog.Path)
	}

	apiServer := api.New(api.Config{
		Listen:       cfg.Service.Listen,
		CORSOrigin:   cfg.Service.CORSOrigin,
		MaxBodyBytes: cfg.Service.MaxBodyBytes,
	}, p, resultCache, renderLog, registry, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		// Give the HTTP server a moment to finish its shutdown.
		time.Sleep(100 * time.Millisecond)
		return 0
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	}
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	if _, err := os.Stat(cfg.Engine.Command); err != nil {
		// Command may also be resolved via PATH, so only warn.
		fmt.Fprintf(os.Stderr, "note: engine command %q is not a local file (will be resolved via PATH)\n", cfg.Engine.Command)
	}

	fmt.Printf("Config OK\n")
	fmt.Printf("  listen:   %s\n", cfg.Service.Listen)
	fmt.Printf("  engine:   %s %s\n", cfg.Engine.Command, strings.Join(cfg.Engine.Args, " "))
	fmt.Printf("  strategy: %s\n", cfg.Engine.Strategy)
	fmt.Printf("  slots:    %d..%d\n", cfg.Pool.MinSlots, cfg.Pool.MaxSlots)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("url", "http://127.0.0.1:8090", "renderd API base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"))
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(gitCommit),
		BuildTime: strings.TrimSpace(buildDate),
	}
	if info.Commit == "" || info.Commit == "unknown" {
		if rev := readBuildSetting("vcs.revision"); rev != "" {
			info.Commit = shortenCommit(rev)
		}
	}
	if info.BuildTime == "" || info.BuildTime == "unknown" {
		if ts := readBuildSetting("vcs.time"); ts != "" {
			info.BuildTime = ts
		}
	}

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("renderd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
