package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harunnryd/freestream/pkg/freestream"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/runner"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config; empty uses defaults, a missing default file too")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()
	path := resolveConfigPath(*configPath, flagSet("config"))

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv_load_failed", "path", *envFile, "error", err)
	}

	cfg, err := freestream.LoadConfig(path)
	if err != nil {
		slog.Error("config_load_failed", "path", path, "error", err)
		os.Exit(1)
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Error("log_file_open_failed", "path", cfg.LogFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stdout, f)
	}
	log := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, logOut)

	engine, err := freestream.NewEngine(freestream.EngineOptions{Config: cfg, Logger: log})
	if err != nil {
		log.Error("engine_init_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStart: engine.Start,
		OnStop:  func() { log.Info("shutdown_complete") },
	}, cfg.Server.ShutdownTimeout).WithBanner(os.Stdout)

	if err := r.Run(ctx); err != nil {
		log.Error("freestream_exit", "error", err)
		os.Exit(1)
	}
}

const defaultConfigPath = "config.yaml"

// resolveConfigPath drops the default path when that file does not exist, so
// a bare start runs on defaults. An explicitly named file must exist.
func resolveConfigPath(path string, explicit bool) string {
	if explicit || path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
