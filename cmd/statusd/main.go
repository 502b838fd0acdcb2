package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"statusd/internal/config"
	appLog "statusd/internal/log"
	"statusd/internal/poll"
)

type flagConfig struct {
	configPath string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()
	appLog.SetLevel(flags.logLevel)
	appLog.Info("statusd starting")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"timezone", conf.Timezone,
		"poll", conf.Poll,
		"refresh_seconds", conf.RefreshSeconds,
		"output_path", conf.OutputPath,
		"group_count", len(conf.Groups),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	runner := poll.New(conf)

	if flags.once {
		runner.RunCycle(ctx)
		appLog.Info("single cycle complete, exiting")
		return
	}

	if err := runner.Run(ctx); err != nil {
		appLog.Error("poll loop failed", err)
		os.Exit(1)
	}
	appLog.Info("statusd exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "~/status-screen/config.yaml", "Path to config file")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, error)")
	flag.BoolVar(&cfg.once, "once", false, "Run one resolution cycle and exit")

	flag.Parse()

	return cfg
}
