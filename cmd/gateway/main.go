package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wudi/llmgateway/internal/config"
	"github.com/wudi/llmgateway/internal/gateway"
	"github.com/wudi/llmgateway/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Exit codes follow the gateway's config/startup contract: 0 success,
// 64 usage/config error, 69 unavailable (startup failure), 75 temporary
// failure (the server returned an error after running).
const (
	exitOK            = 0
	exitConfigError   = 64
	exitUnavailable   = 69
	exitTemporaryFail = 75
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("llm-gateway %s (built %s)\n", version, buildTime)
		return exitOK
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		return exitOK
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		return exitConfigError
	}
	logging.SetGlobal(logger)
	defer logging.Sync()
	if closer != nil {
		defer closer.Close()
	}

	logging.Info(fmt.Sprintf("starting llm-gateway %s, %d providers configured", version, len(cfg.Providers)))

	srv, err := gateway.NewServer(cfg)
	if err != nil {
		logging.Error("failed to build gateway server: " + err.Error())
		return exitUnavailable
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logging.Error("server error: " + err.Error())
		return exitTemporaryFail
	}
	return exitOK
}
