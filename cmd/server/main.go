package main

import (
	"fmt"
	"os"

	"github.com/kamiwaza-ai/appgarden/internal/config"
	"github.com/kamiwaza-ai/appgarden/internal/logger"
	"github.com/kamiwaza-ai/appgarden/internal/server"
)

var version = "dev" // set with -ldflags "-X main.version=..."

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid gateway configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	srv, err := server.New(cfg, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build gateway")
	}

	routing := "port"
	if cfg.BasePath != "" {
		routing = "path"
	}
	log.Info().
		Str("version", version).
		Str("base_path", cfg.BasePath).
		Str("routing", routing).
		Str("backend", cfg.Proxy.BackendURL).
		Bool("auth_enabled", cfg.Kamiwaza.AuthEnabled()).
		Msg("Starting App Garden gateway")

	// Blocks until shutdown
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped")
	}
}
