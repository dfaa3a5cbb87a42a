package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bikappa/blockly-sketchbook/assets"
	"github.com/bikappa/blockly-sketchbook/buildservice"
	"github.com/bikappa/blockly-sketchbook/config"
	"github.com/bikappa/blockly-sketchbook/logging"
	"github.com/bikappa/blockly-sketchbook/sketchbook"
	"github.com/bikappa/blockly-sketchbook/web"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		panic(err)
	}

	logger := logging.Setup(&logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  os.Stderr,
		Service: "blockly-sketchbook",
	})

	srv, err := createServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info().Str("address", httpServer.Addr).Msg("serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	logger.Info().Msg("shutdown complete")
}

func createServer(cfg *config.Config, logger zerolog.Logger) (*web.Server, error) {
	startup := logging.NewLogger("startup")

	sb, err := sketchbook.New(cfg.Sketchbook.Dir)
	if err != nil {
		return nil, err
	}
	startup.Info().Str("dir", sb.Dir()).Msg("sketchbook ready")

	resolver, err := assets.NewResolver(cfg.Assets.Root, cfg.Assets.MimeTypes)
	if err != nil {
		return nil, err
	}
	startup.Info().Str("root", resolver.Root()).Strs("extensions", resolver.Extensions()).Msg("serving editor assets")
	if overridden := resolver.Overridden(); len(overridden) > 0 {
		startup.Warn().Strs("extensions", overridden).Msg("built-in content types replaced by config")
	}

	forms, err := web.NewForms(cfg.Forms.ItemTemplate, cfg.Forms.Placeholder)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(cfg.Build.ToolchainDir); err != nil || !info.IsDir() {
		// uploads fail until it exists, the editor is still served
		startup.Warn().Str("toolchain", cfg.Build.ToolchainDir).Msg("toolchain directory not found")
	}

	buildService, err := createBuildService(cfg, logger)
	if err != nil {
		return nil, err
	}

	return web.NewServer(sb, resolver, buildService, forms, web.Options{
		RootRedirect:         cfg.Assets.RootRedirect,
		LoadForm:             cfg.Forms.LoadForm,
		SaveForm:             cfg.Forms.SaveForm,
		MaxFormBytes:         cfg.Server.MaxFormBytes,
		RejectOverwriteOnNew: cfg.Sketchbook.RejectOverwriteOnNew,
	})
}

func createBuildService(cfg *config.Config, logger zerolog.Logger) (*buildservice.LocalBuildService, error) {
	return buildservice.NewLocalBuildService(buildservice.LocalBuildServiceConfiguration{
		ToolchainDir:     cfg.Build.ToolchainDir,
		Manifest:         cfg.Build.Manifest,
		TemplateFile:     cfg.Build.TemplateFile,
		CodePlaceholder:  cfg.Build.CodePlaceholder,
		Command:          cfg.Build.Command,
		Timeout:          cfg.Build.Timeout.Duration,
		MaxOutputBytes:   cfg.Build.MaxOutput.Value(),
		WorkspaceBaseDir: cfg.Build.WorkspaceDir,
		WorkspacePrefix:  cfg.Build.WorkspacePrefix,
		KeepWorkspaces:   cfg.Build.KeepWorkspaces,
		Logger:           logger,
	})
}
