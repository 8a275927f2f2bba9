// @title           Task Tracker API
// @version         1.0
// @description     Multi-user task tracker: accounts, bearer tokens, password reset, owned tasks with categories and assignees.
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/logging"

	_ "taskboard/docs"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logging.New(cfg.App.Env)
	slog.SetDefault(log)
	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info("config loaded, connecting to DB and Redis...")

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("app init", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("app ready, starting HTTP server")
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      application.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-serveErr:
		log.Error("HTTP server error", slog.String("error", err.Error()))
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown", slog.String("error", err.Error()))
		exitCode = 1
	}
	if err := application.Close(ctx); err != nil {
		log.Error("app close", slog.String("error", err.Error()))
		exitCode = 1
	}
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
