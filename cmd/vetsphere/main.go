// Package main starts the VetSphere backend HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/huhuanshizhe/vetsphere/internal/config"
	"github.com/huhuanshizhe/vetsphere/internal/handler"
	"github.com/huhuanshizhe/vetsphere/internal/llm"
	"github.com/huhuanshizhe/vetsphere/internal/middleware"
	"github.com/huhuanshizhe/vetsphere/internal/notify"
	"github.com/huhuanshizhe/vetsphere/internal/payment"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	deps := service.Deps{
		Broker:        notify.NewBroker(logger),
		Logger:        logger,
		WebhookSecret: cfg.StripeWebhookSecret,
		Environment:   cfg.Env(),
	}

	if cfg.StripeConfigured() {
		deps.Stripe = payment.NewStripeClient(cfg.StripeSecretKey)
	} else {
		sugar.Warn("stripe credentials not configured, card payments disabled")
	}

	if cfg.AirwallexConfigured() {
		deps.Airwallex = payment.NewAirwallexClient(cfg.AirwallexClientID, cfg.AirwallexAPIKey)
	} else {
		sugar.Warn("airwallex credentials not configured, airwallex payments disabled")
	}

	if cfg.LLMConfigured() {
		deps.Chat = llm.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	} else {
		sugar.Warn("llm api key not configured, assistant disabled")
	}

	svc := service.NewService(repo, deps)
	defer svc.Close()

	adminAuth := middleware.NewAdminAuth(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, adminAuth, cfg.AdminToken, deps.Broker)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting vetsphere server",
			"addr", cfg.RunAddress,
			"environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
