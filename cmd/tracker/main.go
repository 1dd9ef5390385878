package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/dedup"
	"tg_utm_tracker/internal/events"
	"tg_utm_tracker/internal/feature/capture"
	"tg_utm_tracker/internal/feature/lifecycle"
	"tg_utm_tracker/internal/feature/member"
	"tg_utm_tracker/internal/health"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/storage"
	"tg_utm_tracker/internal/telegram"
	"tg_utm_tracker/internal/webhook"
)

const (
	storeConnectTimeout = 15 * time.Second
	storeCloseTimeout   = 5 * time.Second
	redisPingTimeout    = 3 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":        "startup",
		"store_driver": cfg.StoreDriver,
		"http_port":    cfg.HTTPPort,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	backend, err := storage.Open(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Error("store setup error")
		fmt.Fprintf(os.Stderr, "store setup error: %v\n", err)
		os.Exit(1)
	}

	checks := map[string]health.Checker{"store": backend}
	memberOpts := []member.Option{}

	var claims *dedup.Claims
	if cfg.RedisURL != "" {
		claims, err = dedup.New(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Error("redis setup error")
			fmt.Fprintf(os.Stderr, "redis setup error: %v\n", err)
			os.Exit(1)
		}

		pingCtx, cancelPing := context.WithTimeout(context.Background(), redisPingTimeout)
		if err := claims.Ping(pingCtx); err != nil {
			logger.WithFields(logging.Fields{"event": "redis_unavailable", "error": err.Error()}).Warn("redis unreachable, updates are processed without de-duplication until it recovers")
		} else {
			logger.WithField("event", "redis_connect").Info("connected to redis")
		}
		cancelPing()

		checks["redis"] = claims
		memberOpts = append(memberOpts, member.WithClaims(claims))
	}

	var publisher *events.AMQPPublisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.WithError(err).Error("amqp setup error")
			fmt.Fprintf(os.Stderr, "amqp setup error: %v\n", err)
			os.Exit(1)
		}

		logger.WithFields(logging.Fields{"event": "amqp_connect", "exchange": cfg.AMQPExchange}).Info("publishing lead events")
		memberOpts = append(memberOpts, member.WithPublisher(publisher))
	}

	repos := backend.Repositories()
	gateway := telegram.NewGateway(cfg, logger)

	captureSvc := capture.NewService(repos.Campaigns, repos.Bots, repos.InviteLinks, gateway, logger)
	memberSvc := member.NewService(repos.Campaigns, repos.Bots, repos.InviteLinks, repos.Leads, logger, memberOpts...)
	lifecycleSvc := lifecycle.NewService(repos.Campaigns, repos.Bots, gateway, cfg.PublicBaseURL, cfg.WebhookSecret, logger)

	router := webhook.NewRouter(logger,
		webhook.WithCapture(captureSvc),
		webhook.WithMember(memberSvc),
		webhook.WithLifecycle(lifecycleSvc),
		webhook.WithCampaigns(repos.Campaigns),
		webhook.WithHealth(health.NewHandler(checks, backend, logger)),
		webhook.WithSecret(cfg.WebhookSecret),
		webhook.WithPublicBaseURL(cfg.PublicBaseURL),
	)

	server := webhook.NewServer(cfg.HTTPPort, router.Handler(), logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping http server")
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("http server error")
		} else {
			logger.WithField("event", "http_stopped_early").Warn("http server stopped before shutdown signal")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelShutdown()

	closeDependencies(logger, backend, claims, publisher)

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func closeDependencies(logger *logrus.Entry, backend storage.Backend, claims *dedup.Claims, publisher *events.AMQPPublisher) {
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Error("amqp close error")
		}
	}

	if claims != nil {
		if err := claims.Close(); err != nil {
			logger.WithError(err).Error("redis close error")
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
	defer cancel()
	if err := backend.Close(closeCtx); err != nil {
		logger.WithError(err).Error("store close error")
	} else {
		logger.WithField("event", "store_disconnect").Info("store connection closed")
	}
}
