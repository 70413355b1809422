package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bulkpost/internal/api"
	"github.com/ignite/bulkpost/internal/config"
	"github.com/ignite/bulkpost/internal/executor"
	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
	"github.com/ignite/bulkpost/internal/sender"
	"github.com/ignite/bulkpost/internal/state"
	"github.com/ignite/bulkpost/internal/store"
	"github.com/ignite/bulkpost/internal/template"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logger.New(cfg.LogLevel)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		lg.Errorf("redis unreachable at %s: %v", cfg.Redis.Addr, err)
		os.Exit(1)
	}

	keys := store.DefaultKeys()
	mailings := store.NewMailingRepository(client, keys)
	stats := store.NewAddressStatsRepository(client, keys)
	subs := store.NewSubscriptionRequestRepository(client, keys, cfg.Subscription.TTL())

	mailSender, err := buildSender(ctx, cfg, lg)
	if err != nil {
		lg.Errorf("failed to initialize mail transport: %v", err)
		os.Exit(1)
	}

	renderer := template.NewLiquidRenderer()
	exec := executor.New(mailSender, mailings, stats, renderer, lg, executor.Options{
		BatchSize:       cfg.Mailing.ReceiverBatchSize,
		ListUnsubscribe: cfg.Mail.ListUnsubscribe,
	})

	manager := state.NewManager(exec, mailings, lg, state.Options{
		MaxEmailsWithoutPause: cfg.Mailing.MaxEmailsWithoutPause,
		PauseDuration:         cfg.Mailing.PauseDuration(),
	})
	if err := manager.Initialize(ctx); err != nil {
		lg.Errorf("failed to restore mailing states: %v", err)
		os.Exit(1)
	}
	manager.Start(ctx)

	failures := mailing.NewFailureCounter(mailings, stats)
	filter := mailing.NewReceiverListFilter(stats, cfg.Mailing.StatsBatchSize)
	handlers := api.NewHandlers(
		mailings, stats, subs, manager, exec, failures, filter,
		mailSender, renderer, lg, cfg.Mail, cfg.Subscription,
	)
	server := api.NewServer(cfg.Server, handlers, lg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			lg.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Errorf("server shutdown: %v", err)
	}
	if err := exec.Shutdown(shutdownCtx); err != nil {
		lg.Errorf("executor shutdown: %v", err)
	}
	if err := client.Close(); err != nil {
		lg.Errorf("redis close: %v", err)
	}
	lg.Infof("bye")
}

// buildSender picks the mail transport: console when faked, SES when
// credentials are configured, SMTP otherwise. A send rate limit wraps
// whichever transport was chosen.
func buildSender(ctx context.Context, cfg *config.Config, lg *logger.Logger) (sender.MailSender, error) {
	var s sender.MailSender
	switch {
	case cfg.Mail.FakeSender:
		lg.Warnf("fake sender enabled, emails go to the log only")
		s = sender.NewConsoleSender(lg)
	case cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "":
		ses, err := sender.NewSESSender(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.Mail.From)
		if err != nil {
			return nil, err
		}
		s = ses
	default:
		s = sender.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.Mail.From)
	}
	if cfg.Mail.RatePerSecond > 0 {
		s = sender.NewThrottledSender(s, cfg.Mail.RatePerSecond)
	}
	return s, nil
}
