package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	stdlog "log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xopay/notify-service/internal/api"
	"github.com/xopay/notify-service/internal/auth"
	"github.com/xopay/notify-service/internal/config"
	"github.com/xopay/notify-service/internal/currency"
	"github.com/xopay/notify-service/internal/handlers"
	"github.com/xopay/notify-service/internal/httpx"
	"github.com/xopay/notify-service/internal/logging"
	"github.com/xopay/notify-service/internal/mail"
	"github.com/xopay/notify-service/internal/metrics"
	"github.com/xopay/notify-service/internal/notify"
	"github.com/xopay/notify-service/internal/queue"
	"github.com/xopay/notify-service/internal/report"
	"github.com/xopay/notify-service/internal/sms"
)

// main wires the consumer, the currency daemon, the notification engine
// and the admin HTTP surface, then waits for a shutdown signal.
func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Printf("%v", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg)
	log.Info("Starting XOPay Notify Service...")

	tokens, err := auth.NewTokenSource(cfg.AuthKey, cfg.AuthAlgorithm, cfg.AuthTokenLifetime, cfg.AuthSystemUserID)
	if err != nil {
		log.Fatalf("Auth setup failed: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.PostgresDSN()),
		pgdriver.WithTimeout(50*time.Second)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := metrics.New()
	client := httpx.New(tokens, log.WithField("component", "http"))
	mailer := mail.NewSender(mail.Config{
		Server:        cfg.MailServer,
		Username:      cfg.MailUsername,
		Password:      cfg.MailPassword,
		DefaultSender: cfg.MailDefaultSender,
	}, log.WithField("component", "mail"))
	smsSender := sms.NewSender(log.WithField("component", "sms"))
	reporter := report.New(client, mailer, cfg.AdminBaseURL, log.WithField("component", "report"))

	store := notify.NewStore(db)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Rule store setup failed: %v", err)
	}
	engine := notify.NewEngine(store, client, mailer, cfg.AdminBaseURL, stats, log.WithField("component", "notify"))
	if err := engine.Reload(ctx); err != nil {
		log.Errorf("Initial rule load failed: %v", err)
	}

	txHandler := handlers.NewTransactionHandler(client, reporter, cfg.ClientBaseURL, log.WithField("component", "transaction"))

	consumer := queue.NewConsumer(cfg.AMQPURL(), []queue.Binding{
		{Queue: cfg.QueueTransaction, Handle: txHandler.Handle},
		{Queue: cfg.QueueEmail, Handle: handlers.EmailHandler(mailer, log.WithField("component", "email"))},
		{Queue: cfg.QueueSMS, Handle: handlers.SMSHandler(smsSender, log.WithField("component", "sms"))},
		{Queue: cfg.QueueRequest, Handle: engine.HandleEvent},
	}, stats, log.WithField("component", "queue"))

	scheduler, err := currency.NewScheduler(
		[]currency.Source{currency.NewPrivat24()},
		client, reporter, cfg.AdminBaseURL,
		cfg.UpdateHours, cfg.Timezone,
		stats, log.WithField("component", "currency"))
	if err != nil {
		log.Fatalf("Currency daemon setup failed: %v", err)
	}

	server := api.New(store, engine, tokens, stats.Handler(), log.WithField("component", "api"))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
	}

	var daemons sync.WaitGroup
	daemons.Add(2)
	go func() {
		defer daemons.Done()
		consumer.Run(ctx)
	}()
	go func() {
		defer daemons.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	log.Infof("XOPay Notify Service started on port %d", cfg.Port)
	<-ctx.Done()
	log.Info("Stopping XOPay Notify Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}

	daemons.Wait()
	txHandler.Wait()
	mailer.Close()
	smsSender.Close()
	log.Info("XOPay Notify Service stopped!")
}
