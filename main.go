package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webhook-service/internal/config"
	"webhook-service/internal/db"
	"webhook-service/internal/dispatch"
	"webhook-service/internal/gateway"
	"webhook-service/internal/handler"
	"webhook-service/internal/ingest"
	"webhook-service/internal/kafka"
	"webhook-service/internal/logging"
	"webhook-service/internal/metrics"
	"webhook-service/internal/retry"
	"webhook-service/internal/stats"
	"webhook-service/internal/trigger"
	"webhook-service/internal/verify"
	"webhook-service/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr(cfg.Database)
	db.RunMigrations(connStr, "migrations")

	pool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	webhookRepo := db.NewWebhookRepository(pool)
	paymentRepo := db.NewPaymentRepository(pool)
	subscriptionRepo := db.NewSubscriptionRepository(pool)

	normalizer := gateway.DefaultRegistry()
	verifier := verify.NewClient(cfg.Verifier)

	triggerWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.Triggers)
	defer triggerWriter.Close()
	emitter := trigger.NewEmitter(triggerWriter, logger)

	handlers := handler.NewHandlers(paymentRepo, subscriptionRepo, emitter, logger)
	registry := handler.DefaultRegistry(handlers, webhook.Gateways())

	dispatcher := dispatch.NewDispatcher(
		webhookRepo, verifier, normalizer, registry,
		retry.NewPolicy(cfg.Retry), cfg.Dispatcher, logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)

	ingestSvc := ingest.NewService(webhookRepo, normalizer, dispatcher, logger)

	deliveryReader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.Deliveries, cfg.Kafka.Reader.GroupID)
	defer deliveryReader.Close()
	kafka.ReadRawDeliveries(ctx, deliveryReader, ingestSvc, logger)

	statsSvc := stats.NewService(pool)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /statistics", statsSvc.Handler())
	mux.HandleFunc("GET /metrics", metrics.Handler())

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	// drain in-flight processing; anything left PROCESSING is requeued on restart
	dispatcher.Stop()

	logger.Info("Shutdown complete")
	os.Exit(0)
}
