package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Manhosu/CineVision-sub001/internal/charge"
	"github.com/Manhosu/CineVision-sub001/internal/config"
	"github.com/Manhosu/CineVision-sub001/internal/delivery"
	"github.com/Manhosu/CineVision-sub001/internal/effects"
	"github.com/Manhosu/CineVision-sub001/internal/events"
	"github.com/Manhosu/CineVision-sub001/internal/oplog"
	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider/mercadopago"
	stripeprov "github.com/Manhosu/CineVision-sub001/internal/reconcile/provider/stripe"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider/woovi"
	"github.com/Manhosu/CineVision-sub001/internal/server"
	"github.com/Manhosu/CineVision-sub001/internal/store/postgres"
	"github.com/Manhosu/CineVision-sub001/internal/worker"
)

func main() {
	cfg, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Common.GetDBURL())
	if err != nil {
		log.Fatalf("could not open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("could not reach database: %v", err)
	}
	if err := postgres.InitSchema(context.Background(), db); err != nil {
		log.Fatalf("could not initialize schema: %v", err)
	}

	store := postgres.NewStore(db, cfg.AccessWindow)
	oplogStore := oplog.NewStore(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Common.RedisAddr})
	counters := effects.NewSalesCounters(rdb, postgres.NewCounterStore(db))

	rabbit, err := delivery.NewClient(cfg.Common.GetRabbitMQURL())
	if err != nil {
		log.Fatalf("could not connect to rabbitmq: %v", err)
	}
	defer rabbit.Close()
	if err := rabbit.CreateQueue(cfg.DeliveryQueue); err != nil {
		log.Fatalf("could not declare delivery queue: %v", err)
	}
	deliveryGW := delivery.NewGateway(rabbit, cfg.DeliveryQueue)

	processors := []provider.Processor{
		stripeprov.New(cfg.StripeWebhookSecret),
		mercadopago.New(cfg.MercadoPagoSecret),
		woovi.New(cfg.WooviWebhookSecret, cfg.AllowUnverified),
	}

	fetchers := map[purchase.Provider]provider.StatusFetcher{
		purchase.ProviderStripe:      stripeprov.NewGateway(cfg.StripeSecretKey),
		purchase.ProviderMercadoPago: mercadopago.NewGateway(cfg.MercadoPagoToken),
		purchase.ProviderWoovi:       woovi.NewGateway(cfg.WooviAppID),
	}

	reconciler := reconcile.New(store, oplogStore, processors)
	for prov, f := range fetchers {
		reconciler.WithFetcher(prov, f)
	}

	if cfg.Common.KafkaBroker != "" {
		producer := events.NewProducer(cfg.Common.KafkaBroker, cfg.Common.KafkaTopic)
		defer producer.Close()
		reconciler.WithPublisher(producer)
	} else {
		log.Println("[Main] KAFKA_BROKER not set, lifecycle events disabled")
	}

	dispatcher := effects.NewDispatcher(counters, deliveryGW, store, oplogStore)
	dispatcher.Start(5)
	defer dispatcher.Stop()

	charges := charge.NewService(store, charge.MerchantInfo{
		PixKey: cfg.PixKey,
		Name:   cfg.MerchantName,
		City:   cfg.MerchantCity,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := worker.NewPoller(store, reconciler, dispatcher, fetchers,
		cfg.PollInterval, cfg.StuckAfter, cfg.PollBatch)
	go poller.Run(ctx)

	srv := server.New(reconciler, dispatcher, charges)
	go func() {
		log.Printf("[Main] payment service listening on %s", cfg.HTTPAddr)
		if err := srv.Run(cfg.HTTPAddr); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[Main] shutdown signal received, draining")
}
