package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/plantpulse/insight-engine/internal/config"
	"github.com/plantpulse/insight-engine/internal/engine"
	"github.com/plantpulse/insight-engine/internal/httpserver"
	"github.com/plantpulse/insight-engine/internal/lifecycle"
	"github.com/plantpulse/insight-engine/internal/queue"
	"github.com/plantpulse/insight-engine/internal/rules"
	"github.com/plantpulse/insight-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.NewPGStore(db)
	eng := engine.New(st, rules.NewCatalog(), engine.Config{InsightTTL: cfg.InsightTTL})
	lc := lifecycle.NewManager(st, nil)

	var enqueuer httpserver.Enqueuer
	if cfg.Deferred() {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer: %v", err)
		}
		defer producer.Close()
		enqueuer = producer
		log.Printf("insight generation deferred via Kafka topic %q", cfg.KafkaTopic)
	}

	server := httpserver.New(eng, lc, st, enqueuer)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweep(sweepCtx, lc, cfg.SweepInterval)

	go func() {
		log.Printf("Insight service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func runSweep(ctx context.Context, lc *lifecycle.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := lc.SweepExpired(ctx); err != nil {
				log.Printf("expiry sweep: %v", err)
			}
		}
	}
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
