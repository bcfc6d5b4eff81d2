package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/plantpulse/insight-engine/internal/config"
	"github.com/plantpulse/insight-engine/internal/engine"
	"github.com/plantpulse/insight-engine/internal/queue"
	"github.com/plantpulse/insight-engine/internal/rules"
	"github.com/plantpulse/insight-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.Deferred() {
		log.Fatalf("INSIGHT_ENGINE_KAFKA_BROKERS required for the worker")
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

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	}, st, eng)
	if err != nil {
		log.Fatalf("kafka consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Insight worker consuming %q as group %q", cfg.KafkaTopic, cfg.KafkaGroupID)
	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("consumer error: %v", err)
	}
}
