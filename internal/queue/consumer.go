package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/plantpulse/insight-engine/internal/models"
	"github.com/plantpulse/insight-engine/internal/store"
)

// RecordHandler is implemented by the insight engine.
type RecordHandler interface {
	OnProductionRecordSaved(ctx context.Context, rec models.ShiftRecord, machine models.Machine) ([]models.Insight, error)
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads record-saved jobs and runs the event adapter for each one.
// Handling is best-effort: a job that fails is committed anyway and the next
// record save for that machine re-derives the same insights.
type Consumer struct {
	reader  *kafka.Reader
	store   store.Store
	handler RecordHandler
}

func NewConsumer(cfg ConsumerConfig, st store.Store, handler RecordHandler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka: consumer group required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &Consumer{reader: reader, store: st, handler: handler}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.handle(ctx, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("commit offset: %v", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	var job RecordSavedJob
	if err := json.Unmarshal(value, &job); err != nil {
		log.Printf("drop malformed job: %v", err)
		return
	}

	rec, err := c.store.GetShiftRecord(ctx, job.RecordID)
	if err != nil {
		log.Printf("job for record %s: %v", job.RecordID, err)
		return
	}
	machine, err := c.store.GetMachine(ctx, job.MachineID)
	if err != nil {
		log.Printf("job for machine %s: %v", job.MachineID, err)
		return
	}

	insights, err := c.handler.OnProductionRecordSaved(ctx, rec, machine)
	if err != nil {
		log.Printf("insight generation for record %s degraded: %v", rec.ID, err)
		return
	}
	if len(insights) > 0 {
		log.Printf("record %s produced %d insight(s)", rec.ID, len(insights))
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
