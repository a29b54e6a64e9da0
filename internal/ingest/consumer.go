package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"merchant-guard/internal/config"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/service"
)

const source = "kafka"

// Envelope is the upstream wire format of one store event.
type Envelope struct {
	StoreID    string          `json:"store_id"`
	EventType  string          `json:"event_type"`
	Payload    domain.Document `json:"payload"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
}

// Decode parses an envelope into an event draft. fallback stamps drafts without received_at.
func Decode(value []byte, fallback time.Time) (eventlog.Draft, error) {
	return DecodeFor(value, uuid.Nil, fallback)
}

// DecodeFor is Decode with a store assumed for envelopes that omit store_id.
func DecodeFor(value []byte, defaultStore uuid.UUID, fallback time.Time) (eventlog.Draft, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return eventlog.Draft{}, &domain.ValidationError{Entity: "envelope", Field: "body", Reason: "is not valid json"}
	}
	storeID := defaultStore
	if raw := strings.TrimSpace(env.StoreID); raw != "" || defaultStore == uuid.Nil {
		id, err := uuid.Parse(raw)
		if err != nil {
			return eventlog.Draft{}, &domain.ValidationError{Entity: "envelope", Field: "store_id", Reason: "must be a uuid"}
		}
		storeID = id
	}
	eventType, err := domain.ParseEventType(env.EventType)
	if err != nil {
		return eventlog.Draft{}, err
	}
	draft := eventlog.Draft{
		StoreID:    storeID,
		Type:       eventType,
		Payload:    env.Payload,
		ReceivedAt: fallback,
		Source:     source,
	}
	if env.ReceivedAt != nil {
		draft.ReceivedAt = env.ReceivedAt.UTC()
	}
	return draft, nil
}

// Ingester is the pipeline entry point the consumer feeds.
type Ingester interface {
	Ingest(ctx context.Context, draft eventlog.Draft, opts service.IngestOptions) (service.IngestResult, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader builds a consumer-group reader from configuration.
func NewReader(cfg config.KafkaConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	}), nil
}

// ConsumerOptions tune message handling.
type ConsumerOptions struct {
	Stages       service.IngestOptions
	MaxRetries   int
	RetryBackoff time.Duration
}

// ConsumerStats counts handled messages.
type ConsumerStats struct {
	Ingested uint64
	Rejected uint64
	Failed   uint64
}

// Consumer feeds Kafka envelopes into the pipeline, committing each message once handled.
type Consumer struct {
	reader   MessageReader
	ingester Ingester
	opts     ConsumerOptions
	logger   zerolog.Logger

	ingested atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
}

// NewConsumer constructs a Consumer.
func NewConsumer(reader MessageReader, ingester Ingester, opts ConsumerOptions, logger zerolog.Logger) *Consumer {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{
		reader:   reader,
		ingester: ingester,
		opts:     opts,
		logger:   logger.With().Str("component", "kafka_consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close kafka reader")
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Ingested: c.ingested.Load(),
		Rejected: c.rejected.Load(),
		Failed:   c.failed.Load(),
	}
}

// handle never returns an error: rejected messages are logged and skipped, storage failures
// are retried with backoff and then dropped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := c.logger.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	fallback := msg.Time
	if fallback.IsZero() {
		fallback = time.Now().UTC()
	}
	draft, err := Decode(msg.Value, fallback)
	if err != nil {
		c.rejected.Add(1)
		metrics.EventsRejected.WithLabelValues(source, "decode").Inc()
		log.Warn().Err(err).Msg("discarding undecodable message")
		return
	}

	backoff := c.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		_, err = c.ingester.Ingest(ctx, draft, c.opts.Stages)
		if err == nil {
			c.ingested.Add(1)
			return
		}
		if permanent(err) {
			c.rejected.Add(1)
			log.Warn().Err(err).Str("store_id", draft.StoreID.String()).Msg("discarding rejected event")
			return
		}
		if attempt >= c.opts.MaxRetries || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying event ingestion")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
		}
	}

	c.failed.Add(1)
	log.Error().Err(err).Str("store_id", draft.StoreID.String()).Msg("event ingestion failed")
}

func permanent(err error) bool {
	var invalid *domain.ValidationError
	return errors.As(err, &invalid) || errors.Is(err, domain.ErrNotFound)
}
