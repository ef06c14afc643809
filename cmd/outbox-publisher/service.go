package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	outcomePublished    = "published"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type relayMetrics interface {
	IncOutcome(eventType, outcome string)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the notification relay.
type RelayParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	DLQRepository    dlqRepository
	Registry         registryResolver
	Metrics          relayMetrics
	PublisherFactory publisherFactory
}

// Relay drains queued notifications from the outbox onto Pub/Sub. Rows that can
// never be delivered, or that ran out of attempts, move to the dead-letter table.
type Relay struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	repo         outboxRepository
	dlq          dlqRepository
	registry     registryResolver
	metrics      relayMetrics
	publishers   publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

type nopRelayMetrics struct{}

func (nopRelayMetrics) IncOutcome(string, string) {}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}
	var metrics relayMetrics = nopRelayMetrics{}
	if params.Metrics != nil {
		metrics = params.Metrics
	}

	outboxCfg := params.Config.Outbox
	return &Relay{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		dlq:          params.DLQRepository,
		registry:     params.Registry,
		metrics:      metrics,
		publishers:   factory,
		batchSize:    positiveOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(outboxCfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (r *Relay) ready(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", r.db.Ping},
		{"pubsub", r.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			r.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled. Batch errors back off exponentially; an empty
// batch waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		drained, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
		case drained:
			backoff = r.pollInterval
		default:
			backoff = r.pollInterval
			if err := sleep(ctx, withJitter(r.pollInterval)); err != nil {
				return err
			}
		}
	}
}

// drain handles one batch inside a transaction; it reports whether any rows were found.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	found := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		found = len(events) > 0
		for _, event := range events {
			if err := r.relay(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return found, err
}

// relay delivers one row and records the result. Only bookkeeping failures are returned.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["topic"] = resolved.Descriptor.Topic
	fields["event_id"] = resolved.Envelope.EventID

	err = r.publish(ctx, event, resolved)
	if err == nil {
		if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.metrics.IncOutcome(string(event.EventType), outcomePublished)
		r.logg.Debug(r.logg.WithFields(ctx, fields), "notification published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), fields)
	}

	r.logg.WarnErr(r.logg.WithFields(ctx, fields), "notification publish failed, will retry", err)
	if err := r.repo.MarkFailedTx(tx, event.ID, err); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	r.metrics.IncOutcome(string(event.EventType), outcomeRetried)
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	r.logg.WarnErr(r.logg.WithFields(ctx, fields), "notification dead-lettered", cause)

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.IncOutcome(string(event.EventType), outcomeDeadLettered)
	return nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved),
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// messageAttributes carries the routing keys subscribers filter on: the event and
// who the notification is addressed to.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if recipient, ok := recipientOf(resolved.Payload); ok {
		attrs["recipient_role"] = string(recipient.Role)
		if recipient.ID != nil {
			attrs["recipient_id"] = recipient.ID.String()
		}
	}
	return attrs
}

func recipientOf(payload any) (payloads.Recipient, bool) {
	switch p := payload.(type) {
	case *payloads.ApplicationEvent:
		return p.Recipient, true
	case *payloads.QuoteEvent:
		return p.Recipient, true
	case *payloads.QuoteWindowEvent:
		return p.Recipient, true
	case *payloads.ClaimDecisionEvent:
		return p.Recipient, true
	}
	return payloads.Recipient{}, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
