package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/ingest/internal/alerting"
	"github.com/lightwatch/lightwatch/ingest/internal/dlq"
	"github.com/lightwatch/lightwatch/ingest/internal/metrics"
	"github.com/lightwatch/lightwatch/ingest/internal/normalizer"
	"github.com/lightwatch/lightwatch/ingest/internal/storage"
	"github.com/lightwatch/lightwatch/ingest/internal/validator"
)

// Sink names used in UpstreamError.
const (
	SinkStore  = dlq.SinkStore
	SinkBroker = dlq.SinkBroker
	SinkBoth   = "store+broker"
)

// Pipeline runs the gate-independent part of ingestion: validation,
// normalization and the dual write to store and broker.
type Pipeline struct {
	store      storage.DocumentStore
	broker     messaging.Appender
	normalizer *normalizer.Normalizer
	dlq        dlq.Queue
	alerts     *alerting.Evaluator
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithDLQ records dual-write gaps to q.
func WithDLQ(q dlq.Queue) Option {
	return func(p *Pipeline) { p.dlq = q }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a Pipeline writing to store and broker.
func New(store storage.DocumentStore, broker messaging.Appender, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		broker: broker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalizer == nil {
		p.normalizer = normalizer.New()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// SetAlertEvaluator evaluates accepted metrics against e. The evaluator
// writes its alerts back through this pipeline.
func (p *Pipeline) SetAlertEvaluator(e *alerting.Evaluator) {
	p.alerts = e
}

// Ingest validates, normalizes and dual-writes one event. The returned error
// is a *ValidationError or an *UpstreamError.
func (p *Pipeline) Ingest(ctx context.Context, category models.Category, payload any) (*models.Event, error) {
	if category == models.CategoryHeartbeat {
		return nil, fmt.Errorf("heartbeats are not events: use Heartbeat")
	}

	ev, err := p.prepare(category, payload)
	if err != nil {
		return nil, err
	}

	if err := p.WriteEvent(ctx, ev); err != nil {
		return nil, err
	}

	if category == models.CategoryMetric {
		p.alerts.Observe(ctx, ev)
	}
	return ev, nil
}

// Heartbeat validates a heartbeat and upserts the service's liveness record.
// Nothing is published to the broker.
func (p *Pipeline) Heartbeat(ctx context.Context, payload any) (*models.ServiceRecord, error) {
	ev, err := p.prepare(models.CategoryHeartbeat, payload)
	if err != nil {
		return nil, err
	}

	rec := serviceRecord(ev)
	start := time.Now()
	err = p.store.UpsertOne(ctx, models.CollectionServices, "name", rec.Name, rec.SetFields(), rec.InsertFields())
	metrics.StoreDuration.WithLabelValues(models.CollectionServices).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(models.CollectionServices).Inc()
		p.logger.ErrorContext(ctx, "heartbeat upsert failed",
			logging.Service(rec.Name),
			logging.Error(err))
		return nil, &UpstreamError{Sink: SinkStore, Err: err}
	}
	return rec, nil
}

func (p *Pipeline) prepare(category models.Category, payload any) (*models.Event, error) {
	if errs := validator.Validate(category, payload); len(errs) > 0 {
		return nil, &ValidationError{Details: errs}
	}

	// Validate guarantees an object.
	obj := payload.(map[string]any)
	ev, err := p.normalizer.Normalize(category, obj)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", category, err)
	}
	return ev, nil
}

// WriteEvent inserts ev into its collection and appends it to its stream.
// Both writes are always attempted; a failure on either side is returned as
// an *UpstreamError and nothing is rolled back.
func (p *Pipeline) WriteEvent(ctx context.Context, ev *models.Event) error {
	collection := ev.Category.Collection()
	stream, ok := ev.Category.Stream()
	if collection == "" || !ok {
		return fmt.Errorf("category %q has no stream", ev.Category)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var (
		wg                  sync.WaitGroup
		storeErr, brokerErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		storeErr = p.store.InsertOne(ctx, collection, ev.Document())
		metrics.StoreDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		_, brokerErr = p.broker.Append(ctx, stream, data)
		metrics.BrokerDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	}()
	wg.Wait()

	if storeErr == nil && brokerErr == nil {
		return nil
	}

	log := p.logger.With(logging.EventID(ev.EventID), logging.Category(string(ev.Category)))
	var sink string
	switch {
	case storeErr != nil && brokerErr != nil:
		sink = SinkBoth
	case storeErr != nil:
		sink = SinkStore
	default:
		sink = SinkBroker
	}

	if storeErr != nil {
		metrics.StoreErrors.WithLabelValues(collection).Inc()
		log.ErrorContext(ctx, "store insert failed", slog.String("collection", collection), logging.Error(storeErr))
		p.deadLetter(ctx, ev, SinkStore, storeErr)
	}
	if brokerErr != nil {
		metrics.BrokerErrors.WithLabelValues(stream).Inc()
		log.ErrorContext(ctx, "stream append failed", logging.Stream(stream), logging.Error(brokerErr))
		p.deadLetter(ctx, ev, SinkBroker, brokerErr)
	}
	if sink != SinkBoth {
		metrics.DualWriteGaps.WithLabelValues(sink).Inc()
		log.WarnContext(ctx, "dual write inconsistency: event reached only one sink", slog.String("failed_sink", sink))
	}

	return &UpstreamError{Sink: sink, Err: errors.Join(storeErr, brokerErr)}
}

func (p *Pipeline) deadLetter(ctx context.Context, ev *models.Event, sink string, cause error) {
	if p.dlq == nil {
		return
	}
	if err := p.dlq.Write(ctx, dlq.NewFailedEvent(ev, sink, cause)); err != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		p.logger.ErrorContext(ctx, "dlq write failed", logging.EventID(ev.EventID), logging.Error(err))
		return
	}
	metrics.DLQWrites.WithLabelValues("ok").Inc()
}

func serviceRecord(ev *models.Event) *models.ServiceRecord {
	rec := &models.ServiceRecord{
		Name:          ev.Service,
		Host:          ev.String("host"),
		Status:        ev.String("status"),
		Version:       ev.String("version"),
		LastHeartbeat: ev.ReceivedAt,
		CreatedAt:     ev.ReceivedAt,
	}
	if rec.Status == "" {
		rec.Status = models.StatusHealthy
	}
	if meta, ok := ev.Fields["meta"].(map[string]any); ok {
		rec.Meta = meta
	}
	if tags, ok := ev.Fields["tags"].(map[string]any); ok {
		rec.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			rec.Tags[k], _ = v.(string)
		}
	}
	return rec
}

var _ alerting.EventWriter = (*Pipeline)(nil)
