package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Publisher sends index records downstream. A nil Publisher drops them.
type Publisher struct {
	loader  BatchLoader
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Publisher over loader.
func NewPublisher(loader BatchLoader, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{loader: loader, logger: logger, metrics: metrics}
}

// Publish serializes and loads records in one batch.
func (p *Publisher) Publish(ctx context.Context, records []domain.IndexRecord) error {
	if p == nil || len(records) == 0 {
		return nil
	}
	events := make([]domain.OutputEvent, 0, len(records))
	for _, r := range records {
		ev, err := domain.SerializeIndexRecord(r)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	if err := p.loader.LoadBatch(ctx, events); err != nil {
		return fmt.Errorf("publish %d index records: %w", len(events), err)
	}
	p.metrics.RecordsPublished.Add(float64(len(events)))
	p.logger.Info("index records published", "count", len(events), "source", records[0].Source)
	return nil
}
