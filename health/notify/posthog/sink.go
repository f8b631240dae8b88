package posthog_sink

import (
	"context"
	"log/slog"

	"github.com/posthog/posthog-go"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// posthogSink reports collection activity as analytics events. Record
// contents never leave the process, only kinds and counts.
type posthogSink struct {
	client     posthog.Client
	distinctID string
	l          *slog.Logger
}

func NewPosthogSink(client posthog.Client, distinctID string, l *slog.Logger) platform.Sink {
	return &posthogSink{client, distinctID, l}
}

var _ platform.Sink = &posthogSink{}

func (n *posthogSink) enqueue(event string, props posthog.Properties) {
	err := n.client.Enqueue(posthog.Capture{
		DistinctId: n.distinctID,
		Event:      event,
		Properties: props,
	})
	if err != nil {
		n.l.Error("failed to enqueue posthog event", "event", event, "err", err)
	}
}

func (n *posthogSink) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	n.enqueue("health_records_collected", posthog.Properties{"type": t.ID(), "count": len(records)})
	return nil
}

func (n *posthogSink) HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error {
	n.enqueue("health_records_deleted", posthog.Properties{"type": t.ID(), "count": len(ids)})
	return nil
}

func (n *posthogSink) OnFullyResyncRequired(ctx context.Context, t models.RecordType) error {
	n.enqueue("health_resync_required", posthog.Properties{"type": t.ID()})
	return nil
}
