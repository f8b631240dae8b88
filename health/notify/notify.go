// Package notify holds sinks that observe collected records without
// storing them, and a sink that fans out to several others.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
	"tangled.sh/tangled.sh/healthsync/log"
)

// LogSink logs every delivery.
type LogSink struct {
	l *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{l: l}
}

var _ platform.Sink = &LogSink{}

func (s *LogSink) logger(ctx context.Context) *slog.Logger {
	if s.l != nil {
		return s.l
	}
	return log.FromContext(ctx)
}

func (s *LogSink) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	s.logger(ctx).Info("new records", "type", t.ID(), "count", len(records))
	return nil
}

func (s *LogSink) HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error {
	s.logger(ctx).Info("deleted records", "type", t.ID(), "count", len(ids))
	return nil
}

func (s *LogSink) OnFullyResyncRequired(ctx context.Context, t models.RecordType) error {
	s.logger(ctx).Warn("full resync required", "type", t.ID())
	return nil
}

type mergedSink struct {
	sinks  []platform.Sink
	logger *slog.Logger
}

// NewMergedSink delivers to every sink concurrently and joins their
// errors.
func NewMergedSink(sinks []platform.Sink, logger *slog.Logger) platform.Sink {
	return &mergedSink{sinks, logger}
}

var _ platform.Sink = &mergedSink{}

func (m *mergedSink) fanout(ctx context.Context, method string, call func(ctx context.Context, s platform.Sink) error) error {
	ctx = log.IntoContext(ctx, m.logger.With("method", method))

	var wg sync.WaitGroup
	errs := make([]error, len(m.sinks))
	for i, s := range m.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = call(ctx, s)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (m *mergedSink) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	return m.fanout(ctx, "HandleNewRecords", func(ctx context.Context, s platform.Sink) error {
		return s.HandleNewRecords(ctx, records, t)
	})
}

func (m *mergedSink) HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error {
	return m.fanout(ctx, "HandleDeletedRecords", func(ctx context.Context, s platform.Sink) error {
		return s.HandleDeletedRecords(ctx, ids, t)
	})
}

func (m *mergedSink) OnFullyResyncRequired(ctx context.Context, t models.RecordType) error {
	return m.fanout(ctx, "OnFullyResyncRequired", func(ctx context.Context, s platform.Sink) error {
		return s.OnFullyResyncRequired(ctx, t)
	})
}
