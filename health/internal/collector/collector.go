// Package collector runs the incremental sync of one record type against
// the platform change feed.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"tangled.sh/tangled.sh/healthsync/health/internal/changefeed"
	"tangled.sh/tangled.sh/healthsync/health/internal/tokenstore"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
	"tangled.sh/tangled.sh/healthsync/log"
)

// minInterval is the shortest polling interval an automatic collector uses.
var minInterval = time.Second

var ErrNoNextToken = errors.New("changes response carried no next token")

type Config struct {
	Type      models.RecordType
	Setting   models.DeliverySetting
	TimeRange models.TimeRange
	Predicate models.Predicate
	Store     platform.RecordStore
	Tokens    *tokenstore.Store
	Sink      platform.Sink
	Logger    *slog.Logger
}

// Status is a point-in-time view of a collector.
type Status struct {
	Type      models.RecordType
	Setting   models.DeliverySetting
	TimeRange models.TimeRange
	Running   bool
	LastSync  time.Time
	LastError string
	Resyncs   int
	Delivered int
	Deletions int
}

// Collector owns the sync of one record type. At most one sync attempt is
// in flight per collector; the goroutine started by Start is the only
// caller of SyncOnce while the collector is running.
type Collector struct {
	cfg Config
	l   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	retired bool
	status  Status
}

func New(cfg Config) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = log.New("collector")
	}
	if cfg.Setting.Mode.IsAutomatic() && cfg.Setting.Mode.Interval() < minInterval {
		cfg.Setting.Mode = models.Automatic(minInterval)
	}
	return &Collector{
		cfg: cfg,
		l:   cfg.Logger.With("type", cfg.Type.ID(), "mode", cfg.Setting.Mode.String()),
		status: Status{
			Type:      cfg.Type,
			Setting:   cfg.Setting,
			TimeRange: cfg.TimeRange,
		},
	}
}

func (c *Collector) Type() models.RecordType {
	return c.cfg.Type
}

func (c *Collector) Setting() models.DeliverySetting {
	return c.cfg.Setting
}

func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Running = c.done != nil
	return s
}

// Start launches the collection task unless one is already running or the
// collector was retired, and reports whether it did. Manual collectors run
// one attempt and go idle; automatic ones poll until Stop or ctx is done.
func (c *Collector) Start(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.retired {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer func() {
			c.mu.Lock()
			if c.done == done {
				c.cancel, c.done = nil, nil
			}
			c.mu.Unlock()
			cancel()
			close(done)
		}()

		if c.cfg.Setting.Mode.IsAutomatic() {
			c.poll(ctx)
			return
		}
		if _, err := c.attempt(ctx); err != nil && ctx.Err() == nil {
			c.l.Error("manual sync failed", "err", err)
		}
	}()

	c.l.Debug("collection started")
	return true
}

// Stop cancels the running task and waits for it to exit. The stored token
// is left untouched, so the next Start resumes where this one stopped.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.l.Debug("collection stopped")
}

// retire stops the collector for good. Start refuses a retired collector,
// so a caller holding a stale reference cannot revive it next to its
// replacement.
func (c *Collector) retire() {
	c.mu.Lock()
	c.retired = true
	c.mu.Unlock()
	c.Stop()
}

// Retired reports whether the registry has replaced or removed c.
func (c *Collector) Retired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

func (c *Collector) poll(ctx context.Context) {
	interval := c.cfg.Setting.Mode.Interval()

	for {
		var hasMore bool
		err := retry.Do(
			func() error {
				more, err := c.attempt(ctx)
				hasMore = more
				return err
			},
			retry.Context(ctx),
			retry.Attempts(0), // never give up
			retry.DelayType(retry.FixedDelay),
			retry.Delay(interval),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				c.l.Error("sync attempt failed, retrying", "attempt", n+1, "in", interval, "err", err)
			}),
		)
		if err != nil {
			// retry only gives up once ctx is done
			return
		}

		if hasMore {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// attempt wraps SyncOnce so that a panic inside one attempt is reported as
// an error instead of killing the loop.
func (c *Collector) attempt(ctx context.Context) (hasMore bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync: %v", r)
		}
		if err != nil {
			c.mu.Lock()
			c.status.LastError = err.Error()
			c.mu.Unlock()
		}
	}()
	return c.SyncOnce(ctx)
}

// SyncOnce performs one sync attempt: resolve the stored token (issuing and
// persisting one if absent), fetch changes (resyncing on expiry), persist
// the next token, then deliver the filtered batch. hasMore reports that the
// feed has further pages ready.
func (c *Collector) SyncOnce(ctx context.Context) (hasMore bool, err error) {
	t := c.cfg.Type

	token, ok, err := c.cfg.Tokens.Get(ctx, t)
	if err != nil {
		return false, fmt.Errorf("failed to read changes token: %w", err)
	}
	if !ok {
		token, err = changefeed.Issue(ctx, c.cfg.Store, t)
		if err != nil {
			return false, err
		}
		if err := c.cfg.Tokens.Set(ctx, t, token); err != nil {
			return false, fmt.Errorf("failed to persist changes token: %w", err)
		}
		c.l.Debug("issued first changes token")
	}

	resp, resynced, err := changefeed.Fetch(ctx, c.cfg.Store, t, token, changefeed.Hooks{
		Expired: func(ctx context.Context) error {
			c.l.Warn("changes token expired, full resync required")
			if err := c.cfg.Sink.OnFullyResyncRequired(ctx, t); err != nil {
				c.l.Error("resync callback failed", "err", err)
			}
			if err := c.cfg.Tokens.Delete(ctx, t); err != nil {
				return fmt.Errorf("failed to delete expired changes token: %w", err)
			}
			return nil
		},
		Issued: func(ctx context.Context, token string) error {
			if err := c.cfg.Tokens.Set(ctx, t, token); err != nil {
				return fmt.Errorf("failed to persist changes token: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}

	if resp.NextChangesToken == "" {
		return false, ErrNoNextToken
	}
	if err := c.cfg.Tokens.Set(ctx, t, resp.NextChangesToken); err != nil {
		return false, fmt.Errorf("failed to persist changes token: %w", err)
	}

	added, deleted := c.deliver(ctx, resp.Changes)

	c.mu.Lock()
	c.status.LastSync = time.Now()
	c.status.LastError = ""
	c.status.Delivered += added
	c.status.Deletions += deleted
	if resynced {
		c.status.Resyncs++
	}
	c.mu.Unlock()

	return resp.HasMore, nil
}

func (c *Collector) accept(r models.Record) bool {
	return c.cfg.Predicate.Match(r) && c.cfg.TimeRange.Accepts(r)
}

// deliver hands the kept upserts and all deletions to the sink, one batch
// each, skipping empty batches. Sink failures are logged only: the token
// has already moved past these changes.
func (c *Collector) deliver(ctx context.Context, changes []models.Change) (int, int) {
	added, deleted := models.Partition(changes, c.accept)

	if len(added) > 0 {
		if err := c.cfg.Sink.HandleNewRecords(ctx, added, c.cfg.Type); err != nil {
			c.l.Error("failed to deliver new records", "count", len(added), "err", err)
		}
	}
	if len(deleted) > 0 {
		if err := c.cfg.Sink.HandleDeletedRecords(ctx, deleted, c.cfg.Type); err != nil {
			c.l.Error("failed to deliver deleted records", "count", len(deleted), "err", err)
		}
	}

	if len(added)+len(deleted) > 0 {
		c.l.Info("delivered changes", "added", len(added), "deleted", len(deleted))
	}
	return len(added), len(deleted)
}
