package health

import (
	"context"
	"slices"
	"time"

	"tangled.sh/tangled.sh/healthsync/health/internal/changefeed"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// maxPageSize is the largest page a snapshot query asks the platform for.
const maxPageSize = 5000

const defaultQueryInterval = time.Minute

func (c *DefaultClient) Insert(ctx context.Context, records ...models.Record) bool {
	if len(records) == 0 {
		return true
	}

	granted := c.grantedPermissions(ctx)
	for _, r := range records {
		t := models.From(r)
		if !granted[t.WritePermission] {
			c.l.Warn("not authorized to write, insert skipped", "type", t.ID())
			return false
		}
	}

	ids, err := c.store.InsertRecords(ctx, records)
	if err != nil {
		c.l.Error("failed to insert records", "count", len(records), "err", err)
		return false
	}
	c.l.Debug("inserted records", "count", len(ids))
	return true
}

// Query reads at most one platform page of q.Type, applies the predicate,
// sorts and truncates to q.Limit.
func (c *DefaultClient) Query(ctx context.Context, q SnapshotQuery) []models.Record {
	if !c.IsAuthorizedToRead(ctx, q.Type) {
		c.l.Warn("not authorized to read, returning no records", "type", q.Type.ID())
		return []models.Record{}
	}

	records, err := c.store.ReadRecords(ctx, platform.ReadRequest{
		Type:        q.Type,
		Window:      q.Window,
		DataOrigins: q.DataOrigins,
		PageSize:    maxPageSize,
	})
	if err != nil {
		c.l.Error("failed to read records", "type", q.Type.ID(), "err", err)
		return []models.Record{}
	}

	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if q.Predicate.Match(r) {
			out = append(out, r)
		}
	}

	sortByStart(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sortByStart(records []models.Record, order models.SortOrder) {
	if order == models.Unsorted {
		return
	}
	slices.SortStableFunc(records, func(a, b models.Record) int {
		at, _ := a.StartTime()
		bt, _ := b.StartTime()
		if order == models.Descending {
			return bt.Compare(at)
		}
		return at.Compare(bt)
	})
}

// QueryChanges returns the changes of q.Type since q.Anchor, issuing a new
// anchor when none is given. An expired anchor is replaced transparently.
func (c *DefaultClient) QueryChanges(ctx context.Context, q AnchoredQuery) models.QueryResult[models.Record] {
	var empty models.QueryResult[models.Record]
	l := c.l.With("type", q.Type.ID())

	if !c.IsAuthorizedToRead(ctx, q.Type) {
		l.Warn("not authorized to read, returning no changes")
		return empty
	}

	var token string
	if q.Anchor != nil && *q.Anchor != "" {
		token = *q.Anchor
	} else {
		var err error
		if token, err = changefeed.Issue(ctx, c.store, q.Type); err != nil {
			l.Error("failed to issue anchor", "err", err)
			return empty
		}
	}

	resp, _, err := changefeed.Fetch(ctx, c.store, q.Type, token, changefeed.Hooks{
		Expired: func(context.Context) error {
			l.Warn("anchor expired, restarting from a fresh anchor")
			return nil
		},
	})
	if err != nil {
		l.Error("failed to query changes", "err", err)
		return empty
	}

	added, deleted := models.Partition(resp.Changes, func(r models.Record) bool {
		return q.Predicate.Match(r) && q.Window.Contains(r)
	})
	res := models.QueryResult[models.Record]{
		Added:      added,
		DeletedIDs: deleted,
	}
	if resp.NextChangesToken != "" {
		next := resp.NextChangesToken
		res.NextAnchor = &next
	}
	return res
}

// ContinuousQuery polls QueryChanges every q.Interval, threading its own
// anchor, and sends the non-empty results. The channel is closed once ctx
// is done or the client shuts down.
func (c *DefaultClient) ContinuousQuery(ctx context.Context, q ContinuousQuery) <-chan models.QueryResult[models.Record] {
	out := make(chan models.QueryResult[models.Record])

	interval := q.Interval
	if interval <= 0 {
		interval = defaultQueryInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)

	go func() {
		defer close(out)
		defer stop()
		defer cancel()

		anchor := q.Anchor
		for {
			res := c.QueryChanges(ctx, AnchoredQuery{
				Type:      q.Type,
				Window:    q.Window,
				Anchor:    anchor,
				Predicate: q.Predicate,
			})
			if res.NextAnchor != nil {
				anchor = res.NextAnchor
			}

			if !res.IsEmpty() {
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	return out
}
