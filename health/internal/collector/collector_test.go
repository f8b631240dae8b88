package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/healthsync/health/internal/fakes"
	"tangled.sh/tangled.sh/healthsync/health/internal/tokenstore"
	"tangled.sh/tangled.sh/healthsync/health/kv"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

func init() {
	minInterval = 10 * time.Millisecond
}

type harness struct {
	store  *fakes.RecordStore
	sink   *fakes.Sink
	tokens *tokenstore.Store
}

func newHarness() *harness {
	return &harness{
		store:  fakes.NewRecordStore(),
		sink:   &fakes.Sink{},
		tokens: tokenstore.New(&kv.MemoryStore{}),
	}
}

func (h *harness) collector(mode models.CollectionMode, opts ...func(*Config)) *Collector {
	cfg := Config{
		Type:    models.StepsType,
		Setting: models.DeliverySetting{Mode: mode},
		Store:   h.store,
		Tokens:  h.tokens,
		Sink:    h.sink,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func (h *harness) token(t *testing.T) string {
	t.Helper()
	tok, ok, err := h.tokens.Get(context.Background(), models.StepsType)
	require.NoError(t, err)
	require.True(t, ok)
	return tok
}

func steps(id string, start time.Time, count int64) *models.Steps {
	return &models.Steps{
		Metadata: models.Metadata{ID: id},
		Interval: models.Interval{Start: start, End: start.Add(time.Hour)},
		Count:    count,
	}
}

func waitIdle(t *testing.T, c *Collector) {
	t.Helper()
	assert.Eventually(t, func() bool { return !c.Running() }, waitFor, tick)
}

func TestManualCollectorFirstSync(t *testing.T) {
	h := newHarness()
	rec := steps("a", time.Now(), 100)
	h.store.Script("issued-1", &models.ChangesResponse{
		Changes:          []models.Change{models.Upsertion{Record: rec}},
		NextChangesToken: "t2",
	})

	c := h.collector(models.Manual)
	require.True(t, c.Start(context.Background()))
	waitIdle(t, c)

	assert.Equal(t, 1, h.store.TokenCalls())
	assert.Equal(t, "t2", h.token(t))

	added := h.sink.Added()
	require.Len(t, added, 1)
	assert.Equal(t, models.StepsType, added[0].Type)
	assert.Equal(t, []models.Record{rec}, added[0].Records)
	assert.Empty(t, h.sink.Deleted(), "empty batches are not delivered")
	assert.Empty(t, h.sink.Resyncs())
}

func TestTokenAdvancesMonotonically(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.tokens.Set(ctx, models.StepsType, "t1"))
	h.store.Script("t1", &models.ChangesResponse{NextChangesToken: "t2"})
	h.store.Script("t2", &models.ChangesResponse{NextChangesToken: "t3"})
	h.store.Script("t3", &models.ChangesResponse{NextChangesToken: "t4"})

	c := h.collector(models.Manual)
	for _, want := range []string{"t2", "t3", "t4"} {
		_, err := c.SyncOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, h.token(t))
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, h.store.ChangesCalls())
	assert.Equal(t, 0, h.store.TokenCalls())
}

func TestExpiredTokenResyncs(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.tokens.Set(ctx, models.StepsType, "old"))

	stale := steps("stale", time.Now(), 1)
	fresh := steps("fresh", time.Now(), 2)
	h.store.Script("old", &models.ChangesResponse{
		Changes:             []models.Change{models.Upsertion{Record: stale}},
		ChangesTokenExpired: true,
	})
	h.store.Script("issued-1", &models.ChangesResponse{
		Changes:          []models.Change{models.Upsertion{Record: fresh}},
		NextChangesToken: "after-resync",
	})

	c := h.collector(models.Manual)
	_, err := c.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []models.RecordType{models.StepsType}, h.sink.Resyncs())
	assert.Equal(t, 1, h.store.TokenCalls())
	assert.Equal(t, "after-resync", h.token(t))

	added := h.sink.Added()
	require.Len(t, added, 1)
	assert.Equal(t, []models.Record{fresh}, added[0].Records)
	assert.Equal(t, 1, c.Status().Resyncs)
}

func TestFiltersAndDeletions(t *testing.T) {
	h := newHarness()
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	keep := steps("keep", since.Add(time.Hour), 5000)
	tooOld := steps("old", since.Add(-time.Hour), 5000)
	tooSmall := steps("small", since.Add(time.Hour), 10)
	h.store.Script("issued-1", &models.ChangesResponse{
		Changes: []models.Change{
			models.Upsertion{Record: keep},
			models.Upsertion{Record: tooOld},
			models.Deletion{RecordID: "x"},
			models.Upsertion{Record: tooSmall},
			models.Deletion{RecordID: "y"},
		},
		NextChangesToken: "t2",
	})

	c := h.collector(models.Manual, func(cfg *Config) {
		cfg.TimeRange = models.StartingAt(since)
		cfg.Predicate = func(r models.Record) bool { return r.(*models.Steps).Count >= 1000 }
	})
	_, err := c.SyncOnce(context.Background())
	require.NoError(t, err)

	added := h.sink.Added()
	require.Len(t, added, 1)
	assert.Equal(t, []models.Record{keep}, added[0].Records)

	deleted := h.sink.Deleted()
	require.Len(t, deleted, 1)
	assert.Equal(t, []string{"x", "y"}, deleted[0].IDs)
}

func TestNothingDeliveredForEmptyPage(t *testing.T) {
	h := newHarness()
	c := h.collector(models.Manual)
	_, err := c.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.sink.Added())
	assert.Empty(t, h.sink.Deleted())
}

func TestMissingNextTokenFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.tokens.Set(ctx, models.StepsType, "t1"))
	h.store.Script("t1", &models.ChangesResponse{})

	c := h.collector(models.Manual)
	_, err := c.SyncOnce(ctx)
	assert.ErrorIs(t, err, ErrNoNextToken)
	assert.Equal(t, "t1", h.token(t), "token must not be skipped")
}

func TestAutomaticLoopSurvivesErrors(t *testing.T) {
	h := newHarness()
	h.store.ChangesErr = errors.New("platform unavailable")

	c := h.collector(models.Automatic(10 * time.Millisecond))
	require.True(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Eventually(t, func() bool { return len(h.store.ChangesCalls()) >= 3 }, waitFor, tick)
	assert.True(t, c.Running())
	assert.Contains(t, c.Status().LastError, "platform unavailable")
}

type panickingSink struct {
	*fakes.Sink
	panics atomic.Int32
}

func (p *panickingSink) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	if p.panics.Add(1) == 1 {
		panic("sink exploded")
	}
	return p.Sink.HandleNewRecords(ctx, records, t)
}

func TestAutomaticLoopSurvivesPanics(t *testing.T) {
	h := newHarness()
	sink := &panickingSink{Sink: h.sink}
	h.store.Script("issued-1", &models.ChangesResponse{
		Changes:          []models.Change{models.Upsertion{Record: steps("a", time.Now(), 1)}},
		NextChangesToken: "t2",
	})
	h.store.Script("t2", &models.ChangesResponse{
		Changes:          []models.Change{models.Upsertion{Record: steps("b", time.Now(), 1)}},
		NextChangesToken: "t3",
	})

	c := h.collector(models.Automatic(10*time.Millisecond), func(cfg *Config) {
		cfg.Sink = sink
	})
	require.True(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Eventually(t, func() bool { return len(h.sink.Added()) == 1 }, waitFor, tick)
	assert.Equal(t, "b", h.sink.Added()[0].Records[0].Meta().ID)
	assert.True(t, c.Running())
}

func TestAutomaticLoopDrainsPagesWithoutWaiting(t *testing.T) {
	h := newHarness()
	h.store.Script("issued-1", &models.ChangesResponse{
		Changes:          []models.Change{models.Deletion{RecordID: "1"}},
		NextChangesToken: "t2",
		HasMore:          true,
	})
	h.store.Script("t2", &models.ChangesResponse{
		Changes:          []models.Change{models.Deletion{RecordID: "2"}},
		NextChangesToken: "t3",
	})

	c := h.collector(models.Automatic(time.Hour))
	require.True(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Eventually(t, func() bool { return len(h.sink.Deleted()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"issued-1", "t2"}, h.store.ChangesCalls())
}

func TestStartIsIdempotentAndStopResumes(t *testing.T) {
	h := newHarness()
	h.store.Script("issued-1", &models.ChangesResponse{NextChangesToken: "t2"})
	h.store.Script("t2", &models.ChangesResponse{NextChangesToken: "t2"})

	c := h.collector(models.Automatic(time.Hour))
	require.True(t, c.Start(context.Background()))
	assert.False(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(h.store.ChangesCalls()) == 1 }, waitFor, tick)
	c.Stop()
	assert.False(t, c.Running())
	assert.Equal(t, "t2", h.token(t))

	require.True(t, c.Start(context.Background()))
	defer c.Stop()
	assert.Eventually(t, func() bool { return len(h.store.ChangesCalls()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"issued-1", "t2"}, h.store.ChangesCalls())
	assert.Equal(t, 1, h.store.TokenCalls())
}

func TestStopWithoutStart(t *testing.T) {
	c := newHarness().collector(models.Manual)
	c.Stop()
	assert.False(t, c.Running())
}

func TestIntervalIsClamped(t *testing.T) {
	c := newHarness().collector(models.Automatic(0))
	assert.Equal(t, minInterval, c.Setting().Mode.Interval())
}

var _ platform.Sink = (*panickingSink)(nil)
