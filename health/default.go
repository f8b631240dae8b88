package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"tangled.sh/tangled.sh/healthsync/health/internal/collector"
	"tangled.sh/tangled.sh/healthsync/health/internal/queue"
	"tangled.sh/tangled.sh/healthsync/health/internal/tokenstore"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
	"tangled.sh/tangled.sh/healthsync/log"
)

const mainQueueSize = 64

var (
	ErrNoPermissionController = errors.New("no permission controller configured")
	ErrNoKeyValueStore        = errors.New("no key-value store configured")
)

// DefaultClient is the Client backed by a real record store.
type DefaultClient struct {
	store       platform.RecordStore
	permissions platform.PermissionController
	tokens      *tokenstore.Store
	sink        platform.Sink
	components  []Component
	l           *slog.Logger

	// ctx bounds every background task and collector of the client.
	ctx     context.Context
	cancel  context.CancelFunc
	tasksMu sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	// main runs permission flows and authorization updates in order.
	main *queue.Queue

	state        atomic.Int32
	mu           sync.RWMutex
	requirements models.AccessRequirements

	authorized *AuthState
	collectors *collector.Registry
}

var _ Client = (*DefaultClient)(nil)
var _ Registrar = (*DefaultClient)(nil)

func NewDefaultClient(ctx context.Context, opts Options) (*DefaultClient, error) {
	if opts.Store == nil {
		return nil, platform.ErrUnavailable
	}
	if opts.Permissions == nil {
		return nil, ErrNoPermissionController
	}
	if opts.KV == nil {
		return nil, ErrNoKeyValueStore
	}

	l := opts.Logger
	if l == nil {
		l = log.New("health")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &DefaultClient{
		store:       opts.Store,
		permissions: opts.Permissions,
		tokens:      tokenstore.New(opts.KV),
		sink:        opts.Sink,
		components:  opts.Components,
		l:           l,
		ctx:         ctx,
		cancel:      cancel,
		main:        queue.NewQueue(mainQueueSize),
		authorized:  newAuthState(),
		collectors:  collector.NewRegistry(),
	}
	c.main.Start(ctx)

	return c, nil
}

// Configure computes the access requirements synchronously, so that a
// permission request issued right after it sees them, and leaves the rest
// to a background task.
func (c *DefaultClient) Configure() {
	if !c.state.CompareAndSwap(int32(Pending), int32(Ongoing)) {
		c.l.Debug("configure already called", "state", c.ConfigurationState())
		return
	}

	var req models.AccessRequirements
	for _, comp := range c.components {
		req = req.Plus(comp.Requirements())
	}
	c.mu.Lock()
	c.requirements = req
	c.mu.Unlock()

	c.l.Info("configuring health client", "components", len(c.components), "permissions", len(req.Permissions()))

	c.background("configure", func(ctx context.Context) {
		defer c.state.Store(int32(Completed))

		c.refreshAuthorization()
		for _, comp := range c.components {
			comp.Configure(ctx, c)
		}
		c.l.Info("health client configured", "collectors", len(c.collectors.All()))
	})
}

func (c *DefaultClient) ConfigurationState() State {
	return State(c.state.Load())
}

func (c *DefaultClient) DataAccessRequirements() models.AccessRequirements {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requirements
}

func (c *DefaultClient) FullyAuthorized() *AuthState {
	return c.authorized
}

// Sink implements Registrar.
func (c *DefaultClient) Sink() platform.Sink {
	return c.sink
}

// Logger implements Registrar.
func (c *DefaultClient) Logger() *slog.Logger {
	return c.l
}

// RegisterCollector implements Registrar. It applies the merge policy and
// starts the collector right away when it is automatic and readable.
func (c *DefaultClient) RegisterCollector(ctx context.Context, spec CollectorSpec) {
	if c.sink == nil {
		c.l.Warn("no sink configured, collector not registered", "type", spec.Type.ID())
		return
	}

	col := collector.New(collector.Config{
		Type:      spec.Type,
		Setting:   spec.Setting,
		TimeRange: spec.TimeRange,
		Predicate: spec.Predicate,
		Store:     c.store,
		Tokens:    c.tokens,
		Sink:      c.sink,
		Logger:    log.SubLogger(c.l, "collector"),
	})

	action := c.collectors.Register(col)
	c.l.Info("collector registration", "type", spec.Type.ID(), "mode", spec.Setting.Mode, "background", spec.Setting.ContinueInBackground, "action", action)

	if action == collector.Ignore {
		return
	}
	if spec.Setting.Mode.IsAutomatic() && c.IsAuthorizedToRead(ctx, spec.Type) {
		c.startCollector(col)
	}
}

func (c *DefaultClient) OnPermissionsGranted(granted []string) {
	c.l.Info("permissions granted", "permissions", granted)
	c.refreshAuthorization()

	c.background("permissions granted", func(ctx context.Context) {
		for _, col := range c.collectors.All() {
			if !col.Setting().Mode.IsAutomatic() {
				continue
			}
			if !slices.Contains(granted, col.Type().ReadPermission) {
				continue
			}
			c.startCollector(col)
		}
	})
}

func (c *DefaultClient) RequestPermissionsIfNeeded(requester platform.PermissionRequester) {
	c.requestMissing(requester, c.DataAccessRequirements().Permissions())
}

func (c *DefaultClient) RequestReadPermission(t models.RecordType, requester platform.PermissionRequester) {
	c.requestMissing(requester, []string{t.ReadPermission})
}

func (c *DefaultClient) RequestWritePermission(t models.RecordType, requester platform.PermissionRequester) {
	c.requestMissing(requester, []string{t.WritePermission})
}

// requestMissing asks requester for the part of wanted that is not granted
// yet. Nothing is asked when that part is empty.
func (c *DefaultClient) requestMissing(requester platform.PermissionRequester, wanted []string) {
	ok := c.main.Enqueue(queue.Job{
		Run: func(ctx context.Context) error {
			granted := c.grantedPermissions(ctx)

			var delta []string
			for _, p := range wanted {
				if !granted[p] && !slices.Contains(delta, p) {
					delta = append(delta, p)
				}
			}
			if len(delta) == 0 {
				c.l.Debug("all requested permissions already granted")
				return nil
			}

			c.l.Info("requesting permissions", "permissions", delta)
			got, err := requester.RequestPermissions(ctx, delta)
			if err != nil {
				return fmt.Errorf("permission request failed: %w", err)
			}
			if len(got) > 0 {
				c.OnPermissionsGranted(got)
			}
			return nil
		},
		OnFail: func(err error) {
			c.l.Error("failed to request permissions", "err", err)
		},
	})
	if !ok {
		c.l.Warn("main queue unavailable, permission request dropped")
	}
}

func (c *DefaultClient) IsAuthorizedToRead(ctx context.Context, t models.RecordType) bool {
	return c.grantedPermissions(ctx)[t.ReadPermission]
}

func (c *DefaultClient) IsAuthorizedToWrite(ctx context.Context, t models.RecordType) bool {
	return c.grantedPermissions(ctx)[t.WritePermission]
}

// grantedPermissions never fails: a platform error yields the empty set.
func (c *DefaultClient) grantedPermissions(ctx context.Context) map[string]bool {
	perms, err := c.permissions.GetGrantedPermissions(ctx)
	if err != nil {
		c.l.Warn("failed to get granted permissions, treating as none granted", "err", err)
		return map[string]bool{}
	}

	granted := make(map[string]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	return granted
}

// refreshAuthorization recomputes the fully authorized flag on the main
// queue.
func (c *DefaultClient) refreshAuthorization() {
	ok := c.main.Enqueue(queue.Job{
		Run: func(ctx context.Context) error {
			granted := c.grantedPermissions(ctx)
			missing := 0
			for _, p := range c.DataAccessRequirements().Permissions() {
				if !granted[p] {
					missing++
				}
			}
			c.authorized.set(missing == 0)
			c.l.Debug("authorization refreshed", "missing", missing)
			return nil
		},
	})
	if !ok {
		c.l.Warn("main queue unavailable, authorization not refreshed")
	}
}

func (c *DefaultClient) TriggerCollection(t models.RecordType) {
	col, ok := c.collectors.Get(t)
	if !ok {
		c.l.Warn("no collector registered", "type", t.ID())
		return
	}

	c.background("trigger collection", func(ctx context.Context) {
		if !c.IsAuthorizedToRead(ctx, t) {
			c.l.Warn("not authorized to read, collection not triggered", "type", t.ID())
			return
		}
		c.startCollector(col)
	})
}

func (c *DefaultClient) ResetRecordCollection(t models.RecordType) {
	c.background("reset collection", func(ctx context.Context) {
		removed := c.collectors.Remove(t)
		if err := c.tokens.Delete(ctx, t); err != nil {
			c.l.Error("failed to delete changes token", "type", t.ID(), "err", err)
			return
		}
		c.l.Info("record collection reset", "type", t.ID(), "collectors", len(removed))
	})
}

func (c *DefaultClient) Collectors() []CollectorStatus {
	all := c.collectors.All()
	out := make([]CollectorStatus, 0, len(all))
	for _, col := range all {
		s := col.Status()
		out = append(out, CollectorStatus{
			Type:                 s.Type,
			Mode:                 s.Setting.Mode,
			ContinueInBackground: s.Setting.ContinueInBackground,
			TimeRange:            s.TimeRange,
			Running:              s.Running,
			LastSync:             s.LastSync,
			LastError:            s.LastError,
			Resyncs:              s.Resyncs,
			Delivered:            s.Delivered,
			Deletions:            s.Deletions,
		})
	}
	return out
}

func (c *DefaultClient) Shutdown() {
	c.tasksMu.Lock()
	c.stopped = true
	c.tasksMu.Unlock()

	c.cancel()
	c.collectors.StopAll()
	c.wg.Wait()
	c.main.Stop()
	c.l.Info("health client stopped")
}

func (c *DefaultClient) startCollector(col *collector.Collector) {
	if c.ctx.Err() != nil {
		return
	}
	switch {
	case col.Start(c.ctx):
		c.l.Info("collection started", "type", col.Type().ID())
	case col.Retired():
		c.l.Debug("collector was replaced or removed, not started", "type", col.Type().ID())
	}
}

// background runs fn on its own goroutine under the client context. A
// panic in fn is logged rather than taking the process down.
func (c *DefaultClient) background(name string, fn func(ctx context.Context)) {
	c.tasksMu.Lock()
	if c.stopped {
		c.tasksMu.Unlock()
		c.l.Warn("client stopped, task not started", "task", name)
		return
	}
	c.wg.Add(1)
	c.tasksMu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.l.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(c.ctx)
	}()
}
