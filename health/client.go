// Package health mediates every read and write against the on-device health
// record store: it tracks which permissions the app holds, keeps one
// incremental sync per collected record type running against the platform
// change feed, and answers bounded, anchored and continuous queries.
//
// A Client is built once at startup with New and passed to whatever needs
// health access. When the platform is unavailable New returns a NoOpClient,
// so callers never branch on availability.
package health

import (
	"context"
	"log/slog"
	"time"

	"tangled.sh/tangled.sh/healthsync/health/kv"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
	"tangled.sh/tangled.sh/healthsync/log"
)

// State is the configuration progress of a client.
type State int32

const (
	Pending State = iota
	Ongoing
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ongoing:
		return "ongoing"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// SnapshotQuery is a bounded read of one record type.
type SnapshotQuery struct {
	Type   models.RecordType
	Window models.Window
	// DataOrigins restricts results to these writers; empty means any.
	DataOrigins []string
	Order       models.SortOrder
	// Limit caps the result size after filtering; zero means no cap.
	Limit     int
	Predicate models.Predicate
}

// AnchoredQuery reads the changes of one record type since Anchor. A nil
// Anchor starts a new feed position.
type AnchoredQuery struct {
	Type      models.RecordType
	Window    models.Window
	Anchor    *string
	Predicate models.Predicate
}

// ContinuousQuery repeats an AnchoredQuery every Interval.
type ContinuousQuery struct {
	Type      models.RecordType
	Window    models.Window
	Interval  time.Duration
	Anchor    *string
	Predicate models.Predicate
}

// CollectorStatus describes a registered collector.
type CollectorStatus struct {
	Type                 models.RecordType
	Mode                 models.CollectionMode
	ContinueInBackground bool
	TimeRange            models.TimeRange
	Running              bool
	LastSync             time.Time
	LastError            string
	Resyncs              int
	Delivered            int
	Deletions            int
}

// Client is the health access surface. None of its operations return
// errors: failures are logged and degrade to empty results, false, or a
// no-op. Operations without a context run as background tasks of the
// client and return immediately.
type Client interface {
	// Configure folds the access requirements of every component, refreshes
	// the authorization state and lets every component configure itself.
	// Only the first call has an effect.
	Configure()
	ConfigurationState() State
	DataAccessRequirements() models.AccessRequirements
	FullyAuthorized() *AuthState

	// OnPermissionsGranted refreshes the authorization state and starts the
	// automatic collectors whose read permission is in granted.
	OnPermissionsGranted(granted []string)
	RequestPermissionsIfNeeded(requester platform.PermissionRequester)
	RequestReadPermission(t models.RecordType, requester platform.PermissionRequester)
	RequestWritePermission(t models.RecordType, requester platform.PermissionRequester)
	IsAuthorizedToRead(ctx context.Context, t models.RecordType) bool
	IsAuthorizedToWrite(ctx context.Context, t models.RecordType) bool

	Insert(ctx context.Context, records ...models.Record) bool
	Query(ctx context.Context, q SnapshotQuery) []models.Record
	QueryChanges(ctx context.Context, q AnchoredQuery) models.QueryResult[models.Record]
	// ContinuousQuery streams non-empty results until ctx is cancelled, then
	// closes the channel.
	ContinuousQuery(ctx context.Context, q ContinuousQuery) <-chan models.QueryResult[models.Record]

	// TriggerCollection starts the collector of t if permission allows;
	// this is how Manual collectors run.
	TriggerCollection(t models.RecordType)
	// ResetRecordCollection stops and discards the collectors of t and
	// deletes its change token, so the next collection starts over.
	ResetRecordCollection(t models.RecordType)
	Collectors() []CollectorStatus

	// Shutdown stops collectors and waits for background tasks.
	Shutdown()
}

// Options wires a client to its collaborators.
type Options struct {
	// Store is the platform record store; nil means the platform is
	// unavailable and New returns a NoOpClient.
	Store       platform.RecordStore
	Permissions platform.PermissionController
	// KV persists change tokens.
	KV kv.Store
	// Sink receives collected records. Without it CollectRecord components
	// are skipped.
	Sink       platform.Sink
	Components []Component
	Logger     *slog.Logger
}

// New returns a DefaultClient bound to ctx, or a NoOpClient when the
// platform is unavailable or the options are incomplete.
func New(ctx context.Context, opts Options) Client {
	l := opts.Logger
	if l == nil {
		l = log.New("health")
	}

	if opts.Store == nil {
		l.Warn("health platform unavailable, using no-op client")
		return NewNoOpClient(l)
	}

	c, err := NewDefaultClient(ctx, opts)
	if err != nil {
		l.Error("failed to create health client, using no-op client", "err", err)
		return NewNoOpClient(l)
	}
	return c
}
