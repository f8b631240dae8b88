package health

import (
	"context"
	"log/slog"

	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// NoOpClient stands in when no record store is reachable. It denies every
// authorization check and turns every other call into a logged no-op.
type NoOpClient struct {
	l          *slog.Logger
	authorized *AuthState
}

var _ Client = (*NoOpClient)(nil)

func NewNoOpClient(l *slog.Logger) *NoOpClient {
	return &NoOpClient{l: l, authorized: newAuthState()}
}

func (n *NoOpClient) warn(op string) {
	n.l.Warn("health platform unavailable, ignoring call", "op", op)
}

func (n *NoOpClient) Configure() { n.warn("configure") }

func (n *NoOpClient) ConfigurationState() State { return Completed }

func (n *NoOpClient) DataAccessRequirements() models.AccessRequirements {
	return models.AccessRequirements{}
}

func (n *NoOpClient) FullyAuthorized() *AuthState { return n.authorized }

func (n *NoOpClient) OnPermissionsGranted([]string) { n.warn("permissions granted") }

func (n *NoOpClient) RequestPermissionsIfNeeded(platform.PermissionRequester) {
	n.warn("request permissions")
}

func (n *NoOpClient) RequestReadPermission(models.RecordType, platform.PermissionRequester) {
	n.warn("request read permission")
}

func (n *NoOpClient) RequestWritePermission(models.RecordType, platform.PermissionRequester) {
	n.warn("request write permission")
}

func (n *NoOpClient) IsAuthorizedToRead(context.Context, models.RecordType) bool  { return false }
func (n *NoOpClient) IsAuthorizedToWrite(context.Context, models.RecordType) bool { return false }

func (n *NoOpClient) Insert(context.Context, ...models.Record) bool {
	n.warn("insert")
	return false
}

func (n *NoOpClient) Query(context.Context, SnapshotQuery) []models.Record {
	n.warn("query")
	return []models.Record{}
}

func (n *NoOpClient) QueryChanges(context.Context, AnchoredQuery) models.QueryResult[models.Record] {
	n.warn("query changes")
	return models.QueryResult[models.Record]{}
}

// ContinuousQuery returns an already closed channel.
func (n *NoOpClient) ContinuousQuery(context.Context, ContinuousQuery) <-chan models.QueryResult[models.Record] {
	n.warn("continuous query")
	ch := make(chan models.QueryResult[models.Record])
	close(ch)
	return ch
}

func (n *NoOpClient) TriggerCollection(models.RecordType)     { n.warn("trigger collection") }
func (n *NoOpClient) ResetRecordCollection(models.RecordType) { n.warn("reset collection") }

func (n *NoOpClient) Collectors() []CollectorStatus { return nil }

func (n *NoOpClient) Shutdown() {}
