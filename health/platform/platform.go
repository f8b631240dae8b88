// Package platform declares the collaborators the health client consumes:
// the on-device record store, the permission authority and the sink that
// receives collected records.
package platform

import (
	"context"
	"errors"

	"tangled.sh/tangled.sh/healthsync/health/models"
)

// ErrUnavailable is returned by constructors when no record store can be
// reached on this host.
var ErrUnavailable = errors.New("health platform unavailable")

// ReadRequest is a bounded read of one record type.
type ReadRequest struct {
	Type models.RecordType
	// Window filters by record start time.
	Window models.Window
	// DataOrigins restricts results to records written by these origins.
	// Empty means any origin.
	DataOrigins []string
	// PageSize caps the number of records returned; zero means the store's default.
	PageSize int
}

// RecordStore is the platform's record store, reachable only through a
// bounded read, a token based change feed and insertion.
type RecordStore interface {
	ReadRecords(ctx context.Context, req ReadRequest) ([]models.Record, error)
	// GetChangesToken issues a token positioned at the current end of the
	// feed for the given types.
	GetChangesToken(ctx context.Context, types []models.RecordType) (string, error)
	// GetChanges returns the changes recorded since token. An expired token
	// is reported through ChangesResponse.ChangesTokenExpired, not an error.
	GetChanges(ctx context.Context, token string) (*models.ChangesResponse, error)
	// InsertRecords stores records and returns their assigned ids.
	InsertRecords(ctx context.Context, records []models.Record) ([]string, error)
}

// PermissionController reports the permissions currently granted to the app.
type PermissionController interface {
	GetGrantedPermissions(ctx context.Context) ([]string, error)
}

// PermissionRequester asks the host to grant permissions, typically by
// showing a prompt. It blocks until the host answers and returns the
// subset that was granted.
type PermissionRequester interface {
	RequestPermissions(ctx context.Context, permissions []string) ([]string, error)
}

// Sink receives the output of data collection.
type Sink interface {
	HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error
	HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error
	// OnFullyResyncRequired is called when the platform invalidated the
	// change token of t; previously delivered data may be stale.
	OnFullyResyncRequired(ctx context.Context, t models.RecordType) error
}
