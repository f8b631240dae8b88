// Package changefeed fetches changes from the platform feed and recovers
// from expired tokens by issuing a fresh one.
package changefeed

import (
	"context"
	"errors"
	"fmt"

	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

var ErrStillExpired = errors.New("freshly issued changes token reported as expired")

// Hooks observe the resync branch. Both are optional.
type Hooks struct {
	// Expired runs once the platform reported the token as expired, before
	// a replacement is issued.
	Expired func(ctx context.Context) error
	// Issued runs with the replacement token before it is used.
	Issued func(ctx context.Context, token string) error
}

// Issue asks the platform for a new token for t.
func Issue(ctx context.Context, store platform.RecordStore, t models.RecordType) (string, error) {
	token, err := store.GetChangesToken(ctx, []models.RecordType{t})
	if err != nil {
		return "", fmt.Errorf("failed to get changes token for %s: %w", t, err)
	}
	return token, nil
}

// Fetch returns the changes of t since token. When the platform reports the
// token as expired, the expired response is discarded and the result comes
// from a freshly issued token instead; resynced reports that this happened.
func Fetch(ctx context.Context, store platform.RecordStore, t models.RecordType, token string, hooks Hooks) (resp *models.ChangesResponse, resynced bool, err error) {
	resp, err = store.GetChanges(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get changes for %s: %w", t, err)
	}
	if !resp.ChangesTokenExpired {
		return resp, false, nil
	}

	if hooks.Expired != nil {
		if err := hooks.Expired(ctx); err != nil {
			return nil, true, err
		}
	}

	fresh, err := Issue(ctx, store, t)
	if err != nil {
		return nil, true, err
	}
	if hooks.Issued != nil {
		if err := hooks.Issued(ctx, fresh); err != nil {
			return nil, true, err
		}
	}

	resp, err = store.GetChanges(ctx, fresh)
	if err != nil {
		return nil, true, fmt.Errorf("failed to get changes for %s after resync: %w", t, err)
	}
	if resp.ChangesTokenExpired {
		return nil, true, ErrStillExpired
	}
	return resp, true, nil
}
