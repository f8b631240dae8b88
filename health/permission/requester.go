package permission

import (
	"context"
	"log/slog"
	"path"

	"tangled.sh/tangled.sh/healthsync/health/platform"
)

// Requester answers permission requests without a user: a request is
// granted when it matches one of the allowed patterns. Patterns use
// path.Match syntax, so "android.permission.health.READ_*" allows every
// read permission.
type Requester struct {
	e       *Enforcer
	allowed []string
	l       *slog.Logger
}

var _ platform.PermissionRequester = (*Requester)(nil)

func NewRequester(e *Enforcer, allowed []string, l *slog.Logger) *Requester {
	return &Requester{e: e, allowed: allowed, l: l}
}

func (r *Requester) allows(perm string) bool {
	for _, pattern := range r.allowed {
		if ok, err := path.Match(pattern, perm); err == nil && ok {
			return true
		}
	}
	return false
}

// RequestPermissions grants and persists the allowed subset of perms and
// returns it.
func (r *Requester) RequestPermissions(ctx context.Context, perms []string) ([]string, error) {
	var granted, denied []string
	for _, p := range perms {
		if r.allows(p) {
			granted = append(granted, p)
		} else {
			denied = append(denied, p)
		}
	}

	if len(denied) > 0 {
		r.l.Warn("permissions denied by policy", "permissions", denied)
	}
	if len(granted) == 0 {
		return nil, nil
	}

	if err := r.e.Grant(granted...); err != nil {
		return nil, err
	}
	r.l.Info("permissions granted by policy", "permissions", granted)
	return granted, nil
}
