// Package permission is a persistent permission authority backed by a
// casbin policy in sqlite. It stands in for the host's permission service
// when the daemon runs off-device.
package permission

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	_ "github.com/mattn/go-sqlite3"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

const (
	Model = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`
	// Granted is the only action a permission policy carries.
	Granted = "granted"
)

// Enforcer records which permissions have been granted to one app. It is
// safe for concurrent use; updates are applied one at a time.
type Enforcer struct {
	E   *casbin.SyncedEnforcer
	app string

	// held across a whole Grant or Revoke so that concurrent updates do
	// not interleave their save and rollback
	mu sync.Mutex
}

var _ platform.PermissionController = (*Enforcer)(nil)

func NewEnforcer(path, app string) (*Enforcer, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, err
	}
	return NewEnforcerFromDB(db, app)
}

func NewEnforcerFromDB(db *sql.DB, app string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "permissions")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewSyncedEnforcer(m, a)
	if err != nil {
		return nil, err
	}

	e.EnableAutoSave(false)

	return &Enforcer{E: e, app: app}, nil
}

func (e *Enforcer) IsGranted(perm string) (bool, error) {
	return e.E.Enforce(e.app, perm, Granted)
}

// Grant adds perms and persists the policy. On failure the in-memory
// policy is reloaded from storage.
func (e *Enforcer) Grant(perms ...string) error {
	return e.update(perms, func(p string) error {
		_, err := e.E.AddPolicy(e.app, p, Granted)
		return err
	})
}

func (e *Enforcer) Revoke(perms ...string) error {
	return e.update(perms, func(p string) error {
		_, err := e.E.RemovePolicy(e.app, p, Granted)
		return err
	})
}

func (e *Enforcer) update(perms []string, apply func(string) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range perms {
		if err := apply(p); err != nil {
			if lerr := e.E.LoadPolicy(); lerr != nil {
				return fmt.Errorf("failed to roll back policy: %w", lerr)
			}
			return err
		}
	}
	return e.E.SavePolicy()
}

// GetGrantedPermissions returns the granted permissions, sorted.
func (e *Enforcer) GetGrantedPermissions(ctx context.Context) ([]string, error) {
	policies, err := e.E.GetFilteredPolicy(0, e.app)
	if err != nil {
		return nil, err
	}

	var perms []string
	for _, p := range policies {
		if len(p) == 3 && p[2] == Granted {
			perms = append(perms, p[1])
		}
	}
	slices.Sort(perms)
	return slices.Compact(perms), nil
}
