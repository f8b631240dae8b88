package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/log"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6580", cfg.Server.ListenAddr)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "healthsync", cfg.Storage.OpenBao.Mount)
	assert.Equal(t, 15*time.Minute, cfg.Collection.DefaultInterval)
	assert.Equal(t, 720*time.Hour, cfg.Collection.TokenTTL)
	assert.False(t, cfg.Posthog.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"HEALTHSYNC_STORAGE_BACKEND":             "redis",
		"HEALTHSYNC_STORAGE_REDIS_ADDR":          "redis:6379",
		"HEALTHSYNC_STORAGE_CACHE_ENTRIES":       "256",
		"HEALTHSYNC_PERMISSIONS_AUTO_GRANT":      "android.permission.health.READ_*,android.permission.health.WRITE_STEPS",
		"HEALTHSYNC_COLLECTION_PLAN":             "/etc/healthsync/plan.yaml",
		"HEALTHSYNC_COLLECTION_DEFAULT_INTERVAL": "30s",
		"HEALTHSYNC_POSTHOG_API_KEY":             "phc_test",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, int64(256), cfg.Storage.CacheEntries)
	assert.Equal(t, []string{"android.permission.health.READ_*", "android.permission.health.WRITE_STEPS"}, cfg.Permissions.AutoGrant)
	assert.Equal(t, "/etc/healthsync/plan.yaml", cfg.Collection.Plan)
	assert.Equal(t, 30*time.Second, cfg.Collection.DefaultInterval)
	assert.True(t, cfg.Posthog.Enabled())
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		storage Storage
		wantErr bool
	}{
		{"memory", Storage{Backend: BackendMemory}, false},
		{"memory cached", Storage{Backend: BackendMemory, CacheEntries: 16}, false},
		{"sqlite", Storage{Backend: BackendSQLite}, false},
		{"openbao without address", Storage{Backend: BackendOpenBao}, true},
		{"unknown", Storage{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.storage.Backend == BackendSQLite {
				tt.storage.DBPath = filepath.Join(t.TempDir(), "kv.db")
			}

			store, closeFn, err := OpenStore(tt.storage, log.New("test"))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeFn()

			ctx := context.Background()
			require.NoError(t, store.Store(ctx, "k", "v"))
			v, err := store.Read(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", v)
		})
	}
}

const plan = `
read: [weight, heart_rate]
write: [steps]
collect:
  - type: steps
    interval: 30s
    background: true
    since: 2024-01-01T00:00:00Z
    origins: [com.example.watch]
  - type: weight
    mode: manual
  - type: heart_rate
`

func TestPlanComponents(t *testing.T) {
	p, err := ParsePlan([]byte(plan))
	require.NoError(t, err)

	comps, err := p.Components(time.Hour)
	require.NoError(t, err)
	require.Len(t, comps, 5)

	var req models.AccessRequirements
	for _, c := range comps {
		req = req.Plus(c.Requirements())
	}
	assert.Equal(t, []models.RecordType{models.HeartRateType, models.StepsType, models.WeightType}, req.Read.Sorted())
	assert.Equal(t, []models.RecordType{models.StepsType}, req.Write.Sorted())
}

func TestPlanValidation(t *testing.T) {
	tests := []string{
		"read: [steps, teleportation]",
		"collect: [{type: unknown}]",
		"collect: [{type: steps, mode: sometimes}]",
		"collect: [{type: steps, interval: -5s}]",
		"read: {not: a list}",
	}
	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt))
			assert.Error(t, err)
		})
	}
}

func TestLoadPlanWithoutPath(t *testing.T) {
	p, err := LoadPlan("")
	require.NoError(t, err)
	comps, err := p.Components(time.Minute)
	require.NoError(t, err)
	assert.Empty(t, comps)
}
