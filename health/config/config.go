package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=127.0.0.1:6580"`
	// App is the subject permissions are granted to.
	App string `env:"APP, default=healthsync"`
	Dev bool   `env:"DEV, default=false"`
}

type Storage struct {
	Backend string `env:"BACKEND, default=sqlite"`
	DBPath  string `env:"DB_PATH, default=healthsync.db"`
	// CacheEntries puts a ristretto cache of this size in front of the
	// backend; zero disables it.
	CacheEntries int64         `env:"CACHE_ENTRIES, default=0"`
	Redis        RedisConfig   `env:",prefix=REDIS_"`
	OpenBao      OpenBaoConfig `env:",prefix=OPENBAO_"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR, default=localhost:6379"`
	KeyPrefix string `env:"KEY_PREFIX, default=healthsync:"`
}

type OpenBaoConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=healthsync"`
}

type Permissions struct {
	DBPath string `env:"DB_PATH, default=permissions.db"`
	// AutoGrant lists path.Match patterns of permissions that requests are
	// allowed to obtain.
	AutoGrant []string `env:"AUTO_GRANT"`
}

type Collection struct {
	Plan            string        `env:"PLAN"`
	JournalPath     string        `env:"JOURNAL_PATH, default=journal.db"`
	DefaultInterval time.Duration `env:"DEFAULT_INTERVAL, default=15m"`
	TokenTTL        time.Duration `env:"TOKEN_TTL, default=720h"`
	PageSize        int           `env:"PAGE_SIZE, default=1000"`
}

type Posthog struct {
	APIKey     string `env:"API_KEY"`
	Endpoint   string `env:"ENDPOINT, default=https://eu.i.posthog.com"`
	DistinctID string `env:"DISTINCT_ID, default=healthsync"`
}

func (p Posthog) Enabled() bool {
	return p.APIKey != ""
}

type Log struct {
	Level string `env:"LEVEL, default=info"`
}

type Config struct {
	Server      Server      `env:",prefix=HEALTHSYNC_SERVER_"`
	Storage     Storage     `env:",prefix=HEALTHSYNC_STORAGE_"`
	Permissions Permissions `env:",prefix=HEALTHSYNC_PERMISSIONS_"`
	Collection  Collection  `env:",prefix=HEALTHSYNC_COLLECTION_"`
	Posthog     Posthog     `env:",prefix=HEALTHSYNC_POSTHOG_"`
	Log         Log         `env:",prefix=HEALTHSYNC_LOG_"`
}

func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
