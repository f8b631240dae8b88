package daemon

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/healthsync/health/internal/tokenstore"
	"tangled.sh/tangled.sh/healthsync/health/kv"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/permission"
)

func root(out *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:   "healthsync",
		Writer: out,
		Commands: []*cli.Command{
			Command(),
			TypesCommand(),
			ResetCommand(),
			GrantCommand(),
		},
	}
}

func TestTypesCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, root(&out).Run(context.Background(), []string{"healthsync", "types"}))

	for _, rt := range models.All() {
		assert.Contains(t, out.String(), rt.ID())
		assert.Contains(t, out.String(), rt.ReadPermission)
	}
}

func TestResetCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kv.db")
	t.Setenv("HEALTHSYNC_STORAGE_BACKEND", "sqlite")
	t.Setenv("HEALTHSYNC_STORAGE_DB_PATH", dbPath)

	store, err := kv.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	tokens := tokenstore.New(store)
	require.NoError(t, tokens.Set(ctx, models.StepsType, "tok"))
	require.NoError(t, tokens.Set(ctx, models.WeightType, "keep"))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	require.NoError(t, root(&out).Run(ctx, []string{"healthsync", "reset", "--type", models.StepsType.ID()}))

	store, err = kv.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	tokens = tokenstore.New(store)

	_, ok, err := tokens.Get(ctx, models.StepsType)
	require.NoError(t, err)
	assert.False(t, ok)

	tok, ok, err := tokens.Get(ctx, models.WeightType)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "keep", tok)
}

func TestResetCommandUnknownType(t *testing.T) {
	t.Setenv("HEALTHSYNC_STORAGE_BACKEND", "memory")

	var out bytes.Buffer
	err := root(&out).Run(context.Background(), []string{"healthsync", "reset", "--type", "nope"})
	assert.ErrorIs(t, err, models.ErrUnknownKind)
}

func TestGrantCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "permissions.db")
	t.Setenv("HEALTHSYNC_PERMISSIONS_DB_PATH", dbPath)
	t.Setenv("HEALTHSYNC_SERVER_APP", "test-app")

	read := models.StepsType.ReadPermission
	write := models.StepsType.WritePermission
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, root(&out).Run(ctx, []string{
		"healthsync", "grant", "--permission", read, "--permission", write,
	}))
	require.NoError(t, root(&out).Run(ctx, []string{
		"healthsync", "grant", "--revoke", "--permission", write,
	}))

	e, err := permission.NewEnforcer(dbPath, "test-app")
	require.NoError(t, err)
	granted, err := e.GetGrantedPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{read}, granted)
}
