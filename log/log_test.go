package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { level.Store(int32(log.InfoLevel)) })

	require.NoError(t, SetLevel("debug"))
	assert.True(t, New("test").Enabled(context.Background(), slog.LevelDebug))

	assert.Error(t, SetLevel("loud"))
	assert.True(t, New("test").Enabled(context.Background(), slog.LevelDebug), "unknown level keeps the current one")

	require.NoError(t, SetLevel("warn"))
	assert.False(t, New("test").Enabled(context.Background(), slog.LevelInfo))
}

func TestContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := New("test")
	assert.Same(t, l, FromContext(IntoContext(context.Background(), l)))
}

func TestSubLogger(t *testing.T) {
	sub := SubLogger(New("healthsync"), "collector")
	cl, ok := sub.Handler().(*log.Logger)
	require.True(t, ok)
	assert.Equal(t, "healthsync/collector", cl.GetPrefix())

	cl, ok = SubLogger(nil, "kv").Handler().(*log.Logger)
	require.True(t, ok)
	assert.Equal(t, "kv", cl.GetPrefix())

	plain := slog.New(slog.DiscardHandler)
	assert.NotNil(t, SubLogger(plain, "kv"))
}
