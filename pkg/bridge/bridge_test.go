package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "bridge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridge_RoundTrip(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	_, ok, err := b.GetNativeToken(ctx, "proj", "s1", "claude")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "tok-1"))

	token, ok, err := b.GetNativeToken(ctx, "proj", "s1", "claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)
}

func TestBridge_UpsertLastWriteWins(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "tok-1"))
	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "tok-2"))

	token, ok, err := b.GetNativeToken(ctx, "proj", "s1", "claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-2", token)
}

func TestBridge_AgentKeysNeverCollide(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "claude-tok"))
	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "codex", "codex-tok"))
	require.NoError(t, b.PutNativeToken(ctx, "other", "s1", "claude", "other-tok"))

	token, ok, err := b.GetNativeToken(ctx, "proj", "s1", "claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "claude-tok", token)

	token, ok, err = b.GetNativeToken(ctx, "proj", "s1", "codex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "codex-tok", token)

	token, ok, err = b.GetNativeToken(ctx, "other", "s1", "claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "other-tok", token)
}

func TestBridge_EmptyTokenRejected(t *testing.T) {
	b := newTestBridge(t)
	assert.Error(t, b.PutNativeToken(context.Background(), "proj", "s1", "claude", ""))
}

func TestBridge_DeleteSession(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "a"))
	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "codex", "b"))
	require.NoError(t, b.PutNativeToken(ctx, "proj", "s2", "claude", "c"))

	require.NoError(t, b.DeleteSession(ctx, "proj", "s1"))

	has, err := b.HasSession(ctx, "proj", "s1")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = b.HasSession(ctx, "proj", "s2")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBridge_ListSession(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "codex", "b"))
	require.NoError(t, b.PutNativeToken(ctx, "proj", "s1", "claude", "a"))

	mappings, err := b.ListSession(ctx, "proj", "s1")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "claude", mappings[0].Agent)
	assert.Equal(t, "codex", mappings[1].Agent)
	assert.False(t, mappings[0].UpdatedAt.IsZero())
}

func TestBridge_SweepExpired(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.PutNativeToken(ctx, "proj", "old", "claude", "stale"))

	// Backdate the record past the TTL
	_, err := b.db.Exec(
		`UPDATE session_mappings SET updated_at = ? WHERE session_key = 'old'`,
		time.Now().UTC().Add(-72*time.Hour),
	)
	require.NoError(t, err)

	require.NoError(t, b.PutNativeToken(ctx, "proj", "fresh", "claude", "live"))

	removed, err := b.SweepExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok, err := b.GetNativeToken(ctx, "proj", "old", "claude")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = b.GetNativeToken(ctx, "proj", "fresh", "claude")
	require.NoError(t, err)
	assert.True(t, ok)
}
