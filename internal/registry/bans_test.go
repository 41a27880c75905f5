package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanKeepsBinding(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	entry, err := reg.Ban("trivia", "fox")
	require.NoError(t, err)
	assert.Equal(t, Identity("111"), entry.Identity)

	id, err := reg.ResolveAlias("trivia", "fox")
	require.NoError(t, err)
	assert.Equal(t, Identity("111"), id)

	assert.True(t, reg.IsBanned("fox"))
	assert.True(t, reg.IsIdentityBanned("trivia", "111"))
	assert.Equal(t, []string{"fox"}, reg.BannedAliases())
	assert.Equal(t, []string{"fox"}, reg.ListGames()[0].Aliases)
}

func TestBanUnknownTargets(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Ban("trivia", "fox")
	assert.ErrorIs(t, err, ErrGameNotFound)

	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	_, err = reg.Ban("trivia", "fox")
	assert.ErrorIs(t, err, ErrAliasNotFound)
	assert.Empty(t, reg.Bans())
}

func TestBanIsScopedToGame(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.CreateGame(ctx, "mafia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	_, err := reg.Ban("trivia", "fox")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Register(ctx, "trivia", "111", "other"), ErrBanned)
	_, err = reg.Unregister(ctx, "trivia", "111")
	assert.ErrorIs(t, err, ErrBanned)

	assert.False(t, reg.IsIdentityBanned("mafia", "111"))
	assert.NoError(t, reg.Register(ctx, "mafia", "111", "fox"))
}

func TestUnbanLiftsEveryGame(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	for _, g := range []string{"trivia", "mafia"} {
		require.NoError(t, reg.CreateGame(ctx, g))
		require.NoError(t, reg.Register(ctx, g, "111", "fox"))
		_, err := reg.Ban(g, "fox")
		require.NoError(t, err)
	}
	// Re-banning refreshes rather than duplicates.
	_, err := reg.Ban("trivia", "fox")
	require.NoError(t, err)
	assert.Len(t, reg.Bans(), 2)
	assert.Equal(t, []string{"fox"}, reg.BannedAliases())

	n, err := reg.Unban("fox")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, reg.IsBanned("fox"))
	assert.False(t, reg.IsIdentityBanned("trivia", "111"))

	_, err = reg.Unban("fox")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGameDropsItsBans(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))
	_, err := reg.Ban("trivia", "fox")
	require.NoError(t, err)

	require.NoError(t, reg.DeleteGame(ctx, "trivia"))
	assert.False(t, reg.IsBanned("fox"))
}
