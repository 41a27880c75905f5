package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/magefree/anonrelay-server-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	reg, err := New(context.Background(), st, zaptest.NewLogger(t))
	require.NoError(t, err)
	return reg, st
}

func TestRegisterResolvesBothWays(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	id, err := reg.ResolveAlias("trivia", "fox")
	require.NoError(t, err)
	assert.Equal(t, Identity("111"), id)

	alias, err := reg.ResolveIdentity("trivia", "111")
	require.NoError(t, err)
	assert.Equal(t, "fox", alias)
}

func TestRegisterUniqueness(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	err := reg.Register(ctx, "trivia", "222", "fox")
	assert.ErrorIs(t, err, ErrAliasTaken)

	err = reg.Register(ctx, "trivia", "111", "wolf")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// Same identity may hold an alias in another game.
	require.NoError(t, reg.CreateGame(ctx, "mafia"))
	assert.NoError(t, reg.Register(ctx, "mafia", "111", "fox"))
}

func TestRegisterUnknownGame(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.Register(context.Background(), "nope", "111", "fox")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestCreateGameTwice(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	assert.ErrorIs(t, reg.CreateGame(ctx, "trivia"), ErrAlreadyExists)
	assert.ErrorIs(t, reg.CreateGame(ctx, ""), ErrInvalidArgument)
}

func TestUnregisterFreesAlias(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	alias, err := reg.Unregister(ctx, "trivia", "111")
	require.NoError(t, err)
	assert.Equal(t, "fox", alias)

	_, err = reg.Unregister(ctx, "trivia", "111")
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, reg.Register(ctx, "trivia", "333", "fox"))
	id, err := reg.ResolveAlias("trivia", "fox")
	require.NoError(t, err)
	assert.Equal(t, Identity("333"), id)

	_, err = reg.ResolveIdentity("trivia", "111")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestUnregisterUnknownGame(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Unregister(context.Background(), "nope", "111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGameDiscardsBindings(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))

	require.NoError(t, reg.DeleteGame(ctx, "trivia"))
	assert.False(t, reg.HasGame("trivia"))
	assert.ErrorIs(t, reg.Register(ctx, "trivia", "222", "owl"), ErrNotFound)
	assert.ErrorIs(t, reg.DeleteGame(ctx, "trivia"), ErrNotFound)

	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	_, err := reg.ResolveAlias("trivia", "fox")
	assert.ErrorIs(t, err, ErrAliasNotFound)
	assert.NoError(t, reg.Register(ctx, "trivia", "222", "fox"))
}

func TestListGamesKeepsRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "b-game"))
	require.NoError(t, reg.CreateGame(ctx, "a-game"))
	require.NoError(t, reg.Register(ctx, "b-game", "1", "zebra"))
	require.NoError(t, reg.Register(ctx, "b-game", "2", "ant"))
	require.NoError(t, reg.Register(ctx, "b-game", "3", "moth"))
	_, err := reg.Unregister(ctx, "b-game", "2")
	require.NoError(t, err)

	assert.Equal(t, []GameListing{
		{Name: "b-game", Aliases: []string{"zebra", "moth"}},
		{Name: "a-game", Aliases: []string{}},
	}, reg.ListGames())
}

func TestMutationsWriteThrough(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	require.NoError(t, reg.CreateGame(ctx, "trivia"))
	require.NoError(t, reg.Register(ctx, "trivia", "111", "fox"))
	require.NoError(t, reg.Register(ctx, "trivia", "222", "owl"))
	assert.Equal(t, 3, st.Saves())

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot{Games: []store.GameRecord{
		{Name: "trivia", Members: []store.Member{
			{Alias: "fox", Identity: "111"},
			{Alias: "owl", Identity: "222"},
		}},
	}}, snap)

	// A reloaded registry sees the same bindings.
	reloaded, err := New(ctx, st, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, reg.ListGames(), reloaded.ListGames())
	id, err := reloaded.ResolveAlias("trivia", "owl")
	require.NoError(t, err)
	assert.Equal(t, Identity("222"), id)
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	require.NoError(t, reg.CreateGame(ctx, "trivia"))

	st.FailSaves(errors.New("disk full"))

	err := reg.Register(ctx, "trivia", "111", "fox")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	_, err = reg.ResolveAlias("trivia", "fox")
	assert.ErrorIs(t, err, ErrAliasNotFound)

	err = reg.CreateGame(ctx, "mafia")
	assert.True(t, IsFatal(err))
	assert.False(t, reg.HasGame("mafia"))

	err = reg.DeleteGame(ctx, "trivia")
	assert.True(t, IsFatal(err))
	assert.True(t, reg.HasGame("trivia"))

	assert.False(t, IsFatal(ErrNotFound))
}

func TestNewRejectsBrokenStore(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(context.Background(), store.Snapshot{Games: []store.GameRecord{
		{Name: "g", Members: []store.Member{{Alias: "a", Identity: "1"}, {Alias: "a", Identity: "2"}}},
	}}))

	_, err := New(context.Background(), st, zaptest.NewLogger(t))
	assert.Error(t, err)
}
