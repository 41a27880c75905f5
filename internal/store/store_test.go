package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleSnapshot() Snapshot {
	return Snapshot{Games: []GameRecord{
		{Name: "trivia", Members: []Member{
			{Alias: "owl", Identity: "222"},
			{Alias: "fox", Identity: "111"},
		}},
		{Name: "mafia", Members: []Member{
			{Alias: "Zed", Identity: "chat-9"},
		}},
		{Name: "empty", Members: []Member{}},
	}}
}

func TestFileStoreRoundTripPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, sampleSnapshot()))

	loaded, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), loaded)
}

func TestFileStoreWritesLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, fs.Save(context.Background(), sampleSnapshot()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"trivia":{"owl":222,"fox":111},"mafia":{"Zed":"chat-9"},"empty":{}}`,
		string(raw),
	)
}

func TestFileStoreLoadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	legacy := `{"werewolf": {"b": 20, "a": 10}, "chess": {}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	snap, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Games, 2)
	assert.Equal(t, "werewolf", snap.Games[0].Name)
	assert.Equal(t, []Member{{Alias: "b", Identity: "20"}, {Alias: "a", Identity: "10"}}, snap.Games[0].Members)
	assert.Equal(t, "chess", snap.Games[1].Name)
	assert.Empty(t, snap.Games[1].Members)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "nope", "data.json"))
	require.NoError(t, err)

	snap, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Games)
}

func TestFileStoreRejectsDuplicateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"g": {"a": 1, "b": 1}}`), 0644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = fs.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"g": [1, 2]}`), 0644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = fs.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "data.json"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, fs.Save(context.Background(), sampleSnapshot()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}

func TestNumericLookingIdentityKeepsLeadingZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	snap := Snapshot{Games: []GameRecord{{Name: "g", Members: []Member{{Alias: "a", Identity: "007"}}}}}
	require.NoError(t, fs.Save(context.Background(), snap))

	loaded, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "007", loaded.Games[0].Members[0].Identity)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer st.Close()

	empty, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Games)

	require.NoError(t, st.Save(ctx, sampleSnapshot()))

	next := sampleSnapshot()
	next.Games = next.Games[:1]
	require.NoError(t, st.Save(ctx, next))

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	st, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Save(ctx, sampleSnapshot()))

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), loaded)
}

func TestMemoryStoreFailSaves(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Save(ctx, sampleSnapshot()))

	boom := errors.New("disk full")
	m.FailSaves(boom)
	assert.ErrorIs(t, m.Save(ctx, Snapshot{}), boom)

	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), loaded)
	assert.Equal(t, 1, m.Saves())
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	st, err := Open(ctx, Options{Driver: DriverMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	st, err = Open(ctx, Options{Driver: "FILE", Path: filepath.Join(t.TempDir(), "d.json")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, st)

	_, err = Open(ctx, Options{Driver: "redis"}, logger)
	assert.Error(t, err)
}
