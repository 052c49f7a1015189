package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docpipe/internal/db"
	"docpipe/internal/db/repositories"
	"docpipe/pkg/models"
)

// setupRepos builds a fresh in-memory SQLite-backed Repositories for one
// test, migrated to the current schema.
func setupRepos(t *testing.T) *repositories.Repositories {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return repositories.New(database)
}

func TestStore_Append_RejectsIncompatibleStep(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().register("transcribe", "audio", "transcription")
	store := NewStore(repos, types)
	ctx := context.Background()

	_, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)

	_, result, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "unregistered", 2, nil)
	require.Error(t, err)
	require.False(t, result.OK())

	steps, err := store.Read(ctx, models.ScopeUser, "user-1", "audio")
	require.NoError(t, err)
	require.Len(t, steps, 1, "rejected append must not touch the database")
}

// TestStore_Append_DuplicateSequencePluginIsConflict checks that the set
// of (sequence, plugin) pairs stays unique per scope+type.
func TestStore_Append_DuplicateSequencePluginIsConflict(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().register("transcribe", "audio", "transcription")
	store := NewStore(repos, types)
	ctx := context.Background()

	_, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)

	_, _, err = store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.Error(t, err, "duplicate (sequence, plugin) must be rejected")
}

// TestStore_AppendThenDelete_IsNoOp checks that append followed by
// delete of the same step returns the store to its prior state.
func TestStore_AppendThenDelete_IsNoOp(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().register("transcribe", "audio", "transcription")
	store := NewStore(repos, types)
	ctx := context.Background()

	before, err := store.Read(ctx, models.ScopeUser, "user-1", "audio")
	require.NoError(t, err)
	require.Empty(t, before)

	created, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, models.ScopeUser, "user-1", "audio", created.ID))

	after, err := store.Read(ctx, models.ScopeUser, "user-1", "audio")
	require.NoError(t, err)
	require.Empty(t, after)
}

// TestStore_Reorder_IdentityIsNoOp checks that reordering with the
// identity permutation does not change the persisted sequence numbers.
func TestStore_Reorder_IdentityIsNoOp(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().
		register("transcribe", "audio", "transcription").
		register("sentiment", "transcription", "sentiment")
	store := NewStore(repos, types)
	ctx := context.Background()

	s1, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)
	s2, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "sentiment", 2, nil)
	require.NoError(t, err)

	result, err := store.Reorder(ctx, models.ScopeUser, "user-1", "audio", []SequenceChange{
		{StepID: s1.ID, NewSequence: 1},
		{StepID: s2.ID, NewSequence: 2},
	})
	require.NoError(t, err)
	require.True(t, result.OK())

	steps, err := store.Read(ctx, models.ScopeUser, "user-1", "audio")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, 1, steps[0].Sequence)
	require.Equal(t, 2, steps[1].Sequence)
}

// TestStore_Reorder_InvalidResultReverts covers the transactional revert
// requirement: a reorder that breaks type-flow must leave persisted
// sequences untouched.
func TestStore_Reorder_InvalidResultReverts(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().
		register("transcribe", "audio", "transcription").
		register("sentiment", "transcription", "sentiment")
	store := NewStore(repos, types)
	ctx := context.Background()

	s1, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)
	s2, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "sentiment", 2, nil)
	require.NoError(t, err)

	// Swapping the two breaks the chain: sentiment now runs first but
	// only accepts "transcription" as input, not the root type "audio".
	_, err = store.Reorder(ctx, models.ScopeUser, "user-1", "audio", []SequenceChange{
		{StepID: s1.ID, NewSequence: 2},
		{StepID: s2.ID, NewSequence: 1},
	})
	require.Error(t, err)

	steps, err := store.Read(ctx, models.ScopeUser, "user-1", "audio")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	byID := map[string]int{steps[0].ID: steps[0].Sequence, steps[1].ID: steps[1].Sequence}
	require.Equal(t, 1, byID[s1.ID])
	require.Equal(t, 2, byID[s2.ID])
}

func TestStore_ListCompatiblePlugins_UndefinedAfterFanout(t *testing.T) {
	repos := setupRepos(t)
	types := newFakeTypes().
		register("transcribe_a", "audio", "words").
		register("transcribe_b", "audio", "diarization")
	store := NewStore(repos, types)
	ctx := context.Background()

	_, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe_a", 1, nil)
	require.NoError(t, err)
	_, _, err = store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe_b", 1, nil)
	require.NoError(t, err)

	names, result, err := store.ListCompatiblePlugins(ctx, models.ScopeUser, "user-1", "audio", 2)
	require.NoError(t, err)
	require.Empty(t, names)
	require.NotEmpty(t, result.Warnings)
}
