package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/db"
	"docpipe/internal/db/repositories"
	"docpipe/internal/workflow"
	"docpipe/pkg/models"
)

type fakeTypes struct {
	active map[string]bool
	output map[string]string
	input  map[string][]string
}

func newFakeTypes() *fakeTypes {
	return &fakeTypes{active: map[string]bool{}, output: map[string]string{}, input: map[string][]string{}}
}

func (f *fakeTypes) register(plugin, in, out string) *fakeTypes {
	f.active[plugin] = true
	f.output[plugin] = out
	f.input[plugin] = append(f.input[plugin], in)
	return f
}

func (f *fakeTypes) AcceptsInput(plugin, inputType string) (bool, error) {
	for _, t := range f.input[plugin] {
		if t == inputType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTypes) OutputType(plugin string) (string, error) { return f.output[plugin], nil }
func (f *fakeTypes) IsActive(plugin string) bool               { return f.active[plugin] }

func setupFilter(t *testing.T) (*repositories.Repositories, *workflow.Store, *workflow.Resolver, *fakeTypes) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	repos := repositories.New(database)
	types := newFakeTypes()
	store := workflow.NewStore(repos, types)
	resolver := workflow.NewResolver(store, types)
	return repos, store, resolver, types
}

func mustInsertDocument(t *testing.T, repos *repositories.Repositories, id, typeName, ownerID string) {
	t.Helper()
	require.NoError(t, repos.DocumentTypes.Upsert(context.Background(), &models.DocumentType{Name: typeName, DisplayName: typeName, RegisteredBy: "test"}))
	require.NoError(t, repos.Documents.Insert(context.Background(), nil, &models.Document{
		ID: id, TypeName: typeName, OwnerID: ownerID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
}

// TestFilter_Wrap_InvokesHandlerWhenPluginInWorkflow covers the core
// case: the plugin is present in the resolved workflow, so the wrapped
// handler fires.
func TestFilter_Wrap_InvokesHandlerWhenPluginInWorkflow(t *testing.T) {
	repos, store, resolver, types := setupFilter(t)
	types.register("transcribe", "audio", "transcription")
	ctx := context.Background()

	_, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)
	mustInsertDocument(t, repos, "doc-1", "audio", "user-1")

	filter := NewFilter(repos.Documents, resolver)
	var invoked bool
	wrapped := filter.Wrap("transcribe", func(ctx context.Context, doc models.Document) error {
		invoked = true
		return nil
	})

	err = wrapped(ctx, models.Event{ID: "e1", Type: "document.created", Payload: map[string]any{"document_id": "doc-1"}})
	require.NoError(t, err)
	assert.True(t, invoked)
}

// TestFilter_Wrap_SkipsWhenPluginNotInWorkflow covers the drop path: a
// plugin not present in the resolved steps never has its handler invoked.
func TestFilter_Wrap_SkipsWhenPluginNotInWorkflow(t *testing.T) {
	repos, store, resolver, types := setupFilter(t)
	types.register("transcribe", "audio", "transcription")
	ctx := context.Background()

	_, _, err := store.Append(ctx, models.ScopeUser, "user-1", "audio", "transcribe", 1, nil)
	require.NoError(t, err)
	mustInsertDocument(t, repos, "doc-1", "audio", "user-1")

	filter := NewFilter(repos.Documents, resolver)
	var invoked bool
	wrapped := filter.Wrap("ocr", func(ctx context.Context, doc models.Document) error {
		invoked = true
		return nil
	})

	err = wrapped(ctx, models.Event{ID: "e1", Type: "document.created", Payload: map[string]any{"document_id": "doc-1"}})
	require.NoError(t, err)
	assert.False(t, invoked, "ocr is not part of the resolved workflow, so its handler must not run")
}

// TestFilter_Wrap_IgnoresNonDocumentCreatedEvents verifies that only
// document.created events ever trigger resolution.
func TestFilter_Wrap_IgnoresNonDocumentCreatedEvents(t *testing.T) {
	repos, _, resolver, _ := setupFilter(t)

	filter := NewFilter(repos.Documents, resolver)
	var invoked bool
	wrapped := filter.Wrap("transcribe", func(ctx context.Context, doc models.Document) error {
		invoked = true
		return nil
	})

	err := wrapped(context.Background(), models.Event{ID: "e1", Type: "job.completed"})
	require.NoError(t, err)
	assert.False(t, invoked)
}

// TestFilter_Wrap_MissingDocumentIsDroppedNotErrored covers the "log and
// return" branch for a document.created event whose document can't be
// found.
func TestFilter_Wrap_MissingDocumentIsDroppedNotErrored(t *testing.T) {
	repos, _, resolver, _ := setupFilter(t)

	filter := NewFilter(repos.Documents, resolver)
	var invoked bool
	wrapped := filter.Wrap("transcribe", func(ctx context.Context, doc models.Document) error {
		invoked = true
		return nil
	})

	err := wrapped(context.Background(), models.Event{ID: "e1", Type: "document.created", Payload: map[string]any{"document_id": "ghost"}})
	require.NoError(t, err)
	assert.False(t, invoked)
}
