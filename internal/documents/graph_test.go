package documents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/apperr"
	"docpipe/internal/db"
	"docpipe/internal/db/repositories"
	"docpipe/internal/eventbus"
	"docpipe/pkg/models"
)

func setupGraph(t *testing.T) (*Graph, *eventbus.Bus) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	bus := eventbus.New(1000, 15*time.Minute, 100)
	repos := repositories.New(database)
	for _, n := range []string{"audio", "transcription", "summary"} {
		require.NoError(t, repos.DocumentTypes.Upsert(context.Background(), &models.DocumentType{Name: n, DisplayName: n, RegisteredBy: "test"}))
	}
	return New(repos.Documents, bus), bus
}

// TestGraph_Create_EmitsDocumentCreated checks that a successful Create
// emits a document.created event carrying the new document's id.
func TestGraph_Create_EmitsDocumentCreated(t *testing.T) {
	g, bus := setupGraph(t)
	ctx := context.Background()

	var seen models.Event
	done := make(chan struct{})
	bus.Subscribe("document.created", func(ctx context.Context, e models.Event) error {
		seen = e
		close(done)
		return nil
	})

	doc, err := g.Create(ctx, CreateInput{TypeName: "audio", OwnerID: "user-1"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for document.created")
	}
	assert.Equal(t, doc.ID, seen.Payload["document_id"])
}

// TestGraph_Create_RejectsMissingParent covers the requirement that a
// declared parent must already exist.
func TestGraph_Create_RejectsMissingParent(t *testing.T) {
	g, _ := setupGraph(t)
	ctx := context.Background()

	missing := "does-not-exist"
	_, err := g.Create(ctx, CreateInput{TypeName: "transcription", OwnerID: "user-1", ParentID: &missing})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

// TestGraph_Create_RejectsParentOwnedByAnotherUser covers the parent
// same-owner requirement.
func TestGraph_Create_RejectsParentOwnedByAnotherUser(t *testing.T) {
	g, _ := setupGraph(t)
	ctx := context.Background()

	parent, err := g.Create(ctx, CreateInput{TypeName: "audio", OwnerID: "user-1"})
	require.NoError(t, err)

	_, err = g.Create(ctx, CreateInput{TypeName: "transcription", OwnerID: "user-2", ParentID: &parent.ID})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

// TestGraph_Delete_CascadesToDescendants verifies that deleting a
// document removes its entire descendant subtree.
func TestGraph_Delete_CascadesToDescendants(t *testing.T) {
	g, _ := setupGraph(t)
	ctx := context.Background()

	root, err := g.Create(ctx, CreateInput{TypeName: "audio", OwnerID: "user-1"})
	require.NoError(t, err)
	child, err := g.Create(ctx, CreateInput{TypeName: "transcription", OwnerID: "user-1", ParentID: &root.ID})
	require.NoError(t, err)
	grandchild, err := g.Create(ctx, CreateInput{TypeName: "summary", OwnerID: "user-1", ParentID: &child.ID})
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, root.ID))

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		got, err := g.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, "descendant %s should have been cascade-deleted", id)
	}
}

func TestGraph_Get_UnknownReturnsNilNotError(t *testing.T) {
	g, _ := setupGraph(t)
	got, err := g.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}
