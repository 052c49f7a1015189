// Package documents implements the document graph: the parent/child
// document entity, its creation and cascade deletion, and the
// document.created event it feeds into the bus.
package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/apperr"
	"docpipe/internal/db/repositories"
	"docpipe/internal/eventbus"
	"docpipe/pkg/models"
)

const documentCreatedEvent = "document.created"

// Graph wraps document creation and deletion with the parent/child
// invariants and emits document.created so the routing filter and any
// other subscriber can react.
type Graph struct {
	repo *repositories.DocumentRepo
	bus  *eventbus.Bus
}

func New(repo *repositories.DocumentRepo, bus *eventbus.Bus) *Graph {
	return &Graph{repo: repo, bus: bus}
}

// CreateInput is the caller-supplied shape for a new document; ID and
// timestamps are assigned by Create.
type CreateInput struct {
	TypeName   string
	OwnerID    string
	SourceID   *string
	ParentID   *string
	Storage    models.StorageDescriptor
	Properties map[string]any
}

// Create inserts a new document, requiring a declared parent to already
// exist and belong to the same owner before the insert, then emits
// document.created with persist=true so the event is durable.
func (g *Graph) Create(ctx context.Context, in CreateInput) (*models.Document, error) {
	if in.ParentID != nil {
		parent, err := g.repo.GetByID(ctx, *in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("document graph: look up parent %s: %w", *in.ParentID, err)
		}
		if parent == nil {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("parent document %s not found", *in.ParentID))
		}
		if parent.OwnerID != in.OwnerID {
			return nil, apperr.New(apperr.Validation, "parent document belongs to a different owner")
		}
	}

	now := time.Now()
	d := &models.Document{
		ID:         uuid.NewString(),
		TypeName:   in.TypeName,
		OwnerID:    in.OwnerID,
		SourceID:   in.SourceID,
		ParentID:   in.ParentID,
		Storage:    in.Storage,
		Properties: in.Properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// A fresh ID can never reference itself or any prior document as a
	// descendant, so a parent chain rooted at an existing document stays
	// acyclic by construction.
	if err := g.repo.Insert(ctx, nil, d); err != nil {
		return nil, fmt.Errorf("document graph: insert: %w", err)
	}

	g.bus.Emit(ctx, documentCreatedEvent, "document-graph", map[string]any{
		"document_id": d.ID,
		"type_name":   d.TypeName,
		"owner_id":    d.OwnerID,
	}, nil, models.SeverityInfo, true)

	return d, nil
}

// Get returns a document by id, or nil if it does not exist.
func (g *Graph) Get(ctx context.Context, id string) (*models.Document, error) {
	return g.repo.GetByID(ctx, id)
}

// Delete removes a document and its entire descendant subtree in one
// transaction.
func (g *Graph) Delete(ctx context.Context, id string) error {
	if err := g.repo.DeleteCascade(ctx, id); err != nil {
		return fmt.Errorf("document graph: delete %s: %w", id, err)
	}
	return nil
}
