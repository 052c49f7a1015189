// Package routing implements the routing filter: the per-plugin
// event-handler wrapper that consults the workflow Resolver and drops
// events whose document does not route through this plugin, keeping
// plugin code itself unaware of scope resolution.
package routing

import (
	"context"
	"fmt"

	"docpipe/internal/logging"
	"docpipe/internal/workflow"
	"docpipe/pkg/models"
)

const documentCreatedEvent = "document.created"

// DocumentLookup is the narrow document-read dependency the filter needs.
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// Filter wraps a plugin's raw event handler so it only fires when the
// plugin is present in the resolved workflow for the event's document.
type Filter struct {
	docs     DocumentLookup
	resolver *workflow.Resolver
}

func NewFilter(docs DocumentLookup, resolver *workflow.Resolver) *Filter {
	return &Filter{docs: docs, resolver: resolver}
}

// Wrap returns a handler suitable for eventbus.Bus.Subscribe that, for
// document.created events, looks up the document, resolves its workflow,
// and only invokes handler if pluginName appears among the resolved
// steps. Every other event type is ignored.
func (f *Filter) Wrap(pluginName string, handler func(ctx context.Context, doc models.Document) error) func(ctx context.Context, e models.Event) error {
	return func(ctx context.Context, e models.Event) error {
		if e.Type != documentCreatedEvent {
			return nil
		}

		docID, ok := e.Payload["document_id"].(string)
		if !ok || docID == "" {
			logging.Error("routing filter: document.created event %s missing document_id", e.ID)
			return nil
		}

		doc, err := f.docs.GetByID(ctx, docID)
		if err != nil {
			return fmt.Errorf("routing filter: lookup document %s: %w", docID, err)
		}
		if doc == nil {
			logging.Debug("routing filter: document %s not found, dropping event for %s", docID, pluginName)
			return nil
		}

		steps, err := f.resolver.Resolve(ctx, workflow.DocumentRef{
			TypeName: doc.TypeName,
			OwnerID:  doc.OwnerID,
			SourceID: doc.SourceID,
		})
		if err != nil {
			return fmt.Errorf("routing filter: resolve workflow for document %s: %w", docID, err)
		}

		if !inSteps(pluginName, steps) {
			return nil
		}

		return handler(ctx, *doc)
	}
}

func inSteps(pluginName string, steps []models.ResolvedStep) bool {
	for _, s := range steps {
		if s.PluginName == pluginName {
			return true
		}
	}
	return false
}
