package plugin

import (
	"context"

	"docpipe/internal/db/repositories"
	"docpipe/internal/eventbus"
	"docpipe/pkg/models"
)

// busPublisher adapts the Event Bus and the document-type repository into
// the narrow EventPublisher surface a plugin's Setup hook receives,
// keeping plugin code decoupled from both concrete types.
type busPublisher struct {
	bus   *eventbus.Bus
	types *repositories.DocumentTypeRepo
}

// NewPublisher builds the EventPublisher passed to every plugin's Setup.
func NewPublisher(bus *eventbus.Bus, types *repositories.DocumentTypeRepo) EventPublisher {
	return &busPublisher{bus: bus, types: types}
}

func (p *busPublisher) Emit(eventType, origin string, payload map[string]any, severity models.Severity) {
	p.bus.Emit(context.Background(), eventType, origin, payload, nil, severity, true)
}

func (p *busPublisher) RegisterDocumentType(t models.DocumentType) error {
	return p.types.Upsert(context.Background(), &t)
}
