// Package plugin implements the plugin registry and plugin loader:
// discovery, dependency-ordered loading, capability registration, and
// lifecycle management.
//
// The plugin contract is a capability record + function table rather
// than a class hierarchy, and plugins are registered at compile time via
// Register from each plugin package's init().
package plugin

import (
	"context"

	"docpipe/pkg/models"
)

// EventPublisher is the minimal slice of the Event Bus a plugin needs
// during Setup: emitting lifecycle facts and registering the document
// types it produces or consumes.
type EventPublisher interface {
	Emit(eventType, origin string, payload map[string]any, severity models.Severity)
	RegisterDocumentType(t models.DocumentType) error
}

// Document is the read-only view of a document passed to a plugin's
// handler; it mirrors models.Document but keeps the plugin package
// decoupled from the persistence-shaped type.
type Document = models.Document

// Plugin is the contract every processing unit implements.
type Plugin interface {
	// Manifest returns static metadata, readable without Setup having run.
	Manifest() models.Manifest
	// Setup is invoked once, in dependency order, with this plugin's
	// persisted settings.
	Setup(ctx context.Context, bus EventPublisher, settings map[string]any) error
	// HandleDocumentCreated runs the plugin's document.created logic. The
	// routing filter has already confirmed this plugin belongs in the
	// document's resolved workflow before calling this.
	HandleDocumentCreated(ctx context.Context, doc Document) error
	// Shutdown releases any resources the plugin holds, budgeted to 5s
	// per plugin during the graceful shutdown drain.
	Shutdown(ctx context.Context) error
}

// Factory constructs a fresh Plugin instance. Plugins register a Factory
// from their package init(), populating the compile-time registration
// table that the Loader enumerates instead of scanning a directory.
type Factory func() Plugin

var factories = map[string]Factory{}

// Register adds a plugin factory to the compile-time registration table.
// Calling Register twice for the same name panics, since that indicates
// two plugin packages colliding on a name at build time, not a runtime
// condition to recover from.
func Register(name string, f Factory) {
	if _, exists := factories[name]; exists {
		panic("plugin: duplicate registration for " + name)
	}
	factories[name] = f
}

// Factories returns a snapshot of the compile-time registration table.
func Factories() map[string]Factory {
	out := make(map[string]Factory, len(factories))
	for k, v := range factories {
		out[k] = v
	}
	return out
}
