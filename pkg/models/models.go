// Package models holds the persistence-shaped entity types shared across
// the orchestrator core: documents, document types, sources, plugins.
package models

import "time"

// DocumentType is a named classification registered by the plugin that
// produces or consumes it (e.g. "audio", "transcription", "summary").
type DocumentType struct {
	Name             string         `json:"name"`
	DisplayName      string         `json:"display_name"`
	RegisteredBy     string         `json:"registered_by"` // plugin name
	MimeTypes        []string       `json:"mime_types"`
	MetadataSchema   map[string]any `json:"metadata_schema,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// StorageDescriptor locates the stored bytes of a document.
type StorageDescriptor struct {
	PluginName  string `json:"plugin_name"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// Document is a stable identifier for one stored artifact.
type Document struct {
	ID         string            `json:"id"`
	TypeName   string            `json:"type_name"`
	OwnerID    string            `json:"owner_id"`
	SourceID   *string           `json:"source_id,omitempty"`
	ParentID   *string           `json:"parent_id,omitempty"`
	Storage    StorageDescriptor `json:"storage"`
	Properties map[string]any    `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Source is a per-owner external identity that documents may be submitted
// under. The credential itself is stored only as a salted hash plus a
// short display prefix; the hash/verify mechanism lives outside the core
// model.
type Source struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	CredentialHash string    `json:"-"`
	CredentialPrefix string  `json:"credential_prefix"`
	CreatedAt      time.Time `json:"created_at"`
}

// PluginState is the lifecycle state of a loaded plugin instance.
type PluginState string

const (
	PluginDiscovered PluginState = "discovered"
	PluginLoading    PluginState = "loading"
	PluginInstalled  PluginState = "installed"
	PluginActive     PluginState = "active"
	PluginDisabled   PluginState = "disabled"
	PluginError      PluginState = "error"
)

// Capabilities is a bitset describing optional plugin behaviors.
type Capabilities uint32

const (
	CapHandlesDocuments Capabilities = 1 << iota
	CapEmitsEvents
	CapProducesChildren
)

func (c Capabilities) Has(f Capabilities) bool { return c&f != 0 }

// Manifest is the static metadata describing a plugin, readable without
// running its Setup hook.
type Manifest struct {
	Name              string       `json:"name"`
	Version           string       `json:"version"`
	InputTypes        []string     `json:"input_types"`
	OutputType        string       `json:"output_type,omitempty"`
	Priority          int          `json:"priority"`
	Dependencies      []string     `json:"dependencies,omitempty"`
	MaxConcurrentJobs int          `json:"max_concurrent_jobs"`
	Capabilities      Capabilities `json:"capabilities"`
}

// AcceptsInput reports whether the manifest declares t as a valid input type.
func (m Manifest) AcceptsInput(t string) bool {
	for _, in := range m.InputTypes {
		if in == t {
			return true
		}
	}
	return false
}

// PluginRecord is the runtime bookkeeping the registry holds for a loaded
// plugin: its manifest, current lifecycle state, and settings.
type PluginRecord struct {
	Manifest Manifest               `json:"manifest"`
	State    PluginState            `json:"state"`
	Settings map[string]any         `json:"settings,omitempty"`
	LoadErr  string                 `json:"load_error,omitempty"`
}
