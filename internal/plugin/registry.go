package plugin

import (
	"fmt"
	"sync"

	"docpipe/pkg/models"
)

// Registry holds loaded plugin instances and capability indices. It is
// constructed once at startup and passed explicitly rather than kept as
// a process global, so tests can build a fresh Registry trivially.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]Plugin
	records   map[string]*models.PluginRecord
	byInput   map[string][]string // input type -> plugin names accepting it
}

func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]Plugin),
		records:   make(map[string]*models.PluginRecord),
		byInput:   make(map[string][]string),
	}
}

// Install records a successfully initialized plugin and indexes it by
// the input types it declares, so the workflow store's
// ListCompatiblePlugins can answer without re-scanning every plugin.
func (r *Registry) Install(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := p.Manifest()
	r.instances[m.Name] = p
	r.records[m.Name] = &models.PluginRecord{Manifest: m, State: models.PluginActive}
	for _, in := range m.InputTypes {
		r.byInput[in] = append(r.byInput[in], m.Name)
	}
}

// MarkError records that a plugin failed to load, keeping its manifest
// (if known) but setting state to error.
func (r *Registry) MarkError(name string, manifest models.Manifest, loadErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := ""
	if loadErr != nil {
		msg = loadErr.Error()
	}
	r.records[name] = &models.PluginRecord{Manifest: manifest, State: models.PluginError, LoadErr: msg}
}

// Get returns the live plugin instance, if installed and active.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[name]
	if !ok {
		return nil, false
	}
	if rec, ok := r.records[name]; ok && rec.State != models.PluginActive {
		return nil, false
	}
	return p, true
}

// Record returns the bookkeeping record (state, manifest, settings) for
// a plugin by name, regardless of whether it is currently active.
func (r *Registry) Record(name string) (*models.PluginRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// SetEnabled toggles a plugin's state between active and disabled, the
// only mutation allowed after startup.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("plugin %s is not registered", name)
	}
	if enabled {
		rec.State = models.PluginActive
	} else {
		rec.State = models.PluginDisabled
	}
	return nil
}

// CompatibleWithInput returns the names of active plugins whose manifest
// declares acceptance of inputType.
func (r *Registry) CompatibleWithInput(inputType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.byInput[inputType] {
		if rec, ok := r.records[name]; ok && rec.State == models.PluginActive {
			out = append(out, name)
		}
	}
	return out
}

// All returns every plugin record the registry holds, whatever its state,
// including plugins that failed to load.
func (r *Registry) All() []*models.PluginRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.PluginRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Instances returns every successfully installed plugin instance
// regardless of active/disabled state, for the shutdown coordinator's
// per-plugin shutdown hook.
func (r *Registry) Instances() map[string]Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Plugin, len(r.instances))
	for name, p := range r.instances {
		out[name] = p
	}
	return out
}
