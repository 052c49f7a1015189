package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/pkg/models"
)

func mustMkdirWithManifest(t *testing.T, parent, name string) {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"name":"`+name+`"}`), 0o644))
}

func mustMkdirNoManifest(t *testing.T, parent, name string) {
	t.Helper()
	require.NoError(t, os.Mkdir(filepath.Join(parent, name), 0o755))
}

type stubPlugin struct {
	manifest   models.Manifest
	setupErr   error
	setupCalls *[]string
}

func (p *stubPlugin) Manifest() models.Manifest { return p.manifest }

func (p *stubPlugin) Setup(ctx context.Context, bus EventPublisher, settings map[string]any) error {
	if p.setupCalls != nil {
		*p.setupCalls = append(*p.setupCalls, p.manifest.Name)
	}
	return p.setupErr
}

func (p *stubPlugin) HandleDocumentCreated(ctx context.Context, doc Document) error { return nil }
func (p *stubPlugin) Shutdown(ctx context.Context) error                            { return nil }

type noopPublisher struct{}

func (noopPublisher) Emit(eventType, origin string, payload map[string]any, severity models.Severity) {
}
func (noopPublisher) RegisterDocumentType(t models.DocumentType) error { return nil }

func candidateFor(name string, deps []string, order *[]string) candidate {
	return candidate{
		name:     name,
		manifest: models.Manifest{Name: name, Dependencies: deps, InputTypes: []string{"x"}},
		factory: func() Plugin {
			return &stubPlugin{manifest: models.Manifest{Name: name, Dependencies: deps, InputTypes: []string{"x"}}, setupCalls: order}
		},
	}
}

// TestLoad_DependencyOrder verifies that every plugin's dependencies
// complete loading strictly before it does.
func TestLoad_DependencyOrder(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader(registry, noopPublisher{})

	var order []string
	candidates := []candidate{
		candidateFor("c", []string{"b"}, &order),
		candidateFor("b", []string{"a"}, &order),
		candidateFor("a", nil, &order),
	}

	report, err := loader.load(context.Background(), candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.Loaded)
}

// TestLoad_DependencyCycle verifies that two plugins depending on each
// other fail the load with a DependencyError, and neither reaches state
// active.
func TestLoad_DependencyCycle(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader(registry, noopPublisher{})

	var order []string
	candidates := []candidate{
		candidateFor("a", []string{"b"}, &order),
		candidateFor("b", []string{"a"}, &order),
	}

	report, err := loader.load(context.Background(), candidates, nil)
	require.NoError(t, err, "load itself does not return a fatal error, it degrades to a report")
	assert.Empty(t, order, "neither plugin in the cycle should ever have Setup invoked")
	assert.Empty(t, report.Loaded)

	for _, name := range []string{"a", "b"} {
		rec, ok := registry.Record(name)
		require.True(t, ok)
		assert.Equal(t, models.PluginError, rec.State)
		_, stillActive := registry.Get(name)
		assert.False(t, stillActive)
	}
}

func TestLoad_UnknownDependencyIsSkipped(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader(registry, noopPublisher{})

	var order []string
	candidates := []candidate{
		candidateFor("dependent", []string{"ghost"}, &order),
		candidateFor("independent", nil, &order),
	}

	report, err := loader.load(context.Background(), candidates, nil)
	require.NoError(t, err)
	assert.Contains(t, report.Loaded, "independent")
	assert.Contains(t, report.Skipped, "dependent")
	assert.NotContains(t, report.Loaded, "dependent")
}

func TestLoad_SetupFailureMarksErrorAndContinues(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader(registry, noopPublisher{})

	failing := candidate{
		name:     "failing",
		manifest: models.Manifest{Name: "failing"},
		factory: func() Plugin {
			return &stubPlugin{manifest: models.Manifest{Name: "failing"}, setupErr: assert.AnError}
		},
	}
	var order []string
	ok := candidateFor("ok", nil, &order)

	report, err := loader.load(context.Background(), []candidate{failing, ok}, nil)
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "failing")
	assert.Contains(t, report.Loaded, "ok")

	rec, found := registry.Record("failing")
	require.True(t, found)
	assert.Equal(t, models.PluginError, rec.State)
}

func TestLoad_PassesPerPluginSettings(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader(registry, noopPublisher{})

	var received map[string]any
	c := candidate{
		name:     "configured",
		manifest: models.Manifest{Name: "configured"},
		factory: func() Plugin {
			return &settingsCapturingPlugin{name: "configured", out: &received}
		},
	}

	_, err := loader.load(context.Background(), []candidate{c}, map[string]map[string]any{
		"configured": {"threshold": 0.5},
	})
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, 0.5, received["threshold"])
}

type settingsCapturingPlugin struct {
	name string
	out  *map[string]any
}

func (p *settingsCapturingPlugin) Manifest() models.Manifest { return models.Manifest{Name: p.name} }
func (p *settingsCapturingPlugin) Setup(ctx context.Context, bus EventPublisher, settings map[string]any) error {
	*p.out = settings
	return nil
}
func (p *settingsCapturingPlugin) HandleDocumentCreated(ctx context.Context, doc Document) error {
	return nil
}
func (p *settingsCapturingPlugin) Shutdown(ctx context.Context) error { return nil }

func TestDiscover_SkipsReservedPrefixAndMissingManifest(t *testing.T) {
	dir := t.TempDir()
	mustMkdirWithManifest(t, dir, "transcribe")
	mustMkdirNoManifest(t, dir, "not_a_plugin")
	mustMkdirWithManifest(t, dir, "_internal")

	found, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"transcribe"}, found)
}
