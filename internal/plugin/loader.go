package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docpipe/internal/logging"
	"docpipe/pkg/models"
)

// DependencyError reports a plugin dependency graph that could not be
// topologically ordered: either an edge points at an unknown plugin, or
// the graph contains a cycle.
type DependencyError struct {
	UnknownDeps map[string][]string // plugin -> dependency names that don't resolve
	Cycle       []string            // plugin names participating in a cycle, if any
}

func (e *DependencyError) Error() string {
	var parts []string
	for p, deps := range e.UnknownDeps {
		parts = append(parts, fmt.Sprintf("%s depends on unknown plugin(s) %s", p, strings.Join(deps, ", ")))
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> ")))
	}
	return "plugin dependency error: " + strings.Join(parts, "; ")
}

// LoadReport summarizes the outcome of one Load call so a caller can
// surface exactly which plugins failed and why, rather than one opaque
// aggregate error.
type LoadReport struct {
	Loaded []string
	Failed map[string]error
	Skipped []string // plugins left unloaded by a DependencyError (unknown dependency or cycle)
}

// Loader discovers, orders, and initializes plugins.
type Loader struct {
	registry *Registry
	bus      EventPublisher
}

func NewLoader(registry *Registry, bus EventPublisher) *Loader {
	return &Loader{registry: registry, bus: bus}
}

// candidate is one plugin ready to be ordered and initialized, resolved
// from the compile-time registration table. Discover does not produce
// candidates; it only lists directory names.
type candidate struct {
	name     string
	manifest models.Manifest
	factory  Factory
}

// Load builds the dependency graph over every statically registered
// plugin factory, topologically orders it, and initializes each plugin
// in order.
func (l *Loader) Load(ctx context.Context, settings map[string]map[string]any) (*LoadReport, error) {
	candidates := make([]candidate, 0, len(factories))
	for name, f := range Factories() {
		// Metadata extraction without running Setup: build
		// a throwaway instance and read its manifest only.
		inst := f()
		candidates = append(candidates, candidate{name: name, manifest: inst.Manifest(), factory: f})
	}
	return l.load(ctx, candidates, settings)
}

func (l *Loader) load(ctx context.Context, candidates []candidate, settings map[string]map[string]any) (*LoadReport, error) {
	byName := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		byName[c.name] = c
	}

	order, depErr := topoSort(candidates)

	report := &LoadReport{Failed: make(map[string]error)}

	if depErr != nil {
		logging.Error("plugin loader: %v", depErr)
		// A dependency error fails the load for the implicated plugins and
		// proceeds with the rest. Mark every plugin implicated in the
		// error as errored, then continue loading whatever the topo sort
		// still managed to order.
		implicated := map[string]bool{}
		for p := range depErr.UnknownDeps {
			implicated[p] = true
		}
		for _, p := range depErr.Cycle {
			implicated[p] = true
		}
		for p := range implicated {
			c, ok := byName[p]
			var m models.Manifest
			if ok {
				m = c.manifest
			}
			l.registry.MarkError(p, m, depErr)
			report.Failed[p] = depErr
			report.Skipped = append(report.Skipped, p)
		}
	}

	for _, name := range order {
		c := byName[name]
		inst := c.factory()
		pluginSettings := settings[name]

		if err := inst.Setup(ctx, l.bus, pluginSettings); err != nil {
			logging.Error("plugin %s: setup failed: %v", name, err)
			l.registry.MarkError(name, c.manifest, err)
			report.Failed[name] = err
			continue
		}

		l.registry.Install(inst)
		report.Loaded = append(report.Loaded, name)
		logging.Info("plugin %s: active", name)
	}

	sort.Strings(report.Loaded)
	return report, nil
}

// topoSort runs Kahn's algorithm over the dependency → dependent edges
// declared by each candidate's manifest. It returns the plugins that
// could be ordered (sorted alphabetically among ties on priority, for
// determinism) and, if the graph was not fully orderable, a
// DependencyError describing why.
func topoSort(candidates []candidate) ([]string, *DependencyError) {
	names := make(map[string]bool, len(candidates))
	byName := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		names[c.name] = true
		byName[c.name] = c
	}

	unknown := map[string][]string{}
	indegree := map[string]int{}
	dependents := map[string][]string{} // dependency -> plugins that depend on it
	for _, c := range candidates {
		indegree[c.name] = 0
	}
	for _, c := range candidates {
		for _, dep := range c.manifest.Dependencies {
			if !names[dep] {
				unknown[c.name] = append(unknown[c.name], dep)
				continue
			}
			dependents[dep] = append(dependents[dep], c.name)
			indegree[c.name]++
		}
	}

	// Remove plugins with unknown dependencies from the graph entirely;
	// they can never be satisfied.
	blocked := map[string]bool{}
	for p := range unknown {
		blocked[p] = true
	}

	var ready []string
	for _, c := range candidates {
		if blocked[c.name] {
			continue
		}
		if indegree[c.name] == 0 {
			ready = append(ready, c.name)
		}
	}
	sortReady := func() {
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := byName[ready[i]].manifest.Priority, byName[ready[j]].manifest.Priority
			if pi != pj {
				return pi > pj
			}
			return ready[i] < ready[j]
		})
	}

	var order []string
	visited := map[string]bool{}
	for len(ready) > 0 {
		sortReady() // higher priority first, then name within a priority tier
		n := ready[0]
		ready = ready[1:]
		if blocked[n] || visited[n] {
			continue
		}
		visited[n] = true
		order = append(order, n)

		var nextReady []string
		for _, dep := range dependents[n] {
			if blocked[dep] {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				nextReady = append(nextReady, dep)
			}
		}
		ready = append(ready, nextReady...)
	}

	var cycle []string
	for _, c := range candidates {
		if !blocked[c.name] && !visited[c.name] {
			cycle = append(cycle, c.name)
		}
	}
	sort.Strings(cycle)

	if len(unknown) == 0 && len(cycle) == 0 {
		return order, nil
	}
	return order, &DependencyError{UnknownDeps: unknown, Cycle: cycle}
}

// Discover scans dir for plugin-manifest candidates on disk, for
// deployments that ship plugins as separate binaries loaded via
// plugin.Open rather than compiled into this module (see Open Questions
// in DESIGN.md). Non-candidate subdirectories (missing a manifest, or
// named with the reserved "_" prefix) are skipped with a warning, never
// a fatal error.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover plugins in %s: %w", dir, err)
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "_") {
			logging.Info("plugin discovery: warning: skipping %s (reserved \"_\" prefix)", e.Name())
			continue
		}
		manifestPath := filepath.Join(dir, e.Name(), "manifest.json")
		if _, err := os.Stat(manifestPath); err != nil {
			logging.Info("plugin discovery: warning: skipping %s (no manifest.json)", e.Name())
			continue
		}
		found = append(found, e.Name())
	}
	sort.Strings(found)
	return found, nil
}
