// Command docpipe wires every core component of the document-processing
// orchestrator together and runs until a termination signal arrives:
// load config, open storage, build each service in dependency order,
// serve, and drain gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"

	"docpipe/internal/api"
	"docpipe/internal/config"
	"docpipe/internal/db"
	"docpipe/internal/db/repositories"
	"docpipe/internal/documents"
	"docpipe/internal/eventbus"
	"docpipe/internal/logging"
	"docpipe/internal/plugin"
	"docpipe/internal/routing"
	"docpipe/internal/scheduler"
	"docpipe/internal/workflow"
	"docpipe/pkg/models"
)

func main() {
	if err := run(); err != nil {
		logging.Error("docpipe: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Initialize(cfg.Debug)

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	repos := repositories.New(database)

	bus := eventbus.New(cfg.RingBufferCount, cfg.RingBufferAge, cfg.ClientInboxSize, eventbus.WithPersister(repos.Events))

	broker, err := eventbus.NewBrokerBridge(bus, cfg.BrokerURL)
	if err != nil {
		// The broker is a cross-process fan-out convenience;
		// a single-process deployment still functions on the in-process bus
		// alone, so a connect failure here is logged, not fatal.
		logging.Error("broker bridge: %v (continuing without cross-process event relay)", err)
		broker = nil
	}

	registry := plugin.NewRegistry()
	publisher := plugin.NewPublisher(bus, repos.DocumentTypes)
	loader := plugin.NewLoader(registry, publisher)

	ctx := context.Background()
	settings, err := repos.PluginConfigs.LoadAllSettings(ctx)
	if err != nil {
		return fmt.Errorf("load plugin settings: %w", err)
	}
	report, err := loader.Load(ctx, settings)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	logging.Info("plugins loaded: %v, failed: %d, skipped: %v", report.Loaded, len(report.Failed), report.Skipped)
	for name, loadErr := range report.Failed {
		logging.Error("plugin %s failed to load: %v", name, loadErr)
	}

	typeProvider := plugin.NewTypeProviderAdapter(registry)
	workflows := workflow.NewStore(repos, typeProvider)
	resolver := workflow.NewResolver(workflows, typeProvider)

	graph := documents.New(repos.Documents, bus)

	jobStore := scheduler.NewJobStore(repos.Jobs)
	dispatcher := scheduler.NewDispatcher(jobStore, repos.Jobs, repos.Documents, registry, bus)

	filter := routing.NewFilter(repos.Documents, resolver)
	wireRouting(bus, filter, registry, resolver, dispatcher)

	coordinator := scheduler.NewCoordinator(dispatcher, broker, registry, bus, cfg.GracefulShutdownTimeout, cfg.ProgressPollInterval)

	apiServer := api.New(api.Deps{
		Cfg:        cfg,
		Workflows:  workflows,
		Resolver:   resolver,
		Bus:        bus,
		Dispatcher: dispatcher,
		Graph:      graph,
		Registry:   registry,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(runCtx); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		coordinator.Run(runCtx)
		close(done)
	}()

	select {
	case err := <-errCh:
		cancel()
		<-done
		return err
	case <-done:
		cancel()
		return nil
	}
}

// wireRouting subscribes one document.created handler per plugin record
// in the registry, each wrapped by the routing filter so it only fires when that
// plugin appears in the document's resolved workflow,
// and submits a scheduler job on a match rather than invoking the plugin
// inline.
func wireRouting(bus *eventbus.Bus, filter *routing.Filter, registry *plugin.Registry, resolver *workflow.Resolver, dispatcher *scheduler.Dispatcher) {
	for _, rec := range registry.All() {
		name := rec.Manifest.Name
		bus.Subscribe("document.created", filter.Wrap(name, func(ctx context.Context, doc models.Document) error {
			settings := stepSettings(ctx, resolver, doc, name)
			_, err := dispatcher.Submit(ctx, doc.ID, name, settings, false)
			if err == scheduler.ErrAlreadyDone {
				return nil
			}
			return err
		}))
	}
}

// stepSettings re-resolves the document's workflow to recover the
// settings map the matching step was configured with; Submit only
// stores it for audit on the job row. HandleDocumentCreated itself takes
// no settings parameter since the plugin contract applies settings at
// Setup time instead.
func stepSettings(ctx context.Context, resolver *workflow.Resolver, doc models.Document, pluginName string) map[string]any {
	steps, err := resolver.Resolve(ctx, workflow.DocumentRef{TypeName: doc.TypeName, OwnerID: doc.OwnerID, SourceID: doc.SourceID})
	if err != nil {
		return nil
	}
	for _, s := range steps {
		if s.PluginName == pluginName {
			return s.Settings
		}
	}
	return nil
}
