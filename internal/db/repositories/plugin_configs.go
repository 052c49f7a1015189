package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docpipe/pkg/models"
)

// PluginConfigRepo persists the parts of plugin state that survive
// restarts: lifecycle state, settings, and the concurrency cap. It is
// the config store guarding enable/disable flag mutation after startup.
type PluginConfigRepo struct{ db *sql.DB }

func NewPluginConfigRepo(db *sql.DB) *PluginConfigRepo { return &PluginConfigRepo{db: db} }

func (r *PluginConfigRepo) Upsert(ctx context.Context, rec *models.PluginRecord) error {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("marshal plugin settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO plugin_configs (plugin_name, state, settings, max_concurrent_jobs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plugin_name) DO UPDATE SET
			state = excluded.state,
			settings = excluded.settings,
			max_concurrent_jobs = excluded.max_concurrent_jobs,
			updated_at = CURRENT_TIMESTAMP`,
		rec.Manifest.Name, string(rec.State), string(settings), rec.Manifest.MaxConcurrentJobs)
	if err != nil {
		return fmt.Errorf("upsert plugin config: %w", err)
	}
	return nil
}

// SetEnabled flips the only field that may mutate after startup outside
// full reload.
func (r *PluginConfigRepo) SetEnabled(ctx context.Context, pluginName string, enabled bool) error {
	state := models.PluginActive
	if !enabled {
		state = models.PluginDisabled
	}
	_, err := r.db.ExecContext(ctx, `UPDATE plugin_configs SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE plugin_name = ?`, string(state), pluginName)
	if err != nil {
		return fmt.Errorf("set plugin enabled: %w", err)
	}
	return nil
}

// LoadAllSettings returns every persisted plugin's settings blob, keyed by
// plugin name, for the Loader to pass into each Setup call at startup.
func (r *PluginConfigRepo) LoadAllSettings(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT plugin_name, settings FROM plugin_configs`)
	if err != nil {
		return nil, fmt.Errorf("load plugin settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var name, settings string
		if err := rows.Scan(&name, &settings); err != nil {
			return nil, fmt.Errorf("scan plugin settings: %w", err)
		}
		var parsed map[string]any
		if settings != "" {
			if err := json.Unmarshal([]byte(settings), &parsed); err != nil {
				return nil, fmt.Errorf("unmarshal settings for %s: %w", name, err)
			}
		}
		out[name] = parsed
	}
	return out, rows.Err()
}

func (r *PluginConfigRepo) GetState(ctx context.Context, pluginName string) (models.PluginState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT state FROM plugin_configs WHERE plugin_name = ?`, pluginName)
	var state string
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get plugin state: %w", err)
	}
	return models.PluginState(state), nil
}
