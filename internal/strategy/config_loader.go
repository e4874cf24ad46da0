package strategy

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Symbol     string         `yaml:"symbol" json:"symbol"`
	Interval   string         `yaml:"interval" json:"interval"`
	Parameters map[string]any `yaml:"parameters" json:"parameters"`
	IsActive   bool           `yaml:"is_active" json:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and checks a strategies document. Every entry must
// build, so a typo fails at load instead of on the first bar.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	var errs []error
	seen := make(map[string]bool, len(file.Strategies))
	for i, cfg := range file.Strategies {
		if cfg.ID == "" {
			errs = append(errs, fmt.Errorf("strategies[%d]: missing id", i))
			continue
		}
		if seen[cfg.ID] {
			errs = append(errs, fmt.Errorf("strategies[%d]: duplicate id %q", i, cfg.ID))
			continue
		}
		seen[cfg.ID] = true
		if _, err := New(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return file.Strategies, nil
}

// Active returns the first active entry.
func Active(configs []Config) (Config, bool) {
	for _, cfg := range configs {
		if cfg.IsActive {
			return cfg, true
		}
	}
	return Config{}, false
}

// SyncConfigToDB upserts strategies from config into the database.
func SyncConfigToDB(db *sql.DB, configs []Config) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO strategy_instances (id, name, strategy_type, symbol, interval, parameters, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			strategy_type = excluded.strategy_type,
			symbol = excluded.symbol,
			interval = excluded.interval,
			parameters = excluded.parameters,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cfg := range configs {
		paramsJSON, err := json.Marshal(cfg.Parameters)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters for strategy %s: %w", cfg.ID, err)
		}

		_, err = stmt.Exec(
			cfg.ID,
			cfg.Name,
			cfg.Type,
			cfg.Symbol,
			cfg.Interval,
			string(paramsJSON),
			cfg.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", cfg.ID, err)
		}
	}

	return tx.Commit()
}
