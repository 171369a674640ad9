package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

// LoadProjectConfig reads the per-workspace ProjectConfig (spec §3, §6) from
// path, returning a zero-value config if the file does not yet exist (first
// run, before a channel has been selected).
func LoadProjectConfig(path string) (model.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.ProjectConfig{}, nil
		}
		return model.ProjectConfig{}, errors.Wrapf(err, "read %s", path)
	}
	var cfg model.ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.ProjectConfig{}, errors.Wrapf(err, "decode %s", path)
	}
	return cfg, nil
}

// SaveProjectConfig persists cfg atomically, the same temp-file-then-rename
// idiom internal/registry.Registry uses, since this file is read at every
// daemon startup alongside the mapping registry.
func SaveProjectConfig(path string, cfg model.ProjectConfig) error {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal project config")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "mkdir project config dir")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write project config tmp file")
	}
	return errors.Wrap(os.Rename(tmp, path), "rename project config tmp file")
}
