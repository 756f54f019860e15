package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/cadenzahq/cadenza/errors"
)

// OverlayConfigPath returns the path of the API-managed overlay file in
// ~/.cadenza/overlay.toml. Settings changed through the API land here so
// hand-edited config files are never rewritten.
func OverlayConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cadenza", "overlay.toml")
}

// UpdateDefaultTaskBudget persists the default task budget to the overlay.
func UpdateDefaultTaskBudget(amountUSD float64) error {
	return updateOverlay("budget", "default_task_budget_usd", amountUSD)
}

// UpdateAlertThreshold persists the budget alert threshold to the overlay.
func UpdateAlertThreshold(threshold float64) error {
	return updateOverlay("budget", "alert_threshold", threshold)
}

// UpdateAutoPauseOnExhaust persists the auto-pause flag to the overlay.
func UpdateAutoPauseOnExhaust(enabled bool) error {
	return updateOverlay("budget", "auto_pause_on_exhaust", enabled)
}

func updateOverlay(section, key string, value interface{}) error {
	overlay, overlayPath, err := loadOrInitializeOverlay()
	if err != nil {
		return err
	}

	sec, ok := overlay[section].(map[string]interface{})
	if !ok {
		sec = make(map[string]interface{})
	}
	sec[key] = value
	overlay[section] = sec

	return saveOverlay(overlay, overlayPath)
}

func loadOrInitializeOverlay() (map[string]interface{}, string, error) {
	overlayPath := OverlayConfigPath()
	if overlayPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	if err := os.MkdirAll(filepath.Dir(overlayPath), DefaultDirPermissions); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .cadenza directory")
	}

	var overlay map[string]interface{}
	if data, err := os.ReadFile(overlayPath); err == nil {
		if err := toml.Unmarshal(data, &overlay); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse overlay config")
		}
	} else {
		overlay = make(map[string]interface{})
	}
	return overlay, overlayPath, nil
}

func saveOverlay(overlay map[string]interface{}, overlayPath string) error {
	if err := createBackup(overlayPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(overlay)
	if err != nil {
		return errors.Wrap(err, "failed to marshal overlay config")
	}

	// Mark as our own write so the watcher does not reload in a loop.
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(overlayPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write overlay config")
	}
	return nil
}

// createBackup rotates backups (.back1, .back2, .back3) before modifying
// the overlay file.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
