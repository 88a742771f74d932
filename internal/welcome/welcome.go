// Package welcome shows a one-time platform notification on first launch
// and prompts for auto-start/crash-reporting opt-in.
package welcome

import (
	"os"
	"path/filepath"
)

func markerPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cardkit", ".welcomed"), nil
}

// IsFirstRun reports whether the welcome marker file is absent.
func IsFirstRun() bool {
	path, err := markerPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return os.IsNotExist(err)
}

// MarkAsShown writes the welcome marker file so IsFirstRun returns false
// on subsequent launches.
func MarkAsShown() error {
	path, err := markerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0644)
}
