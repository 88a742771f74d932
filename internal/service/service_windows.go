//go:build windows

package service

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
)

const runKeyName = "CardKitNFCAgent"

type windowsService struct{}

// New creates a new platform-specific service manager.
func New() Service {
	return &windowsService{}
}

func (s *windowsService) openRunKey(writable bool) (registry.Key, error) {
	access := uint32(registry.QUERY_VALUE)
	if writable {
		access = registry.SET_VALUE | registry.QUERY_VALUE
	}
	return registry.OpenKey(registry.CURRENT_USER, `Software\Microsoft\Windows\CurrentVersion\Run`, access)
}

func (s *windowsService) Install() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	key, err := s.openRunKey(true)
	if err != nil {
		return fmt.Errorf("open Run key: %w", err)
	}
	defer key.Close()

	return key.SetStringValue(runKeyName, execPath)
}

func (s *windowsService) Uninstall() error {
	key, err := s.openRunKey(true)
	if err != nil {
		return fmt.Errorf("open Run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(runKeyName); err != nil && err != registry.ErrNotExist {
		return err
	}
	return nil
}

func (s *windowsService) IsInstalled() bool {
	key, err := s.openRunKey(false)
	if err != nil {
		return false
	}
	defer key.Close()

	_, _, err = key.GetStringValue(runKeyName)
	return err == nil
}

func (s *windowsService) Status() (string, error) {
	if s.IsInstalled() {
		return "installed", nil
	}
	return "not installed", nil
}
