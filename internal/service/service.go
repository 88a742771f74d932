// Package service installs and removes the platform-specific auto-start
// entry that launches the agent at login.
package service

import "errors"

// ErrAlreadyInstalled is returned by the darwin and linux Install when the
// auto-start entry already exists; the windows Install overwrites it.
var ErrAlreadyInstalled = errors.New("service already installed")

// ErrNotInstalled is returned by the darwin and linux Uninstall when the
// auto-start entry does not exist.
var ErrNotInstalled = errors.New("service not installed")

// Service is the platform-specific auto-start installer surface; New
// returns the implementation for the current GOOS.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}
