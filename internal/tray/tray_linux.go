//go:build linux

package tray

// TrayApp is a no-op on Linux (headless service, no system tray).
type TrayApp struct{}

// New creates a no-op TrayApp on Linux.
func New(serverAddr string, onQuit func()) *TrayApp {
	return &TrayApp{}
}

// Run is a no-op on Linux.
func (t *TrayApp) Run() {}

// RunWithServer starts the server directly on Linux, since there is no tray.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
}

// SetReaderCount is a no-op on Linux.
func (t *TrayApp) SetReaderCount(count int) {}

// IsSupported returns false on Linux (headless service, no system tray).
func IsSupported() bool {
	return false
}
