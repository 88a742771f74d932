package pcsc

import "strings"

// ReaderKind distinguishes a base reader from one whose vendor extensions
// (LED/buzzer/PICC escape commands) the core is aware of but does not
// implement itself.
type ReaderKind string

const (
	ReaderKindBase           ReaderKind = "base"
	ReaderKindVendorExtended ReaderKind = "vendor_extended"
)

// Reader describes one enumerated PC/SC reader.
type Reader struct {
	Name string
	Kind ReaderKind
}

// ClassifyReader applies the case-insensitive substring match from spec
// §4.7: names containing "acr122" or "acr125" are vendor-extended.
func ClassifyReader(name string) ReaderKind {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "acr122") || strings.Contains(lower, "acr125") {
		return ReaderKindVendorExtended
	}
	return ReaderKindBase
}

// Manager is the Provider Adapter: it enumerates readers from a PC/SC
// context and classifies each one.
type Manager struct {
	ctx Context
}

// NewManager constructs a Manager over an already-established Context.
func NewManager(ctx Context) *Manager {
	return &Manager{ctx: ctx}
}

// ListReaders enumerates and classifies every reader currently visible to
// the provider.
func (m *Manager) ListReaders() ([]Reader, error) {
	names, err := m.ctx.ListReaders()
	if err != nil {
		return nil, err
	}
	readers := make([]Reader, 0, len(names))
	for _, name := range names {
		readers = append(readers, Reader{Name: name, Kind: ClassifyReader(name)})
	}
	return readers, nil
}

// NewSession constructs a Reader Session for one of the enumerated readers.
func (m *Manager) NewSession(readerName string) *Session {
	return NewSession(m.ctx, readerName)
}

// Close releases the underlying PC/SC context.
func (m *Manager) Close() error {
	return m.ctx.Release()
}
