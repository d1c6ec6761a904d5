package plugin

// ABIVersion is the version of the registration table shape. A dynamic
// plugin may export an ABIVersion int; when it does, it must match.
const ABIVersion = 1

// Exported symbol names resolved in a dynamic plugin.
const (
	EntryPointSymbol = "Load"
	ABIVersionSymbol = "ABIVersion"
)

// Entry is one row of a plugin's registration table.
type Entry struct {
	Name string
	Hook Hook
}

// LoadFunc is the signature of a plugin's exported Load function.
type LoadFunc = func() []Entry

// Library is a loaded dynamic library. *plugin.Plugin is adapted to it by
// the loader; tests use in-memory tables.
type Library interface {
	// Path identifies the library in errors and logs.
	Path() string
	// Lookup resolves an exported symbol.
	Lookup(symbol string) (any, error)
}

// Transmitter sends raw frames built by modules.
type Transmitter interface {
	Transmit(frame []byte) error
}
