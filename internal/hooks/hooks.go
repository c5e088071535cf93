// Package hooks defines the component lifecycle extension points. Components
// may ship scripted behavior; the engine only sees this interface, and a
// scripting adapter can live behind it.
package hooks

// ComponentHooks receives lifecycle callbacks while the executor drives a
// component's operations.
type ComponentHooks interface {
	// ComponentLoaded is a per-component callback for use after the forest is
	// built; the executor does not call it.
	ComponentLoaded(name string)
	// InstallStarted fires before the component's first operation.
	InstallStarted(name string)
	// InstallFinished fires after the component's last operation, with the
	// error that stopped it, if any.
	InstallFinished(name string, err error)
	// OperationBegin fires before each operation's perform phase.
	OperationBegin(component, description string)
	// OperationEnd fires after each operation's perform phase.
	OperationEnd(component, description string, err error)
}

// Nop is the default no-op hook set.
type Nop struct{}

func (Nop) ComponentLoaded(string)             {}
func (Nop) InstallStarted(string)              {}
func (Nop) InstallFinished(string, error)      {}
func (Nop) OperationBegin(string, string)      {}
func (Nop) OperationEnd(string, string, error) {}

var _ ComponentHooks = Nop{}
