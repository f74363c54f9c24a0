// Package sandbox realizes the Worker's execution context: the mapping
// from symbolic object name to live instance, backed by Go's plugin
// package as the chosen "dynamic code loading" strategy (spec Design Note,
// option (a): a plug-in loader over shared objects with a fixed
// registration ABI). Go plugins cannot be unloaded except by process exit,
// which matches the spec's invariant that the module cache is cleared iff
// the Worker process is recycled.
//
// PushFunc and Factory are type aliases, not named types: the plugin's
// Register symbol is resolved by a bare type assertion (see Load), which
// requires the dynamic type to be identical to the asserted one. An
// uploaded project is compiled as its own, separate main package and can
// never import this internal package, so the ABI is expressed purely in
// terms of ordinary function and map types a plugin author can declare
// without importing anything from gatewayd at all.
//
// It is intended for internal use by gatewayd only.
package sandbox

// PushFunc is the callable injected into a loaded plugin's globals so user
// code can stream asynchronous events back to the client. If no callback
// channel is attached, implementations log and drop calls rather than
// panicking.
type PushFunc = func(event string, data map[string]any)

// Factory constructs a zero-argument instance of a registered object. The
// returned value is memoized by Context on first reference.
type Factory = func() any

// RegisterFunc is the entry point every user archive's compiled plugin must
// export as the symbol "Register". It receives the push callable bound to
// the current callback channel and returns the set of symbolic object
// names the archive exposes for process dispatch.
type RegisterFunc = func(push PushFunc) map[string]Factory

// InitFunc is the optional entry point a plugin may export as "Init",
// invoked once after Register succeeds.
type InitFunc func() error

// ModuleStop is the optional entry point a plugin may export as
// "ModuleStop", invoked during the best-effort stop protocol before any
// per-instance Stop() methods.
type ModuleStop func()

// Stopper is implemented by any registered instance that wants to be
// notified when the client disconnects, so it can halt background
// activity without losing its in-memory state.
type Stopper interface {
	Stop()
}
