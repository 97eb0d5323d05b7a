package backend

import (
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Factory creates a new backend instance.
type Factory func() Backend

// backends holds registered backends. Priority order for selection: the
// first registered name in the list wins, unlisted names come last.
var backends = gpucontext.NewRegistry[Backend](
	gpucontext.WithPriority(NameSoftware),
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	backends.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	backends.Unregister(name)
}

// Available returns a list of registered backend names.
func Available() []string {
	return backends.Available()
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return backends.Has(name)
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) Backend {
	return backends.Get(name)
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() Backend {
	return backends.Best()
}

// Select picks a backend for device. Software adapters and hosts without
// a device get the software backend when it is registered.
func Select(device gpucontext.DeviceProvider) Backend {
	if device == nil || device.AdapterInfo().Type == gpucontext.AdapterTypeSoftware {
		if b := Get(NameSoftware); b != nil {
			return b
		}
	}
	return Default()
}

// Open creates the backend registered as name, or the one Select picks when
// name is empty, and initializes it for window.
func Open(name string, window gpucontext.WindowProvider, device gpucontext.DeviceProvider) (Backend, error) {
	var b Backend
	if name == "" {
		b = Select(device)
	} else {
		b = Get(name)
	}
	if b == nil {
		if name == "" {
			return nil, ErrBackendNotAvailable
		}
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}

	if err := b.Init(window, device); err != nil {
		return nil, fmt.Errorf("backend %s: init: %w", b.Name(), err)
	}
	return b, nil
}
