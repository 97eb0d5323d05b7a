// Package backend provides the graphics collaborator that draws composited
// frames.
//
// A Backend is bound to one native window (gpucontext.WindowProvider) and,
// optionally, a host GPU device (gpucontext.DeviceProvider). The compositor
// drives it with Composite, releases the window surface with Pause and
// tries to reacquire it with Resume.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The software backend is automatically registered on import:
//
//	b, err := backend.Open("", window, device)
//
// Open with an empty name picks the backend for the device: hosts without a
// device, or with a software adapter, get "software".
//
// # Available Backends
//
// - "software": CPU compositing into one plane per layer tree (always available)
package backend
