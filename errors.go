package compositor

import "errors"

// Sentinel errors returned by the compositor.
var (
	// ErrHostClosed is returned when a host is used after Shutdown.
	ErrHostClosed = errors.New("compositor: host closed")

	// ErrUnknownLayerTree is returned when a layer tree id has no registry
	// entry.
	ErrUnknownLayerTree = errors.New("compositor: unknown layer tree")

	// ErrNoOwner is returned when a layer tree is not attached to a core.
	ErrNoOwner = errors.New("compositor: layer tree has no owning compositor")

	// ErrCompositorStopped is returned by a core after Stop or WillStop.
	ErrCompositorStopped = errors.New("compositor: stopped")

	// ErrBridgeDisconnected is returned by a bridge after Disconnect.
	ErrBridgeDisconnected = errors.New("compositor: bridge disconnected")

	// ErrSnapshotUnavailable is returned by MakeSnapshot when no frame
	// could be drawn, for example while paused or before the first
	// transaction.
	ErrSnapshotUnavailable = errors.New("compositor: snapshot unavailable")

	// ErrResumeFailed is returned when the backend could not reacquire its
	// surface. The core stays paused.
	ErrResumeFailed = errors.New("compositor: resume failed")

	// ErrAborted is returned by a synchronous wrapper whose operation
	// panicked on the compositor thread.
	ErrAborted = errors.New("compositor: operation aborted")
)
