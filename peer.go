package compositor

import (
	"time"

	"github.com/gogpu/compositor/layers"
)

// Peer is the far end of a compositing channel: the process that sent the
// transactions of a core's root tree or of a bridge's layer trees.
//
// Peer methods are called on the compositor thread and must not block.
type Peer interface {
	// DidComposite acknowledges a transaction that reached the screen.
	DidComposite(c layers.Completion)
}

// OverfillReceiver is implemented by peers that want RequestOverfill
// replies.
type OverfillReceiver interface {
	Overfill(ratio uint32)
}

// RemotePaintReceiver is implemented by peers that use
// RequestNotifyAfterRemotePaint.
type RemotePaintReceiver interface {
	RemotePaintIsReady()
}

// CacheClearer is implemented by peers that should drop their copy of a
// layer tree when it is evicted while hidden.
type CacheClearer interface {
	ClearCachedResources(tree layers.ID)
}

// PluginController is implemented by peers that own native plugin windows.
type PluginController interface {
	// HideAllPlugins hides every plugin window of the widget.
	HideAllPlugins()

	// UpdatePluginConfigurations moves, clips and shows plugin windows.
	UpdatePluginConfigurations(plugins []layers.PluginWindow)
}

// PeerFunc adapts a function to Peer.
type PeerFunc func(c layers.Completion)

// DidComposite calls f.
func (f PeerFunc) DidComposite(c layers.Completion) {
	f(c)
}

// APZ is the asynchronous pan/zoom collaborator.
type APZ interface {
	// UpdateHitTestingTree rebuilds hit testing after a transaction on tree.
	UpdateHitTestingTree(root layers.ID, rootLayer layers.Layer, firstPaint bool, tree layers.ID, paintSequence uint32)

	// SetConfirmedTargetAPZC confirms the scroll targets of an input block.
	SetConfirmedTargetAPZC(inputBlockID uint64, targets []layers.ScrollableLayerGuid)

	// FlushRepaints flushes pending repaint requests for tree.
	FlushRepaints(tree layers.ID)

	// NotifyLayerTreeAdopted and NotifyLayerTreeRemoved track trees moving
	// between compositors.
	NotifyLayerTreeAdopted(tree layers.ID, from *Core)
	NotifyLayerTreeRemoved(tree layers.ID)
}

// CompositionManager applies asynchronous transforms to the composited tree.
// Methods are called on the compositor thread.
type CompositionManager interface {
	// Updated is called for every transaction on the root tree.
	Updated(firstPaint bool, target layers.TargetConfig)

	// IsFirstPaint reports whether the next composite is the first after a
	// navigation.
	IsFirstPaint() bool

	// RequiresReorientation reports whether orientation differs from the
	// last composited one.
	RequiresReorientation(orientation layers.Orientation) bool

	// ReadyForCompose reports whether a pending forced composition may go
	// ahead.
	ReadyForCompose() bool

	// TransformShadowTree applies async transforms for time. It reports
	// whether another frame is needed.
	TransformShadowTree(t time.Time) bool
}

// staticComposition is the CompositionManager used without
// WithCompositionManager: no animations, no reorientation.
type staticComposition struct {
	firstPaint  bool
	orientation layers.Orientation
}

func (s *staticComposition) Updated(firstPaint bool, target layers.TargetConfig) {
	s.firstPaint = s.firstPaint || firstPaint
	s.orientation = target.Orientation
}

func (s *staticComposition) IsFirstPaint() bool { return s.firstPaint }

func (s *staticComposition) RequiresReorientation(orientation layers.Orientation) bool {
	return orientation != s.orientation
}

func (s *staticComposition) ReadyForCompose() bool { return true }

func (s *staticComposition) TransformShadowTree(time.Time) bool {
	s.firstPaint = false
	return false
}
