package compositor

import (
	"time"

	"github.com/gogpu/compositor/layers"
)

// LayerTransactionHandler receives the messages of a layer transaction
// channel. A Core handles its own root tree; a Bridge handles the trees of
// one content process and forwards each message to the Core that owns the
// tree.
//
// Methods may be called from any goroutine. Work is executed on the
// compositor thread in the order the messages were sent.
type LayerTransactionHandler interface {
	ShadowLayersUpdated(txn layers.Transaction)
	ForceComposite(tree layers.ID)
	NotifyClearCachedResources(tree layers.ID)
	SetTestSampleTime(tree layers.ID, t time.Time) bool
	LeaveTestMode(tree layers.ID)
	ApplyAsyncProperties(tree layers.ID)
	FlushApzRepaints(tree layers.ID)
	GetAPZTestData(tree layers.ID) layers.TestData
	SetConfirmedTargetAPZC(tree layers.ID, inputBlockID uint64, targets []layers.ScrollableLayerGuid)
}

var (
	_ LayerTransactionHandler = (*Core)(nil)
	_ LayerTransactionHandler = (*Bridge)(nil)
)
