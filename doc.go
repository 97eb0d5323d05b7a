// Package compositor schedules composition and coordinates the frames of
// several content processes composited by one process.
//
// # Overview
//
// A [Host] is the process-wide compositing service. It runs the
// compositor thread, a single goroutine that executes every compositing
// task in FIFO order, and owns the layer tree [Registry] that maps each
// layer tree id to its compositing state.
//
// A [Core] owns the pipeline of one native window: a backend that draws
// pixels, a layer manager holding the root layer tree, and a vsync
// scheduler deciding when to composite. Composition is paced by vsync, by
// explicit requests, or runs as soon as possible in asap mode.
//
// A [Bridge] is the channel of one content process. It holds no
// compositing state. Every message names a layer tree; the bridge looks up
// the core that composites that tree in the registry and forwards the
// message. Both Core and Bridge implement [LayerTransactionHandler].
//
// # Transactions and completions
//
// Content sends its layer tree as a [layers.Transaction]. Once a composite
// that includes the transaction has finished, the sender receives a
// [layers.Completion] carrying the transaction id. While a core is paused
// or cannot draw, pending transactions are acknowledged with a synthetic
// completion whose start and end are equal, so senders never wait for a
// frame that will not come.
//
// # Threading
//
// Methods are safe for concurrent use unless documented as compositor
// thread only. Messages are posted to the compositor thread and run in the
// order they were sent. The synchronous pause and resume wrappers,
// snapshots and the test-mode calls block the caller until the compositor
// thread has handled them.
//
// # Quick Start
//
//	host := compositor.NewHost()
//	defer host.Shutdown(context.Background())
//
//	source := vsync.NewTimerSource(0)
//	defer source.Close()
//
//	core, err := host.NewCore(window, compositor.WithVsyncDispatcher(source))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	core.ShadowLayersUpdated(layers.Transaction{
//	    ID:                1,
//	    Root:              root,
//	    ScheduleComposite: true,
//	})
//
// # Logging
//
// Nothing is logged by default. See [SetLogger].
package compositor
