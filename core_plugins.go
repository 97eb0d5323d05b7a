package compositor

import (
	"slices"

	"github.com/gogpu/compositor/layers"
)

// pluginState tracks the native plugin windows of a core. Compositor
// thread only.
type pluginState struct {
	lastTree layers.ID
	cached   []layers.PluginWindow

	// deferUpdates is set while plugins are hidden on request.
	deferUpdates bool

	// responsePending holds composition back until the peer confirmed the
	// last plugin update with RemotePluginsReady.
	responsePending bool
}

func pluginsEqual(a, b []layers.PluginWindow) bool {
	return slices.EqualFunc(a, b, func(x, y layers.PluginWindow) bool {
		return x.ID == y.ID && x.Bounds == y.Bounds && x.Visible == y.Visible && slices.Equal(x.Clip, y.Clip)
	})
}

// updatePluginWindows applies the plugin lists of the composited trees. It
// reports whether an update was sent to a peer that will confirm it.
func (c *Core) updatePluginWindows(trees []layers.ID) bool {
	sent := false
	for _, tree := range trees {
		if c.updatePluginWindowState(tree) {
			sent = true
		}
	}
	return sent
}

// updatePluginWindowState sends the plugin list of tree to the peer when it
// changed since the last update.
func (c *Core) updatePluginWindowState(tree layers.ID) bool {
	var (
		plugins []layers.PluginWindow
		updated bool
	)
	c.host.registry.update(tree, func(st *LayerTreeState) {
		if st.Owner == c && st.PluginsUpdated {
			updated = true
			plugins = layers.ClonePlugins(st.Plugins)
		}
	})
	if !updated {
		return false
	}

	changed := c.plugins.lastTree != tree || !pluginsEqual(plugins, c.plugins.cached)
	if c.plugins.deferUpdates {
		return false
	}

	pc, _ := c.peer.(PluginController)
	if len(plugins) == 0 {
		if pc != nil {
			pc.HideAllPlugins()
		}
	} else {
		if !changed {
			return false
		}
		if pc != nil {
			pc.UpdatePluginConfigurations(plugins)
		}
	}
	c.host.registry.update(tree, func(st *LayerTreeState) {
		st.PluginsUpdated = false
	})

	c.plugins.lastTree = tree
	c.plugins.cached = plugins
	Logger().Debug("compositor: plugin windows updated", "compositor", c.rootID, "tree", tree, "plugins", len(plugins))
	return pc != nil
}

// hideAllPlugins asks the peer to hide its plugins. It reports whether the
// peer controls plugins and so will answer with RemotePluginsReady.
func (c *Core) hideAllPlugins() bool {
	pc, ok := c.peer.(PluginController)
	if ok {
		pc.HideAllPlugins()
	}
	return ok
}

// HideAllPluginWindows hides every plugin window and stops plugin updates
// until ShowAllPluginWindows.
func (c *Core) HideAllPluginWindows() {
	c.host.dispatch(func() {
		if len(c.plugins.cached) == 0 || c.plugins.deferUpdates {
			return
		}
		c.plugins.deferUpdates = true
		c.plugins.responsePending = c.hideAllPlugins()
		c.ScheduleComposition()
	})
}

// ShowAllPluginWindows resumes plugin updates.
func (c *Core) ShowAllPluginWindows() {
	c.host.dispatch(func() {
		c.plugins.deferUpdates = false
		c.ScheduleComposition()
	})
}

// RemotePluginsReady is the peer's confirmation that the last plugin
// update was applied.
func (c *Core) RemotePluginsReady() {
	c.host.dispatch(func() {
		c.plugins.responsePending = false
		c.ScheduleComposition()
	})
}
