// Package pluginlib is what a plugin uses to talk to the host's
// experimental API.
package pluginlib

import (
	"context"

	"github.com/machinefabric/pluginbus-go/bifaci"
	"github.com/machinefabric/pluginbus-go/hostapi"
)

// Lib groups the API surfaces.
type Lib struct {
	Runs *Runs
	Core *Core
}

// New binds the library to a guest endpoint.
func New(g *bifaci.Guest) *Lib {
	return &Lib{
		Runs: &Runs{guest: g},
		Core: &Core{guest: g},
	}
}

// Runs exposes the host's run list.
type Runs struct {
	guest *bifaci.Guest
}

// GetRuns returns the run names the host currently shows.
func (r *Runs) GetRuns(ctx context.Context) ([]string, error) {
	return bifaci.InvokeHost(ctx, r.guest, hostapi.GetRuns, hostapi.Empty{})
}

// SetOnRunsChanged calls fn with the new run names whenever they change.
// A nil fn unsubscribes.
func (r *Runs) SetOnRunsChanged(fn func(runs []string)) {
	if fn == nil {
		r.guest.Unlisten(hostapi.RunsChanged.Name())
		return
	}
	bifaci.Handle(r.guest, hostapi.RunsChanged, func(ctx context.Context, runs []string) (hostapi.Empty, error) {
		fn(runs)
		return hostapi.Empty{}, nil
	})
}

// Core exposes host state that is not tied to runs.
type Core struct {
	guest *bifaci.Guest
}

// GetURLPluginData returns this plugin's entries from the host URL hash.
func (c *Core) GetURLPluginData(ctx context.Context) (map[string]string, error) {
	return bifaci.InvokeHost(ctx, c.guest, hostapi.GetURLPluginData, hostapi.Empty{})
}

// SetOnDataReload calls fn when the host reloads its data. A nil fn
// unsubscribes.
func (c *Core) SetOnDataReload(fn func()) {
	if fn == nil {
		c.guest.Unlisten(hostapi.DataReloaded.Name())
		return
	}
	bifaci.Handle(c.guest, hostapi.DataReloaded, func(ctx context.Context, _ hostapi.Empty) (hostapi.Empty, error) {
		fn()
		return hostapi.Empty{}, nil
	})
}
