// Package hostapi implements the host side of the experimental plugin API:
// run listings, URL-hash plugin data and data-reload notifications.
package hostapi

import (
	"context"

	"github.com/machinefabric/pluginbus-go/bifaci"
)

// Empty is the payload of messages that carry no data.
type Empty struct{}

var (
	// GetRuns asks the host for the run names of the current experiments.
	GetRuns = bifaci.NewMessageType[Empty, []string]("experimental.GetRuns")
	// RunsChanged is broadcast with the new run names.
	RunsChanged = bifaci.NewMessageType[[]string, Empty]("experimental.RunsChanged")
	// GetURLPluginData asks for the calling plugin's URL-hash entries.
	GetURLPluginData = bifaci.NewMessageType[Empty, map[string]string]("experimental.GetURLPluginData")
	// DataReloaded is broadcast when the host has reloaded its data.
	DataReloaded = bifaci.NewMessageType[Empty, Empty]("experimental.DataReloaded")
)

// IPC is the part of *bifaci.Host the APIs need.
type IPC interface {
	Listen(msgType string, fn bifaci.HandlerFunc)
	Notify(msgType string, payload interface{})
	PluginFromContext(ctx context.Context) (string, bool)
}

var _ IPC = (*bifaci.Host)(nil)
