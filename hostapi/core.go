package hostapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/machinefabric/pluginbus-go/bifaci"
)

// CoreAPI answers GetURLPluginData and broadcasts DataReloaded.
type CoreAPI struct {
	ipc     IPC
	urlHash func() string

	mu         sync.Mutex
	lastLoaded *int64
}

// NewCoreAPI creates the core API. urlHash returns the host's current URL
// hash.
func NewCoreAPI(ipc IPC, urlHash func() string) *CoreAPI {
	return &CoreAPI{ipc: ipc, urlHash: urlHash}
}

// Init registers the GetURLPluginData handler.
func (c *CoreAPI) Init() {
	bifaci.Handle(c.ipc, GetURLPluginData, func(ctx context.Context, _ Empty) (map[string]string, error) {
		plugin, ok := c.ipc.PluginFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("request does not come from a registered plugin")
		}
		return PluginData(ParseURLHash(c.urlHash()), plugin), nil
	})
}

// SetLastLoadedTime records when the host last loaded data, in
// milliseconds. DataReloaded is broadcast when the time is set and differs
// from the previous one.
func (c *CoreAPI) SetLastLoadedTime(ms *int64) {
	c.mu.Lock()
	changed := ms != nil && (c.lastLoaded == nil || *c.lastLoaded != *ms)
	if ms != nil {
		v := *ms
		c.lastLoaded = &v
	} else {
		c.lastLoaded = nil
	}
	c.mu.Unlock()

	if changed {
		c.ipc.Notify(DataReloaded.Name(), Empty{})
	}
}
