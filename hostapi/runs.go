package hostapi

import (
	"context"
	"sync"

	"github.com/machinefabric/pluginbus-go/bifaci"
)

// Run is one run of an experiment.
type Run struct {
	ID   string
	Name string
}

// Experiment is an experiment currently shown by the host.
type Experiment struct {
	ID   string
	Runs []Run
}

// RunsAPI answers GetRuns and broadcasts RunsChanged.
type RunsAPI struct {
	ipc IPC

	mu    sync.Mutex
	names []string
	ids   []string
}

// NewRunsAPI creates the runs API over ipc.
func NewRunsAPI(ipc IPC) *RunsAPI {
	return &RunsAPI{ipc: ipc, names: []string{}}
}

// Init registers the GetRuns handler and broadcasts the current runs.
func (r *RunsAPI) Init() {
	bifaci.Handle(r.ipc, GetRuns, func(ctx context.Context, _ Empty) ([]string, error) {
		return r.Runs(), nil
	})
	r.mu.Lock()
	names := append([]string{}, r.names...)
	r.mu.Unlock()
	r.ipc.Notify(RunsChanged.Name(), names)
}

// Runs returns the latest run names.
func (r *RunsAPI) Runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.names...)
}

// Update replaces the runs with those of experiments, flattened in order.
// RunsChanged is broadcast only when the sequence of run ids changed.
func (r *RunsAPI) Update(experiments []Experiment) {
	names := []string{}
	var ids []string
	for _, exp := range experiments {
		for _, run := range exp.Runs {
			names = append(names, run.Name)
			ids = append(ids, run.ID)
		}
	}

	r.mu.Lock()
	changed := !equalStrings(ids, r.ids)
	r.names = names
	r.ids = ids
	r.mu.Unlock()

	if changed {
		r.ipc.Notify(RunsChanged.Name(), names)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
