package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ManagedPlugin is one registered plugin window.
type ManagedPlugin struct {
	Name   string
	Window Window

	stream *StreamWindow // set for attached and spawned plugins
	cmd    *exec.Cmd     // set for spawned plugins
}

// Host is the host side of the channel. It keeps a registry of plugin
// windows, accepts messages only from registered plugins and can broadcast
// a request to all of them.
//
// Plugins are either registered directly (in-process windows), attached
// (already-connected streams) or spawned (child processes speaking the
// stream protocol on stdin/stdout).
type Host struct {
	*Endpoint

	mu      sync.RWMutex
	plugins []*ManagedPlugin
}

// NewHost creates a host listening on self.
func NewHost(self Inbox, opts ...Option) *Host {
	o := buildOptions(opts)
	h := &Host{}
	o.accept = h.accepts
	h.Endpoint = open(self, o)
	return h
}

func (h *Host) accepts(w Window) bool {
	_, ok := h.PluginName(w)
	return ok
}

// RegisterPlugin adds w to the registry under name. Broadcasts reach
// plugins in registration order.
func (h *Host) RegisterPlugin(name string, w Window) error {
	return h.register(&ManagedPlugin{Name: name, Window: w})
}

func (h *Host) register(p *ManagedPlugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.plugins {
		if existing.Name == p.Name {
			return &ChannelError{Type: ChannelErrorTypeDuplicatePlugin, Message: p.Name}
		}
	}
	h.plugins = append(h.plugins, p)
	h.opts.logger.Info().Str("plugin", p.Name).Msg("plugin registered")
	return nil
}

// UnregisterPlugin removes the named plugin. Requests still pending on it
// are rejected with ErrPeerDetached; attached streams are closed and spawned
// processes killed.
func (h *Host) UnregisterPlugin(name string) error {
	h.mu.Lock()
	var removed *ManagedPlugin
	for i, p := range h.plugins {
		if p.Name == name {
			removed = p
			h.plugins = append(h.plugins[:i:i], h.plugins[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if removed == nil {
		return &ChannelError{Type: ChannelErrorTypeUnknownPlugin, Message: name}
	}
	h.detach(removed)
	return nil
}

func (h *Host) detach(p *ManagedPlugin) {
	abandoned := h.correlator.Abandon(p.Window)
	if p.stream != nil {
		_ = p.stream.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		go h.reap(p)
	}
	h.opts.logger.Info().Str("plugin", p.Name).Int("abandoned", abandoned).Msg("plugin detached")
}

// Plugins returns the registered plugin names in registration order.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.plugins))
	for i, p := range h.plugins {
		names[i] = p.Name
	}
	return names
}

// Plugin returns the window registered under name.
func (h *Host) Plugin(name string) (Window, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.plugins {
		if p.Name == name {
			return p.Window, true
		}
	}
	return nil, false
}

// PluginName returns the registered name of w.
func (h *Host) PluginName(w Window) (string, bool) {
	if w == nil {
		return "", false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.plugins {
		if p.Window.ID() == w.ID() {
			return p.Name, true
		}
	}
	return "", false
}

// PluginFromContext names the plugin whose request a handler is serving.
func (h *Host) PluginFromContext(ctx context.Context) (string, bool) {
	req, ok := RequestFromContext(ctx)
	if !ok {
		return "", false
	}
	return h.PluginName(req.Source)
}

func (h *Host) snapshot() []*ManagedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*ManagedPlugin(nil), h.plugins...)
}

// SendTo calls a single plugin by name.
func (h *Host) SendTo(ctx context.Context, name, msgType string, payload interface{}) (Payload, error) {
	w, ok := h.Plugin(name)
	if !ok {
		return nil, &ChannelError{Type: ChannelErrorTypeUnknownPlugin, Message: name}
	}
	return h.Call(ctx, w, msgType, payload)
}

type outstanding struct {
	plugin *ManagedPlugin
	future *Future[Payload]
	id     MessageId
}

// broadcastSend posts one request per registered plugin, in registration
// order, before anything is awaited.
func (h *Host) broadcastSend(msgType string, payload interface{}) ([]outstanding, error) {
	body, err := NewPayload(payload)
	if err != nil {
		return nil, err
	}
	peers := h.snapshot()
	sent := make([]outstanding, 0, len(peers))
	for _, p := range peers {
		future, id, err := h.correlator.send(p.Window, msgType, body)
		if err != nil {
			h.forgetAll(sent)
			return nil, err
		}
		sent = append(sent, outstanding{plugin: p, future: future, id: id})
	}
	return sent, nil
}

func (h *Host) forgetAll(sent []outstanding) {
	for _, o := range sent {
		if !o.future.Settled() {
			h.correlator.forget(o.id)
		}
	}
}

// Broadcast sends a request to every registered plugin and waits for all
// replies. Replies are returned in registration order. The first failure
// (a rejected reply or ctx ending) is returned at once; later replies are
// ignored. With no plugins registered the result is empty.
func (h *Host) Broadcast(ctx context.Context, msgType string, payload interface{}) ([]Payload, error) {
	sent, err := h.broadcastSend(msgType, payload)
	if err != nil {
		return nil, err
	}
	defer h.forgetAll(sent)

	// Forgotten futures never settle; cancel releases their awaiters.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		idx     int
		payload Payload
		err     error
	}
	results := make(chan result, len(sent))
	for i, o := range sent {
		go func(i int, f *Future[Payload]) {
			v, err := f.Await(ctx)
			results <- result{idx: i, payload: v, err: err}
		}(i, o.future)
	}

	replies := make([]Payload, len(sent))
	for range sent {
		r := <-results
		if r.err != nil {
			h.opts.logger.Debug().
				Err(r.err).
				Str("plugin", sent[r.idx].plugin.Name).
				Str("type", msgType).
				Msg("broadcast failed")
			return nil, r.err
		}
		replies[r.idx] = r.payload
	}
	return replies, nil
}

// BroadcastResult is one plugin's outcome of BroadcastSettled.
type BroadcastResult struct {
	Plugin  string
	Payload Payload
	Err     error
}

// BroadcastSettled is Broadcast without fail-fast: it waits for every
// plugin to reply or fail and reports each outcome.
func (h *Host) BroadcastSettled(ctx context.Context, msgType string, payload interface{}) ([]BroadcastResult, error) {
	sent, err := h.broadcastSend(msgType, payload)
	if err != nil {
		return nil, err
	}
	return h.settle(ctx, sent), nil
}

func (h *Host) settle(ctx context.Context, sent []outstanding) []BroadcastResult {
	defer h.forgetAll(sent)
	out := make([]BroadcastResult, len(sent))
	var wg sync.WaitGroup
	for i, o := range sent {
		wg.Add(1)
		go func(i int, o outstanding) {
			defer wg.Done()
			v, err := o.future.Await(ctx)
			out[i] = BroadcastResult{Plugin: o.plugin.Name, Payload: v, Err: err}
		}(i, o)
	}
	wg.Wait()
	return out
}

// Notify broadcasts without waiting. Requests are posted before Notify
// returns, so successive notifications arrive in order; replies are
// collected in the background and failures logged.
func (h *Host) Notify(msgType string, payload interface{}) {
	sent, err := h.broadcastSend(msgType, payload)
	if err != nil {
		h.opts.logger.Warn().Err(err).Str("type", msgType).Msg("notify failed")
		return
	}
	if len(sent) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, h.opts.notifyTimeout)
		defer cancel()
		for _, r := range h.settle(ctx, sent) {
			if r.Err != nil {
				h.opts.logger.Debug().
					Err(r.Err).
					Str("plugin", r.Plugin).
					Str("type", msgType).
					Msg("notification not acknowledged")
			}
		}
	}()
}

// AttachPlugin registers a plugin already connected over r/w. The stream is
// closed (and the plugin unregistered) when it ends or on UnregisterPlugin.
// Closing the stream closes r if it is an io.Closer, plus any closers given;
// a reader that is neither keeps its goroutine blocked until it returns.
func (h *Host) AttachPlugin(name string, r io.Reader, w io.Writer, closers ...io.Closer) (*StreamWindow, error) {
	return h.attach(name, r, w, nil, closers...)
}

func (h *Host) attach(name string, r io.Reader, w io.Writer, cmd *exec.Cmd, closers ...io.Closer) (*StreamWindow, error) {
	stream := NewStreamWindow(h.Self(), name, r, w,
		WithStreamLimits(h.opts.limits),
		WithStreamLogger(h.opts.logger.With().Str("plugin", name).Logger()),
		WithStreamClosers(closers...),
	)
	if err := h.register(&ManagedPlugin{Name: name, Window: stream, stream: stream, cmd: cmd}); err != nil {
		_ = stream.Close()
		return nil, err
	}
	stream.OnClose(func(err error) {
		h.streamEnded(name, stream, err)
	})
	stream.Start()
	return stream, nil
}

func (h *Host) streamEnded(name string, stream *StreamWindow, cause error) {
	h.mu.Lock()
	var removed *ManagedPlugin
	for i, p := range h.plugins {
		if p.Name == name && p.Window.ID() == stream.ID() {
			removed = p
			h.plugins = append(h.plugins[:i:i], h.plugins[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if cause != nil {
		h.opts.logger.Warn().Err(cause).Str("plugin", name).Msg("plugin stream failed")
	}
	if removed != nil {
		h.detach(removed)
	}
}

func (h *Host) reap(p *ManagedPlugin) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.opts.logger.Warn().Err(err).Str("plugin", p.Name).Msg("wait for plugin failed")
		return
	}
	h.opts.logger.Info().Str("plugin", p.Name).Int("exit_code", p.cmd.ProcessState.ExitCode()).Msg("plugin exited")
}

// SpawnPlugin starts path as a child process and attaches it over its
// stdin and stdout. The child's stderr is passed through. The process is
// killed when ctx ends.
func (h *Host) SpawnPlugin(ctx context.Context, name, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start plugin %s: %w", name, err)
	}

	if _, err := h.attach(name, stdout, stdin, cmd, stdin); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	return nil
}

// Close detaches every plugin and closes the endpoint.
func (h *Host) Close() error {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = nil
	h.mu.Unlock()

	for _, p := range plugins {
		h.detach(p)
	}
	return h.Endpoint.Close()
}

// shutdownGrace is how long Shutdown waits for in-flight requests.
const shutdownGrace = 2 * time.Second

// Shutdown waits up to shutdownGrace for pending requests to settle, then
// closes the host.
func (h *Host) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for h.Pending() > 0 {
		select {
		case <-ctx.Done():
			return h.Close()
		case <-ticker.C:
		}
	}
	return h.Close()
}
