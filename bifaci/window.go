package bifaci

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Window is something messages can be posted to: a plugin frame, the host
// page, or a proxy for a peer on the other end of a stream. Posting is
// fire-and-forget; the data is copied before PostMessage returns.
type Window interface {
	ID() string
	Name() string
	PostMessage(data []byte, source Window) error
}

// MessageEvent is one inbound delivery.
type MessageEvent struct {
	Data   []byte
	Source Window
}

// Inbox is a Window whose inbound messages can be observed by code running
// in that context.
type Inbox interface {
	Window
	// AddListener subscribes fn to every later delivery. The returned remove
	// func is idempotent; once called, fn is not invoked again, even for
	// events that were already queued.
	AddListener(fn func(MessageEvent)) (remove func())
}

type windowListener struct {
	fn     func(MessageEvent)
	active atomic.Bool
}

// LocalWindow is an in-process browsing context: a FIFO inbox drained by a
// single event-loop goroutine. Listeners run one at a time, in post order.
type LocalWindow struct {
	id   string
	name string

	mu        sync.Mutex
	queue     []MessageEvent
	listeners []*windowListener // copy-on-write
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewLocalWindow creates a window and starts its event loop.
func NewLocalWindow(name string) *LocalWindow {
	w := &LocalWindow{
		id:   uuid.New().String(),
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *LocalWindow) ID() string   { return w.id }
func (w *LocalWindow) Name() string { return w.name }

// PostMessage enqueues a copy of data. It never blocks on listeners.
func (w *LocalWindow) PostMessage(data []byte, source Window) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWindowClosed
	}
	w.queue = append(w.queue, MessageEvent{
		Data:   append([]byte(nil), data...),
		Source: source,
	})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *LocalWindow) AddListener(fn func(MessageEvent)) func() {
	l := &windowListener{fn: fn}
	l.active.Store(true)

	w.mu.Lock()
	listeners := make([]*windowListener, 0, len(w.listeners)+1)
	listeners = append(listeners, w.listeners...)
	w.listeners = append(listeners, l)
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			w.mu.Lock()
			defer w.mu.Unlock()
			remaining := make([]*windowListener, 0, len(w.listeners))
			for _, other := range w.listeners {
				if other != l {
					remaining = append(remaining, other)
				}
			}
			w.listeners = remaining
		})
	}
}

// Close stops the event loop. Queued events are discarded and later posts
// fail with ErrWindowClosed.
func (w *LocalWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.queue = nil
	close(w.done)
	return nil
}

// Done is closed when the window is closed.
func (w *LocalWindow) Done() <-chan struct{} {
	return w.done
}

func (w *LocalWindow) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		for {
			ev, listeners, ok := w.next()
			if !ok {
				break
			}
			for _, l := range listeners {
				if l.active.Load() {
					l.fn(ev)
				}
			}
		}
	}
}

func (w *LocalWindow) next() (MessageEvent, []*windowListener, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.queue) == 0 {
		return MessageEvent{}, nil, false
	}
	ev := w.queue[0]
	w.queue[0] = MessageEvent{}
	w.queue = w.queue[1:]
	return ev, w.listeners, true
}
