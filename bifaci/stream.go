package bifaci

import (
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// streamQueueSize bounds frames waiting for the writer goroutine.
const streamQueueSize = 256

// StreamWindow stands in for a peer reachable over a byte stream, such as a
// plugin subprocess on stdin/stdout. Posting to it writes a frame; frames read
// from the stream are posted into the local Inbox with the StreamWindow as
// their source, so replies find their way back.
type StreamWindow struct {
	id     string
	name   string
	local  Inbox
	reader *FrameReader
	writer *FrameWriter
	logger zerolog.Logger

	writerCh chan []byte
	done     chan struct{}
	start    sync.Once

	mu      sync.Mutex
	closed  bool
	err     error
	closers []io.Closer
	onClose []func(error)
}

// StreamOption configures a StreamWindow.
type StreamOption func(*StreamWindow)

// WithStreamLimits sets frame limits for both directions.
func WithStreamLimits(limits Limits) StreamOption {
	return func(s *StreamWindow) {
		s.reader.SetLimits(limits)
		s.writer.SetLimits(limits)
	}
}

// WithStreamLogger sets the logger for I/O failures.
func WithStreamLogger(logger zerolog.Logger) StreamOption {
	return func(s *StreamWindow) {
		s.logger = logger
	}
}

// WithStreamClosers registers resources closed together with the window.
func WithStreamClosers(closers ...io.Closer) StreamOption {
	return func(s *StreamWindow) {
		s.closers = append(s.closers, closers...)
	}
}

// WithStreamCloseHook registers fn to run once when the stream ends. err is
// nil on a clean EOF or an explicit Close.
func WithStreamCloseHook(fn func(error)) StreamOption {
	return func(s *StreamWindow) {
		s.onClose = append(s.onClose, fn)
	}
}

// ConnectStream starts a StreamWindow for the peer behind r/w. Inbound
// messages are delivered to local.
func ConnectStream(local Inbox, name string, r io.Reader, w io.Writer, opts ...StreamOption) *StreamWindow {
	s := NewStreamWindow(local, name, r, w, opts...)
	s.Start()
	return s
}

// NewStreamWindow creates a StreamWindow without starting its I/O
// goroutines. Frames posted before Start are queued. If r is an io.Closer
// it is closed with the window.
func NewStreamWindow(local Inbox, name string, r io.Reader, w io.Writer, opts ...StreamOption) *StreamWindow {
	s := &StreamWindow{
		id:       uuid.New().String(),
		name:     name,
		local:    local,
		reader:   NewFrameReader(r),
		writer:   NewFrameWriter(w),
		logger:   zerolog.Nop(),
		writerCh: make(chan []byte, streamQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// The reader goroutine only returns once r is closed.
	if c, ok := r.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	return s
}

// Start launches the reader and writer goroutines. Calling it again is a
// no-op.
func (s *StreamWindow) Start() {
	s.start.Do(func() {
		go s.writerLoop()
		go s.readerLoop()
	})
}

// OnClose registers fn to run when the stream ends. If the stream has
// already ended fn runs immediately.
func (s *StreamWindow) OnClose(fn func(error)) {
	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		fn(err)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *StreamWindow) ID() string   { return s.id }
func (s *StreamWindow) Name() string { return s.name }

// PostMessage queues data for the writer goroutine. When the queue is full
// the frame is dropped, like a message to a window that stopped listening.
func (s *StreamWindow) PostMessage(data []byte, source Window) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrWindowClosed
	}

	frame := append([]byte(nil), data...)
	select {
	case s.writerCh <- frame:
		return nil
	case <-s.done:
		return ErrWindowClosed
	default:
		s.logger.Warn().Str("peer", s.name).Msg("stream write queue full, frame dropped")
		return nil
	}
}

// Done is closed when the stream has ended.
func (s *StreamWindow) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, or nil.
func (s *StreamWindow) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream and releases registered closers.
func (s *StreamWindow) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *StreamWindow) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = cause
	close(s.done)
	closers := s.closers
	hooks := s.onClose
	s.mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	for _, fn := range hooks {
		fn(cause)
	}
}

// writerLoop writes queued frames until the stream ends.
func (s *StreamWindow) writerLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.writerCh:
			if err := s.writer.WriteFrame(frame); err != nil {
				s.logger.Debug().Err(err).Str("peer", s.name).Msg("stream write failed")
				s.shutdown(err)
				return
			}
		}
	}
}

// readerLoop forwards inbound frames to the local inbox.
func (s *StreamWindow) readerLoop() {
	for {
		frame, err := s.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = nil
			}
			s.shutdown(err)
			return
		}
		if postErr := s.local.PostMessage(frame, s); postErr != nil {
			s.shutdown(postErr)
			return
		}
	}
}
