package bifaci

import (
	"fmt"
)

// ChannelErrorType discriminates local channel failures.
type ChannelErrorType int

const (
	ChannelErrorTypeClosed ChannelErrorType = iota
	ChannelErrorTypePeerDetached
	ChannelErrorTypeEnvelopeTooLarge
	ChannelErrorTypeEncode
	ChannelErrorTypeNotEnvelope
	ChannelErrorTypeUnknownPlugin
	ChannelErrorTypeDuplicatePlugin
	ChannelErrorTypeWindowClosed
)

// ChannelError represents a failure on the local side of a channel.
// Transport-level anomalies on the wire never become ChannelErrors for the
// caller; they are absorbed and logged.
type ChannelError struct {
	Type    ChannelErrorType
	Message string
}

func (e *ChannelError) Error() string {
	switch e.Type {
	case ChannelErrorTypeClosed:
		return "channel is closed"
	case ChannelErrorTypePeerDetached:
		if e.Message != "" {
			return fmt.Sprintf("peer detached: %s", e.Message)
		}
		return "peer detached"
	case ChannelErrorTypeEnvelopeTooLarge:
		return fmt.Sprintf("envelope too large: %s", e.Message)
	case ChannelErrorTypeEncode:
		return fmt.Sprintf("encode error: %s", e.Message)
	case ChannelErrorTypeNotEnvelope:
		return fmt.Sprintf("not an envelope: %s", e.Message)
	case ChannelErrorTypeUnknownPlugin:
		return fmt.Sprintf("unknown plugin: %s", e.Message)
	case ChannelErrorTypeDuplicatePlugin:
		return fmt.Sprintf("plugin already registered: %s", e.Message)
	case ChannelErrorTypeWindowClosed:
		return "window is closed"
	default:
		return fmt.Sprintf("channel error: %s", e.Message)
	}
}

// Is matches on Type only, so the sentinels below work with errors.Is
// regardless of Message.
func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	ErrClosed           = &ChannelError{Type: ChannelErrorTypeClosed}
	ErrPeerDetached     = &ChannelError{Type: ChannelErrorTypePeerDetached}
	ErrEnvelopeTooLarge = &ChannelError{Type: ChannelErrorTypeEnvelopeTooLarge}
	ErrEncode           = &ChannelError{Type: ChannelErrorTypeEncode}
	ErrNotEnvelope      = &ChannelError{Type: ChannelErrorTypeNotEnvelope}
	ErrUnknownPlugin    = &ChannelError{Type: ChannelErrorTypeUnknownPlugin}
	ErrDuplicatePlugin  = &ChannelError{Type: ChannelErrorTypeDuplicatePlugin}
	ErrWindowClosed     = &ChannelError{Type: ChannelErrorTypeWindowClosed}
)

func notEnvelope(format string, args ...interface{}) error {
	return &ChannelError{Type: ChannelErrorTypeNotEnvelope, Message: fmt.Sprintf(format, args...)}
}

// RemoteError is the failure a peer's handler reported in an error reply.
type RemoteError struct {
	Type    string // message type of the failed request
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
