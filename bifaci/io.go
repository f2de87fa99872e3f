package bifaci

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader reads length-prefixed frames from a stream. Each frame holds
// exactly one encoded envelope.
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits.normalize()
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > fr.limits.MaxEnvelope {
		return nil, fmt.Errorf("frame size %d exceeds max_envelope limit %d", length, fr.limits.MaxEnvelope)
	}

	if int(length) > MaxEnvelopeHardLimit {
		return nil, fmt.Errorf("frame size %d exceeds hard limit %d", length, MaxEnvelopeHardLimit)
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		return nil, err
	}
	return frameBuf, nil
}

// FrameWriter writes length-prefixed frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits.normalize()
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) > fw.limits.MaxEnvelope {
		return fmt.Errorf("frame size %d exceeds max_envelope limit %d", len(data), fw.limits.MaxEnvelope)
	}

	if len(data) > MaxEnvelopeHardLimit {
		return fmt.Errorf("frame size %d exceeds hard limit %d", len(data), MaxEnvelopeHardLimit)
	}

	// Prefix and body go out in a single Write.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	if _, err := fw.writer.Write(buf); err != nil {
		return err
	}
	return nil
}
