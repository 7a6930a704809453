package protocol

import (
	"errors"
	"io"
)

// Frame constants.
const (
	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 4

	// DefaultMaxFrameSize is the default maximum payload size (4MB).
	DefaultMaxFrameSize = 4 * 1024 * 1024

	// HardMaxFrameSize is the absolute ceiling for a payload (16MB).
	// Larger configured limits are capped at this value.
	HardMaxFrameSize = 16 * 1024 * 1024
)

// Frame errors.
var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
)

// AppendFrame appends the frame for payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	n := uint32(len(payload))
	dst = append(dst, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame. The header and payload are written
// with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > HardMaxFrameSize {
		return ErrFrameTooLarge
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, FrameHeaderSize+len(payload)), payload))
	return err
}

// ReadFrame reads one frame and returns its payload. Payloads larger than
// maxSize fail with ErrFrameTooLarge; maxSize <= 0 selects
// DefaultMaxFrameSize. A clean end of input before the header returns io.EOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if maxSize > HardMaxFrameSize {
		maxSize = HardMaxFrameSize
	}

	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if uint64(length) > uint64(maxSize) {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return payload, nil
}
