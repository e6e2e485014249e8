package relay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a frame accepted by [ReadFrame]
// when no other limit is configured.
const DefaultMaxFrameSize = 1 << 20

// FrameTooLargeError is returned from [ReadFrame]
// when a length prefix exceeds the allowed size.
type FrameTooLargeError struct {
	Size uint64
	Max  int
}

func (e FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame size %d exceeds maximum %d", e.Size, e.Max)
}

// AppendFrame appends payload with its length prefix to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// FrameReader is satisfied by [*bufio.Reader].
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads one frame from r.
// It returns [io.EOF] only if r ends cleanly between frames.
func ReadFrame(r FrameReader, maxSize int) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	if n > uint64(maxSize) {
		return nil, FrameTooLargeError{Size: n, Max: maxSize}
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}
