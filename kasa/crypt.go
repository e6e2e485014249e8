package kasa

import (
	"encoding/binary"
	"fmt"
	"io"
)

// initialKey seeds the autokey XOR cipher used by Kasa devices.
const initialKey byte = 171

// maxFrameSize bounds the length prefix accepted from a device.
// Real sysinfo responses are well under a kilobyte.
const maxFrameSize = 64 * 1024

// Encrypt obfuscates p in place.
// Each output byte becomes the key for the next input byte.
func Encrypt(p []byte) {
	key := initialKey
	for i := range p {
		p[i] ^= key
		key = p[i]
	}
}

// Decrypt reverses [Encrypt] in place.
func Decrypt(p []byte) {
	key := initialKey
	for i := range p {
		c := p[i]
		p[i] = c ^ key
		key = c
	}
}

// WriteFrame encrypts a copy of msg and writes it with its length prefix.
// msg itself is not modified.
func WriteFrame(w io.Writer, msg []byte) error {
	buf := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[4:], msg)
	Encrypt(buf[4:])

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame and returns its decrypted body.
// Frames longer than 64 KiB are rejected without reading the body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", n, maxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	Decrypt(body)
	return body, nil
}
