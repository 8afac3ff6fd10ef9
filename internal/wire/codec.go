// Package wire implements the message framing used between client and
// server: every logical value travels as one length-delimited frame
// (big-endian uint32 length followed by the payload bytes).
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame. Certificates and signatures are a few
// kilobytes; anything near the limit is a broken or hostile peer.
const MaxFrameSize = 1 << 20

const (
	StatusOK   int64 = 1
	StatusFail int64 = -1
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrStatusFail    = errors.New("peer reported failure status")
)

// Codec reads and writes frames over a single connection. It is not safe for
// concurrent use; each connection has exactly one owner.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

func (c *Codec) WriteBytes(p []byte) error {
	if len(p) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(p)))

	if _, err := c.w.Write(length[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}

	if _, err := c.w.Write(p); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}

	return nil
}

func (c *Codec) ReadBytes() ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(c.r, length[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(length[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	p := make([]byte, n)
	if _, err := io.ReadFull(c.r, p); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return p, nil
}

func (c *Codec) WriteString(s string) error {
	return c.WriteBytes([]byte(s))
}

func (c *Codec) ReadString() (string, error) {
	p, err := c.ReadBytes()
	if err != nil {
		return "", err
	}

	return string(p), nil
}

func (c *Codec) WriteInt64(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))

	return c.WriteBytes(buf[:])
}

func (c *Codec) ReadInt64() (int64, error) {
	p, err := c.ReadBytes()
	if err != nil {
		return 0, err
	}

	if len(p) != 8 {
		return 0, fmt.Errorf("int64 frame has %d bytes, want 8", len(p))
	}

	return int64(binary.BigEndian.Uint64(p)), nil
}

func (c *Codec) WriteBool(v bool) error {
	b := byte(0)
	if v {
		b = 1
	}

	return c.WriteBytes([]byte{b})
}

func (c *Codec) ReadBool() (bool, error) {
	p, err := c.ReadBytes()
	if err != nil {
		return false, err
	}

	if len(p) != 1 {
		return false, fmt.Errorf("bool frame has %d bytes, want 1", len(p))
	}

	return p[0] != 0, nil
}

// WriteStatus sends the ok/fail marker (1 or -1) used throughout the
// handshake and command loop.
func (c *Codec) WriteStatus(ok bool) error {
	if ok {
		return c.WriteInt64(StatusOK)
	}

	return c.WriteInt64(StatusFail)
}

// ReadStatus reads a status frame and returns ErrStatusFail when the peer
// reported failure.
func (c *Codec) ReadStatus() error {
	v, err := c.ReadInt64()
	if err != nil {
		return err
	}

	if v != StatusOK {
		return ErrStatusFail
	}

	return nil
}
