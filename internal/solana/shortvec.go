package solana

import (
	"errors"
	"fmt"
)

// maxShortVec is the largest length a compact-u16 can carry.
const maxShortVec = 0xffff

var errShortBuffer = errors.New("unexpected end of data")

// appendShortVec appends n in Solana's compact-u16 encoding.
func appendShortVec(out []byte, n int) ([]byte, error) {
	if n < 0 || n > maxShortVec {
		return nil, fmt.Errorf("length %d does not fit compact-u16", n)
	}
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b), nil
		}
		out = append(out, b|0x80)
	}
}

func appendShortVecBytes(out []byte, b []byte) ([]byte, error) {
	out, err := appendShortVec(out, len(b))
	if err != nil {
		return nil, err
	}
	return append(out, b...), nil
}

// reader walks a wire buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) peek() (byte, error) {
	if r.remaining() < 1 {
		return 0, errShortBuffer
	}
	return r.buf[r.off], nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.peek()
	if err != nil {
		return 0, err
	}
	r.off++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// shortVec reads a compact-u16 length. At most three bytes are consumed and
// non-canonical encodings are rejected.
func (r *reader) shortVec() (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if i == 2 && b > 0x03 {
			return 0, fmt.Errorf("compact-u16 overflow")
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return 0, fmt.Errorf("non-canonical compact-u16")
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("compact-u16 too long")
}

func (r *reader) shortVecBytes() ([]byte, error) {
	n, err := r.shortVec()
	if err != nil {
		return nil, err
	}
	b, err := r.bytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
