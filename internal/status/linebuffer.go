package status

import (
	"bytes"
	"fmt"

	"github.com/slok/dpkgdrv/internal/model"
)

// MaxLineLength is the maximum length of an unterminated status line.
const MaxLineLength = 1024

// LineBuffer accumulates status stream bytes and splits them in lines.
type LineBuffer struct {
	buf []byte
	max int
}

// NewLineBuffer returns a line buffer that discards lines longer than max
// bytes. A non-positive max uses MaxLineLength.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLineLength
	}
	return &LineBuffer{max: max}
}

// Feed adds data to the buffer and returns the completed lines, without the
// line terminator. When the unterminated data grows over the limit the buffer
// is reset and an error is returned together with the lines completed so far,
// the bytes that follow until the next newline are part of a new line.
func (b *LineBuffer) Feed(data []byte) ([]string, error) {
	var (
		lines    []string
		overflow bool
	)

	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			b.buf = append(b.buf, data...)
			if len(b.buf) > b.max {
				b.reset()
				overflow = true
			}
			break
		}

		b.buf = append(b.buf, data[:i]...)
		if len(b.buf) > b.max {
			overflow = true
		} else {
			lines = append(lines, string(b.buf))
		}
		b.reset()
		data = data[i+1:]
	}

	if overflow {
		return lines, fmt.Errorf("status line longer than %d bytes: %w", b.max, model.ErrMalformedStatusLine)
	}

	return lines, nil
}

// Pending returns the number of buffered bytes of the current unterminated line.
func (b *LineBuffer) Pending() int { return len(b.buf) }

func (b *LineBuffer) reset() { b.buf = b.buf[:0] }
