package openaicompat

import (
	"bufio"
	"io"
	"strings"
)

// sseDecoder yields the data payload of each server-sent event. Multiple
// data lines of one event are joined with "\n"; other fields are ignored.
type sseDecoder struct {
	r   *bufio.Reader
	buf []string
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReader(r)}
}

// next returns the next event's data and io.EOF when the reader ends.
func (d *sseDecoder) next() (string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(d.buf) > 0 {
				return d.flush(), nil
			}
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}

		if data, ok := strings.CutPrefix(line, "data:"); ok {
			d.buf = append(d.buf, strings.TrimSpace(data))
		}

		if err == io.EOF {
			if len(d.buf) > 0 {
				return d.flush(), nil
			}
			return "", io.EOF
		}
	}
}

func (d *sseDecoder) flush() string {
	out := strings.Join(d.buf, "\n")
	d.buf = d.buf[:0]
	return out
}
