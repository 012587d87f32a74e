package httpdl

import "io"

// countingReader calls onRead with the number of bytes returned by
// each successful Read, independent of any progress-logging cadence.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.onRead != nil {
		cr.onRead(n)
	}
	return n, err
}
