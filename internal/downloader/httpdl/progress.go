package httpdl

import "io"

// progressReader wraps an io.Reader and reports cumulative bytes read
// via a callback once at least interval bytes have passed since the
// last report.
type progressReader struct {
	r          io.Reader
	total      int64
	interval   int64
	onProgress func(written, total int64)

	totalRead  int64
	lastReport int64
}

func newProgressReader(r io.Reader, total, interval int64, cb func(written, total int64)) *progressReader {
	return &progressReader{r: r, total: total, interval: interval, onProgress: cb}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)
		if pr.lastReport >= pr.interval {
			if pr.onProgress != nil {
				pr.onProgress(pr.totalRead, pr.total)
			}
			pr.lastReport = 0
		}
	}
	return n, err
}
