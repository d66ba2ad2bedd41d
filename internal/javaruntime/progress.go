package javaruntime

import (
	"fmt"
	"io"
	"strings"
)

const (
	progressBarWidth = 30
	// progressStep is the redraw step, in bytes, when the total is unknown.
	progressStep = 1 << 20
)

// progressWriter copies to dst and draws the download progress of one archive on a status line.
// Redraws only happen when the visible progress changes.
type progressWriter struct {
	dst     io.Writer
	status  io.Writer
	label   string
	total   int64
	written int64
	drawn   int64
}

func newProgressWriter(dst, status io.Writer, label string, total int64) *progressWriter {
	return &progressWriter{dst: dst, status: status, label: label, total: total, drawn: -1}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.dst.Write(b)
	p.written += int64(n)

	if mark := p.mark(); mark != p.drawn {
		p.drawn = mark
		p.draw()
	}
	return n, err
}

// finish draws the final state and ends the status line.
func (p *progressWriter) finish() {
	p.draw()
	fmt.Fprintln(p.status)
}

// mark is the percent when the total is known, the downloaded MiB otherwise.
func (p *progressWriter) mark() int64 {
	if p.total > 0 {
		return min(p.written*100/p.total, 100)
	}
	return p.written / progressStep
}

func (p *progressWriter) draw() {
	if p.total <= 0 {
		fmt.Fprintf(p.status, "\r%s: %s", p.label, formatSize(p.written))
		return
	}

	pct := min(p.written*100/p.total, 100)
	filled := int(pct) * progressBarWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressBarWidth-filled)
	fmt.Fprintf(p.status, "\r%s [%s] %3d%% %s/%s", p.label, bar, pct, formatSize(p.written), formatSize(p.total))
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 2; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
