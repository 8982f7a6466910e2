package service

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/hyperjump/embedkit/internal/worker"
)

// progressReporter renders worker download progress as a terminal bar. A new bar is
// started for each download and finished when current reaches total.
type progressReporter struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out}
}

func (p *progressReporter) update(stage string, current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		max := total
		if max <= 0 {
			max = -1
		}
		description := "Loading model"
		if stage == worker.StageDownload {
			description = "Downloading model"
		}
		p.bar = progressbar.NewOptions64(max,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(description),
			progressbar.OptionOnCompletion(func() {
				_, _ = io.WriteString(p.out, "\n")
			}),
		)
	}
	_ = p.bar.Set64(current)
	if total > 0 && current >= total {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
