package main

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

func newBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// ingestProgress reports finished uploads on a progress bar. A nil
// *ingestProgress is valid and reports nothing.
type ingestProgress struct {
	bar *progressbar.ProgressBar
}

// newIngestProgress returns nil when disabled or when there is nothing to do.
func newIngestProgress(w io.Writer, total int, enabled bool) *ingestProgress {
	if !enabled || total <= 0 {
		return nil
	}
	return &ingestProgress{bar: newBar(w, total, "ingesting")}
}

// Done records one finished upload. The bar is safe for concurrent use.
func (p *ingestProgress) Done() {
	if p == nil {
		return
	}
	_ = p.bar.Add(1)
}

// Finish completes the bar.
func (p *ingestProgress) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}

// reembedProgress adapts a progress bar to reembed.Progress.
type reembedProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *reembedProgress) Start(total int) {
	p.bar = newBar(p.w, total, "reembedding")
}

func (p *reembedProgress) Add(n int) {
	if p.bar != nil {
		_ = p.bar.Add(n)
	}
}

func (p *reembedProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
