package sink

import (
	"image"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/rollcall/internal/stream"
)

// Progress advances a progress bar for every processed frame. It is used for
// file sources where the frame count is known up front.
type Progress struct {
	bar  *progressbar.ProgressBar
	step int
}

// NewProgress draws a bar over total frames on w. step is how many source
// frames each processed frame stands for (the runner's every-Nth setting).
// A total of -1 shows a spinner.
func NewProgress(w io.Writer, total, step int) *Progress {
	if step < 1 {
		step = 1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎥 Rollcall"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
	)
	return &Progress{bar: bar, step: step}
}

func (p *Progress) Show(_ image.Image, e stream.Emission) {
	if e.LogAttendance {
		p.bar.Describe("🎥 Rollcall: " + e.Identity)
	}
	p.bar.Add(p.step)
}

// Finish completes the bar.
func (p *Progress) Finish() error {
	return p.bar.Finish()
}
