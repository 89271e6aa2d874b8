package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"sync"

	"github.com/andresmejia3/rollcall/internal/utils"
)

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegArgs builds the decoder command line. Format forces an input demuxer
// (e.g. v4l2 for capture devices); empty lets ffmpeg probe.
func FFmpegArgs(input, format string) []string {
	// -hide_banner and -loglevel error keep the stderr buffer small
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	return append(args, "-i", input, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// FFmpegSource decodes a video file, stream URL or capture device through an
// ffmpeg subprocess emitting MJPEG on stdout.
type FFmpegSource struct {
	Input  string
	Format string

	cmd     *utils.SafeCommand
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func (s *FFmpegSource) Open(ctx context.Context) error {
	s.cmd = utils.NewSafeCommand(ctx, "ffmpeg", FFmpegArgs(s.Input, s.Format)...)
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	s.stdout = stdout

	s.scanner = bufio.NewScanner(stdout)
	s.scanner.Buffer(make([]byte, 1024*1024), 32*1024*1024)
	s.scanner.Split(SplitJpeg)
	return nil
}

// Next returns the next decoded frame, io.EOF once ffmpeg finishes cleanly.
func (s *FFmpegSource) Next(ctx context.Context) (image.Image, error) {
	if s.scanner == nil {
		return nil, fmt.Errorf("%w: source not opened", ErrFrameUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
		}
		if err := s.cmd.Wait(); err != nil {
			return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrFrameUnavailable, err, strings.TrimSpace(s.cmd.Stderr.String()))
		}
		return nil, io.EOF
	}

	img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", ErrFrameUnavailable, err)
	}
	return img, nil
}

// Close stops ffmpeg and releases its pipes.
func (s *FFmpegSource) Close() error {
	s.once.Do(func() {
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		s.stdout.Close()
		if s.cmd.ProcessState == nil {
			s.cmd.Process.Kill()
			s.cmd.Wait() // killed on purpose, the exit status means nothing
		}
	})
	return nil
}

// Cmd returns the ffmpeg process so its captured stderr can be shown on failure.
// It is nil before Open.
func (s *FFmpegSource) Cmd() *utils.SafeCommand {
	return s.cmd
}
