//go:build !gocv

package capture

import "fmt"

func newCamera(id int) Source {
	return &FFmpegSource{Input: fmt.Sprintf("/dev/video%d", id), Format: "v4l2"}
}
