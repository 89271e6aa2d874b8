//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CameraSource reads frames from a local capture device through OpenCV.
type CameraSource struct {
	DeviceID int

	capture *gocv.VideoCapture
	mat     gocv.Mat
	once    sync.Once
}

func newCamera(id int) Source {
	return &CameraSource{DeviceID: id}
}

func (c *CameraSource) Open(ctx context.Context) error {
	capture, err := gocv.OpenVideoCapture(c.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.DeviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("camera %d not accessible", c.DeviceID)
	}
	c.capture = capture
	c.mat = gocv.NewMat()
	return nil
}

// Next grabs one frame. A failed read is terminal: the camera is gone.
func (c *CameraSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.capture == nil {
		return nil, fmt.Errorf("%w: camera not opened", ErrFrameUnavailable)
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, fmt.Errorf("%w: camera %d not accessible", ErrFrameUnavailable, c.DeviceID)
	}
	// ToImage converts from OpenCV's BGR into a fresh Go image
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	return img, nil
}

func (c *CameraSource) Close() error {
	var err error
	c.once.Do(func() {
		if c.capture == nil {
			return
		}
		c.mat.Close()
		err = c.capture.Close()
	})
	return err
}
