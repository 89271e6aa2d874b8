//go:build !dlib

package worker

import (
	"context"
	"errors"

	"github.com/andresmejia3/rollcall/internal/locate"
)

func openDlib(ctx context.Context, modelsDir string, cnn bool) (locate.Engine, error) {
	return nil, &StartError{Err: errors.New("rollcall was built without dlib support (rebuild with -tags dlib)")}
}
