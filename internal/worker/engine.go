package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/locate"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// DlibDim is the length of the descriptors dlib's ResNet model produces.
const DlibDim = 128

// Open starts the engine selected by cfg.Kind and checks that its descriptor
// length matches the gallery dimension.
func Open(ctx context.Context, cfg config.EngineConfig, dim int) (locate.Engine, error) {
	switch cfg.Kind {
	case "python":
		w, err := NewPythonWorker(ctx, Config{
			Python:    cfg.Python,
			Script:    cfg.Script,
			ModelsDir: cfg.ModelsDir,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := checkDim(w.Dim(), dim); err != nil {
			w.Close()
			return nil, &StartError{Err: err, Cmd: w.Cmd}
		}
		return w, nil
	case "dlib":
		if err := checkDim(DlibDim, dim); err != nil {
			return nil, &StartError{Err: err}
		}
		return openDlib(ctx, cfg.ModelsDir, cfg.CNN)
	}
	return nil, &StartError{Err: fmt.Errorf("unknown engine %q", cfg.Kind)}
}

func checkDim(engine, gallery int) error {
	if engine != gallery {
		return fmt.Errorf("engine produces %d-d descriptors, gallery expects %d", engine, gallery)
	}
	return nil
}

// Logs returns the captured process output behind err or engine, if any.
func Logs(err error, engine locate.Engine) *utils.SafeCommand {
	var se *StartError
	if errors.As(err, &se) && se.Cmd != nil {
		return se.Cmd
	}
	if pw, ok := engine.(*PythonWorker); ok {
		return pw.Cmd
	}
	return nil
}
