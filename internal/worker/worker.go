package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

// Request op codes understood by python/worker.py.
const (
	opHello    byte = 'H' // payload: models dir            -> [dim u32]
	opFrame    byte = 'F' // payload: [w u32][h u32][RGBA] -> (empty)
	opDetect   byte = 'D' // payload: (empty)               -> [n u32][n x 4 i32]
	opShape    byte = 'S' // payload: [4 i32]               -> [n u32][n x 2 i32]
	opDescribe byte = 'E' // payload: [4 i32][n u32][pts]   -> [dim u32][dim f32]
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxResponse caps a single response body. A corrupted length header must not
// make us allocate gigabytes.
const maxResponse = 64 << 20

// ErrModelLoad is returned when the engine cannot start or load its models.
var ErrModelLoad = errors.New("face engine failed to load")

// StartError wraps an engine start failure together with the captured worker logs.
type StartError struct {
	Err error
	Cmd *utils.SafeCommand
}

func (e *StartError) Error() string   { return fmt.Sprintf("%v: %v", ErrModelLoad, e.Err) }
func (e *StartError) Unwrap() []error { return []error{ErrModelLoad, e.Err} }

// Config describes how to launch the Python engine.
type Config struct {
	Python    string
	Script    string
	ModelsDir string
	Timeout   time.Duration
}

// PythonWorker is an Engine backed by a Python subprocess running dlib.
// Requests go over stdin; responses come back over a dedicated pipe (FD 3) so
// library chatter on stdout can't corrupt the protocol.
type PythonWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	dim     int

	mu      sync.Mutex
	current *image.RGBA // frame last uploaded to the worker
	closed  bool
}

// NewPythonWorker starts the worker process and waits for it to load its models.
// Any failure here is fatal and reported as a *StartError.
func NewPythonWorker(ctx context.Context, cfg Config) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &StartError{Err: fmt.Errorf("failed to create pipe: %w", err)}
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, &StartError{Err: fmt.Errorf("failed to create stdin pipe: %w", err)}
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, &StartError{Err: fmt.Errorf("failed to start %s: %w", cfg.Python, err), Cmd: py}
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.Timeout,
	}

	// Model loading can take a while on first run; allow a generous window.
	dim, err := pw.hello(cfg.ModelsDir, 4*cfg.Timeout)
	if err != nil {
		pw.Close()
		return nil, &StartError{Err: err, Cmd: py}
	}
	pw.dim = dim
	return pw, nil
}

// Dim returns the descriptor length reported by the worker.
func (w *PythonWorker) Dim() int { return w.dim }

// communicate sends one request and returns the raw response body.
// Protocol: [Length][Data] in both directions.
func (w *PythonWorker) communicate(data []byte, timeout time.Duration) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("write request header: %w", err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && timeout > 0 {
		d.SetReadDeadline(time.Now().Add(timeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// EOF here means the process died (missing module, model file, OOM)
		return nil, fmt.Errorf("read response header: %w", err)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return respBody, nil
}

// call sends op+payload and strips the status byte from a successful response.
func (w *PythonWorker) call(ctx context.Context, op byte, payload []byte, timeout time.Duration) (*bytes.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.closed {
		return nil, errors.New("python worker is closed")
	}

	req := make([]byte, 0, 1+len(payload))
	req = append(req, op)
	req = append(req, payload...)

	resp, err := w.communicate(req, timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("python worker sent an empty response")
	}

	body := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		return body, nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(body, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("python worker error: malformed error response")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(body, msg); err != nil {
			return nil, fmt.Errorf("python worker error: malformed error response")
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	return nil, fmt.Errorf("python worker sent unknown status %d", resp[0])
}

func (w *PythonWorker) hello(modelsDir string, timeout time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	body, err := w.call(context.Background(), opHello, []byte(modelsDir), timeout)
	if err != nil {
		return 0, err
	}
	var dim uint32
	if err := binary.Read(body, binary.BigEndian, &dim); err != nil {
		return 0, fmt.Errorf("decode hello response: %w", err)
	}
	return int(dim), nil
}

// upload sends img to the worker unless it is already the current frame.
func (w *PythonWorker) upload(ctx context.Context, img *image.RGBA) error {
	if w.current == img {
		return nil
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	payload := bytes.NewBuffer(make([]byte, 0, 8+width*height*4))
	binary.Write(payload, binary.BigEndian, uint32(width))
	binary.Write(payload, binary.BigEndian, uint32(height))
	for y := 0; y < height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		payload.Write(img.Pix[off : off+width*4])
	}

	if _, err := w.call(ctx, opFrame, payload.Bytes(), w.timeout); err != nil {
		w.current = nil
		return err
	}
	w.current = img
	return nil
}

// Detect uploads img and returns the face regions found in it.
func (w *PythonWorker) Detect(ctx context.Context, img *image.RGBA) ([]types.Region, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.upload(ctx, img); err != nil {
		return nil, err
	}
	body, err := w.call(ctx, opDetect, nil, w.timeout)
	if err != nil {
		return nil, err
	}

	var n uint32
	if err := binary.Read(body, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	regions := make([]types.Region, 0, n)
	for i := uint32(0); i < n; i++ {
		r, err := readRegion(body)
		if err != nil {
			return nil, fmt.Errorf("decode region %d: %w", i, err)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// Landmarks returns the 68-point shape inside region r.
func (w *PythonWorker) Landmarks(ctx context.Context, img *image.RGBA, r types.Region) (types.Shape, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.upload(ctx, img); err != nil {
		return types.Shape{}, err
	}
	payload := new(bytes.Buffer)
	writeRegion(payload, r)

	body, err := w.call(ctx, opShape, payload.Bytes(), w.timeout)
	if err != nil {
		return types.Shape{}, err
	}

	var n uint32
	if err := binary.Read(body, binary.BigEndian, &n); err != nil {
		return types.Shape{}, fmt.Errorf("decode shape response: %w", err)
	}
	pts := make([]int32, 2*n)
	if err := binary.Read(body, binary.BigEndian, pts); err != nil {
		return types.Shape{}, fmt.Errorf("decode shape points: %w", err)
	}
	shape := types.Shape{Region: r, Points: make([]image.Point, n)}
	for i := range shape.Points {
		shape.Points[i] = image.Pt(int(pts[2*i]), int(pts[2*i+1]))
	}
	return shape, nil
}

// Descriptor returns the embedding for shape s.
func (w *PythonWorker) Descriptor(ctx context.Context, img *image.RGBA, s types.Shape) (types.Embedding, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.upload(ctx, img); err != nil {
		return nil, err
	}
	payload := new(bytes.Buffer)
	writeRegion(payload, s.Region)
	binary.Write(payload, binary.BigEndian, uint32(len(s.Points)))
	for _, p := range s.Points {
		binary.Write(payload, binary.BigEndian, [2]int32{int32(p.X), int32(p.Y)})
	}

	body, err := w.call(ctx, opDescribe, payload.Bytes(), w.timeout)
	if err != nil {
		return nil, err
	}

	var dim uint32
	if err := binary.Read(body, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("decode descriptor response: %w", err)
	}
	emb := make(types.Embedding, dim)
	if err := binary.Read(body, binary.BigEndian, []float32(emb)); err != nil {
		return nil, fmt.Errorf("decode descriptor values: %w", err)
	}
	return emb, nil
}

// Close shuts down the worker. Closing stdin lets the script exit its read loop.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		// The exit status after we hung up is not interesting
		w.Cmd.Wait()
	}
	return nil
}

func writeRegion(buf *bytes.Buffer, r types.Region) {
	binary.Write(buf, binary.BigEndian, [4]int32{int32(r.Left), int32(r.Top), int32(r.Right), int32(r.Bottom)})
}

func readRegion(r io.Reader) (types.Region, error) {
	var box [4]int32
	if err := binary.Read(r, binary.BigEndian, &box); err != nil {
		return types.Region{}, err
	}
	return types.Region{Left: int(box[0]), Top: int(box[1]), Right: int(box[2]), Bottom: int(box[3])}, nil
}
