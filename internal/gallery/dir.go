package gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio"
)

// DirSource reads one enrollment file per identity from a directory.
// Supported formats are NumPy .npy arrays and JSON float arrays. The identity
// is the file name up to its first dot; other files are ignored.
type DirSource struct {
	Dir string
}

// IdentityFromFile derives the identity label from an enrollment file name.
func IdentityFromFile(name string) string {
	base := filepath.Base(name)
	id, _, _ := strings.Cut(base, ".")
	return id
}

func isEnrollmentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".npy", ".json":
		return true
	}
	return false
}

// Records reads every enrollment file in name order.
func (s DirSource) Records(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, &LoadError{Entry: s.Dir, Err: err}
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !isEnrollmentFile(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.Dir, e.Name())
		vec, err := ReadEmbeddingFile(path)
		if err != nil {
			return nil, &LoadError{Entry: e.Name(), Err: err}
		}
		records = append(records, Record{Identity: IdentityFromFile(e.Name()), Embedding: vec})
	}
	return records, nil
}

// ReadEmbeddingFile decodes a single .npy or .json enrollment file.
func ReadEmbeddingFile(path string) ([]float32, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return readNpy(path)
	case ".json":
		return readJSON(path)
	}
	return nil, fmt.Errorf("%w: unsupported file type %q", ErrMalformedRecord, filepath.Ext(path))
}

func readNpy(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	// numpy writes dlib descriptors as float64 unless told otherwise
	switch r.Header.Descr.Type {
	case "<f4", "f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return v, nil
	case "<f8", "f8":
		var v []float64
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported dtype %q", ErrMalformedRecord, r.Header.Descr.Type)
}

func readJSON(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return v, nil
}

// WriteEmbeddingFile stores vec as a float32 .npy file readable by DirSource.
func WriteEmbeddingFile(path string, vec []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, vec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
