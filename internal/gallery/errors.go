package gallery

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the gallery dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicateIdentity is returned when a source yields the same identity twice.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrEmptyGallery is returned by Load when the source has no records and empty galleries are not allowed.
	ErrEmptyGallery = errors.New("enrollment source is empty")
	// ErrMalformedRecord is returned for records that cannot be decoded into an embedding.
	ErrMalformedRecord = errors.New("malformed enrollment record")
)

// LoadError reports a gallery build failure, optionally naming the entry that caused it.
type LoadError struct {
	Entry string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("load gallery: %v", e.Err)
	}
	return fmt.Sprintf("load gallery entry %q: %v", e.Entry, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
