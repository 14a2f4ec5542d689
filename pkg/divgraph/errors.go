package divgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to classify failures returned by the index.
var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotFound          = errors.New("vector id out of range")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrAlreadyInserted   = errors.New("vector already inserted")
)

// ConfigError reports an invalid parameter. Nothing is built when it is
// returned from index creation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a missing, corrupt or incompatible index file
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// NotFoundError reports an id outside the dataset range
type NotFoundError struct {
	ID  uint32
	Len int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vector id %d out of range (dataset has %d vectors)", e.ID, e.Len)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DimensionError reports a vector whose length differs from the index
// dimension
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }
