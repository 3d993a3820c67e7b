package module

import "fmt"

// ErrorKind says which stage of initialization failed.
type ErrorKind string

const (
	KindStep   ErrorKind = "step"
	KindAuth   ErrorKind = "auth"
	KindFields ErrorKind = "fields"
	KindTheme  ErrorKind = "theme"
)

// InitError is recorded when initialization falls back to step 0.
type InitError struct {
	Kind ErrorKind `json:"kind"`
	Err  error     `json:"-"`
}

func (e *InitError) Error() string {
	return fmt.Sprintf("module init failed at %s: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func fail(kind ErrorKind, err error) error {
	return &InitError{Kind: kind, Err: err}
}
