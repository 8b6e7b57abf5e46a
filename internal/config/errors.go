package config

import "fmt"

// Error is a configuration failure tied to a file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fileError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Path: path, Err: err}
}
