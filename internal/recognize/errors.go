package recognize

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is returned when the configured engine cannot be reached
	// (missing binary, missing credentials).
	ErrEngineUnavailable = errors.New("recognition engine unavailable")

	// ErrUnreadableImage is returned when the image file cannot be opened.
	ErrUnreadableImage = errors.New("image file unreadable")
)

// Error wraps an engine failure with the operation and image that failed.
type Error struct {
	Op    string // e.g. "Tesseract.Recognize"
	Image string
	Err   error
}

func (e *Error) Error() string {
	if e.Image != "" {
		return fmt.Sprintf("recognize: %s %s: %v", e.Op, e.Image, e.Err)
	}
	return fmt.Sprintf("recognize: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op, image string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Op: op, Image: image, Err: err}
}
