// Package recognize wraps text extraction engines behind a single-shot call:
// image in, plain text out, maybe an error. The pipeline decides what a
// failure means; the engines just report it.
package recognize

import "context"

// Recognizer extracts text from one image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Engine names accepted by config.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)
