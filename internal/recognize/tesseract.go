package recognize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Tesseract runs the tesseract CLI once per image, reading the recognized
// text from stdout.
type Tesseract struct {
	binPath string
	lang    string
}

// NewTesseract creates a Tesseract recognizer. binPath defaults to "tesseract"
// on $PATH, lang to "eng".
func NewTesseract(binPath, lang string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{binPath: binPath, lang: lang}
}

// Recognize extracts text from the image at imagePath.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	const op = "Tesseract.Recognize"

	if _, err := os.Stat(imagePath); err != nil {
		return "", wrapErr(op, imagePath, fmt.Errorf("%w: %v", ErrUnreadableImage, err))
	}

	// "stdout" as the output base makes tesseract write the text to stdout.
	cmd := exec.CommandContext(ctx, t.binPath, imagePath, "stdout", "-l", t.lang)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", wrapErr(op, imagePath, ctx.Err())
		}
		if _, lookErr := exec.LookPath(t.binPath); lookErr != nil {
			return "", wrapErr(op, imagePath, fmt.Errorf("%w: %v", ErrEngineUnavailable, lookErr))
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", wrapErr(op, imagePath, fmt.Errorf("tesseract exited: %s", detail))
	}

	return strings.TrimSpace(stdout.String()), nil
}
