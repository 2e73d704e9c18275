// Package pipeline drives OCR over discovered screenshots and records the
// results. Recognition is sequential per image to bound resource use; every
// per-image failure is absorbed so one bad image never sinks a run.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/grepshot/grepshot/internal/recognize"
	"github.com/grepshot/grepshot/internal/source"
	"github.com/grepshot/grepshot/internal/storage"
)

// RecordStore is the slice of storage the processor needs.
type RecordStore interface {
	HasScreenshot(id string) (bool, error)
	SaveScreenshot(storage.Screenshot) error
}

// ProgressFunc reports how many of the batch's images have been handled.
type ProgressFunc func(processed, total int)

// Processor runs recognition over candidate batches.
type Processor struct {
	store      RecordStore
	recognizer recognize.Recognizer
	logger     *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store RecordStore, recognizer recognize.Recognizer) *Processor {
	return &Processor{
		store:      store,
		recognizer: recognizer,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Process handles candidates in order. Per image: skip when already recorded,
// recognize, persist. Recognition failure stores empty text; the image is
// still marked processed so it is never retried forever. A store write failure
// is logged and skipped over: with no record the image stays discoverable for
// the next run. The context is checked between images only, so an in-flight
// recognition finishes (or is discarded) before cancellation takes effect.
//
// Returns the number of images handled, which is len(candidates) unless the
// context was cancelled.
func (p *Processor) Process(ctx context.Context, candidates []source.Candidate, onProgress ProgressFunc) (int, error) {
	total := len(candidates)
	processed := 0

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		exists, err := p.store.HasScreenshot(c.ID)
		if err != nil {
			p.logger.Warn("processed check failed, treating as unprocessed", "id", c.ID, "error", err)
		}
		if !exists {
			text, err := p.recognizer.Recognize(ctx, c.ID)
			if err != nil {
				// Mark processed with empty text rather than retrying forever.
				p.logger.Warn("recognition failed", "id", c.ID, "error", err)
				text = ""
			}

			rec := storage.Screenshot{
				ID:            c.ID,
				DisplayName:   c.DisplayName,
				ExtractedText: text,
				CreatedAt:     c.AddedAt, // source add time, never "now": discovery keys off it
			}
			if err := p.store.SaveScreenshot(rec); err != nil {
				p.logger.Warn("saving record failed, image stays discoverable", "id", c.ID, "error", err)
			}
		}

		processed++
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	return processed, nil
}
