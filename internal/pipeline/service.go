package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/grepshot/grepshot/internal/source"
	"github.com/grepshot/grepshot/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in flight.
	ErrAlreadyRunning = errors.New("a processing run is already active")
	// ErrNotRunning is returned by Pause/Cancel with no active run.
	ErrNotRunning = errors.New("no processing run is active")
)

// State is a snapshot of run progress. The service is its only writer;
// observers receive copies over the broadcast channel.
type State struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Running   bool   `json:"running"`
	Error     string `json:"error,omitempty"`
}

// Discoverer finds new candidates to process.
type Discoverer interface {
	DiscoverNew(ctx context.Context, limit int, extra []source.Source) ([]source.Candidate, error)
}

// RunStore records run history.
type RunStore interface {
	CreateRun(id string, total int) error
	UpdateRunProgress(id string, processed int) error
	FinishRun(id, status, lastError string) error
}

// BatchProcessor is satisfied by *Processor.
type BatchProcessor interface {
	Process(ctx context.Context, candidates []source.Candidate, onProgress ProgressFunc) (int, error)
}

// Service owns the one background processing run: at most one at a time,
// started, paused, and cancelled cooperatively. Progress goes out on a
// single-writer broadcast instead of package-level flags.
type Service struct {
	discoverer Discoverer
	processor  BatchProcessor
	runs       RunStore
	extra      []source.Source
	batchSize  int
	baseCtx    context.Context
	logger     *slog.Logger

	mu     sync.Mutex
	state  State
	subs   []chan State
	cancel context.CancelFunc
	paused bool
}

// NewService creates a Service. baseCtx bounds the lifetime of every run (the
// daemon's shutdown context); batchSize <= 0 defaults to 5.
func NewService(baseCtx context.Context, discoverer Discoverer, processor BatchProcessor, runs RunStore, extra []source.Source, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Service{
		discoverer: discoverer,
		processor:  processor,
		runs:       runs,
		extra:      extra,
		batchSize:  batchSize,
		baseCtx:    baseCtx,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Progress returns the current state snapshot.
func (s *Service) Progress() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a buffered channel receiving state updates. Callers must
// Unsubscribe when done.
func (s *Service) Subscribe() chan State {
	ch := make(chan State, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (s *Service) Unsubscribe(ch chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
}

// publish updates the state and fans it out. Slow subscribers miss
// intermediate updates rather than blocking the pipeline.
func (s *Service) publish(st State) {
	s.mu.Lock()
	s.state = st
	subs := make([]chan State, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Start kicks off a run that discovers up to limit new screenshots and
// processes them. It returns immediately; progress is observable via
// Progress/Subscribe. Returns ErrAlreadyRunning if a run is in flight.
func (s *Service) Start(limit int) error {
	s.mu.Lock()
	if s.state.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.paused = false
	s.state = State{Running: true}
	s.mu.Unlock()

	go s.run(runCtx, cancel, limit)
	return nil
}

// Pause asks the current run to stop after the batch in flight. Processed
// images stay committed; the rest are untouched.
func (s *Service) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running {
		return ErrNotRunning
	}
	s.paused = true
	return nil
}

// Cancel aborts the current run. The in-flight image's result is discarded.
func (s *Service) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running {
		return ErrNotRunning
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Service) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Service) run(ctx context.Context, cancel context.CancelFunc, limit int) {
	defer func() {
		// Release this run's context. s.cancel may already belong to a
		// run started after our final publish; only clear it when no run
		// is in flight.
		cancel()
		s.mu.Lock()
		if !s.state.Running {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	candidates, err := s.discoverer.DiscoverNew(ctx, limit, s.extra)
	if err != nil {
		s.logger.Error("discovery failed", "error", err)
		s.publish(State{Error: err.Error()})
		return
	}
	if len(candidates) == 0 {
		s.logger.Info("nothing new to process")
		s.publish(State{})
		return
	}

	total := len(candidates)
	runID := uuid.New().String()
	if err := s.runs.CreateRun(runID, total); err != nil {
		s.logger.Warn("recording run failed", "run_id", runID, "error", err)
	}
	s.logger.Info("processing run started", "run_id", runID, "total", total)
	s.publish(State{Total: total, Running: true})

	processed := 0
	status := storage.RunStatusCompleted

	for start := 0; start < total; start += s.batchSize {
		if s.isPaused() {
			status = storage.RunStatusPaused
			break
		}
		if ctx.Err() != nil {
			status = storage.RunStatusCancelled
			break
		}

		end := min(start+s.batchSize, total)
		batch := candidates[start:end]
		base := start

		_, err := s.processor.Process(ctx, batch, func(done, _ int) {
			processed = base + done
			if err := s.runs.UpdateRunProgress(runID, processed); err != nil {
				s.logger.Warn("updating run progress failed", "run_id", runID, "error", err)
			}
			s.publish(State{Processed: processed, Total: total, Running: true})
		})
		if err != nil {
			status = storage.RunStatusCancelled
			break
		}
	}

	if err := s.runs.FinishRun(runID, status, ""); err != nil {
		s.logger.Warn("finishing run failed", "run_id", runID, "error", err)
	}
	s.logger.Info("processing run finished", "run_id", runID, "status", status, "processed", processed, "total", total)
	s.publish(State{Processed: processed, Total: total})
}
