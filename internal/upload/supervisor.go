package upload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"milestonehub/internal/model"
	"milestonehub/pkg/metrics"
)

// Aggregate counts delivered files against all files in the registry.
type Aggregate struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

type SupervisorConfig struct {
	// MaxParallel caps concurrent transfers; 0 means unbounded.
	MaxParallel int
	Worker      WorkerConfig
}

// Supervisor runs one Worker per registered file. It listens to the registry,
// so registering a file starts its upload and withdrawing it cancels the upload.
type Supervisor struct {
	registry  *Registry
	transport Transport
	cfg       SupervisorConfig
	logger    *zap.Logger
	sem       *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	spawned map[string]struct{}
	closed  bool
	wg      sync.WaitGroup

	unsubscribe func()
}

func NewSupervisor(registry *Registry, transport Transport, cfg SupervisorConfig, logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		registry:  registry,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]context.CancelFunc),
		spawned:   make(map[string]struct{}),
	}
	if cfg.MaxParallel > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	s.unsubscribe = registry.Subscribe(s.handle)
	return s
}

func (s *Supervisor) handle(ev Event) {
	switch ev.Kind {
	case EventRegistered:
		s.OnFileRegistered(ev.File)
	case EventWithdrawn:
		s.OnFileWithdrawn(ev.File.ID)
	case EventCleared:
		s.cancelAll()
	}
}

// OnFileRegistered starts the worker for file in the background. It reports
// false when a worker was already spawned for this id or the supervisor is closed.
func (s *Supervisor) OnFileRegistered(file model.UploadedFile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.spawned[file.ID]; ok {
		return false
	}
	s.spawned[file.ID] = struct{}{}

	ctx, cancel := context.WithCancel(s.ctx)
	s.workers[file.ID] = cancel
	s.wg.Add(1)
	go s.run(ctx, file)
	return true
}

// OnFileWithdrawn cancels the worker of id, if it is still running.
func (s *Supervisor) OnFileWithdrawn(id string) {
	metrics.IncrementUploadWithdrawn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.workers[id]; ok {
		cancel()
	}
}

func (s *Supervisor) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cancel := range s.workers {
		cancel()
	}
}

func (s *Supervisor) run(ctx context.Context, file model.UploadedFile) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.workers[file.ID]; ok {
			cancel()
			delete(s.workers, file.ID)
		}
		s.mu.Unlock()
	}()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
	}

	metrics.RecordUploadStarted()
	start := time.Now()

	w := NewWorker(file, s.registry, s.transport, s.cfg.Worker, s.logger)
	outcome, err := w.Run(ctx)
	metrics.RecordUploadFinished(string(outcome), time.Since(start))

	if err != nil && outcome != OutcomeRejected {
		s.logger.Error("Upload worker failed",
			zap.String("file_id", file.ID),
			zap.Error(err),
		)
	}
}

// AggregateStatus counts from one consistent registry snapshot.
func (s *Supervisor) AggregateStatus() Aggregate {
	snap := s.registry.Snapshot()
	return Aggregate{Completed: snap.Completed, Total: snap.Total}
}

// InFlight returns the number of workers that have not exited yet.
func (s *Supervisor) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Wait blocks until every spawned worker has exited or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops listening to the registry, cancels every worker and waits for them.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}
