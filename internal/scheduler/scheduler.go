package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweep is a named periodic job. Run returns how many items it touched.
type Sweep struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) (int, error)
}

// Scheduler drives all sweeps from one ticker loop. Each sweep keeps its own
// next-due timestamp, so sweeps with different periods share a single
// goroutine.
type Scheduler struct {
	sweeps []Sweep
	tick   time.Duration
	now    func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextDue []time.Time
}

func New(tick time.Duration, sweeps []Sweep) (*Scheduler, error) {
	if tick <= 0 {
		return nil, errors.New("tick must be > 0")
	}
	if len(sweeps) == 0 {
		return nil, errors.New("at least one sweep is required")
	}
	for _, sw := range sweeps {
		if sw.Name == "" || sw.Run == nil || sw.Every <= 0 {
			return nil, errors.New("every sweep needs a name, a period and a run function")
		}
	}
	return &Scheduler{
		sweeps:  sweeps,
		tick:    tick,
		now:     time.Now,
		done:    make(chan struct{}),
		nextDue: make([]time.Time, len(sweeps)),
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		slog.Info("scheduler started", "tick", s.tick.String(), "sweeps", len(s.sweeps))

		s.runDue(ctx, s.now())

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.runDue(ctx, s.now())
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// runDue executes every sweep whose due time has passed and advances it by
// its period. A sweep that was never run is due immediately.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for i := range s.sweeps {
		if s.nextDue[i].After(now) {
			continue
		}
		s.safeRun(ctx, &s.sweeps[i])
		s.nextDue[i] = now.Add(s.sweeps[i].Every)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, sw *Sweep) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep panic recovered", "sweep", sw.Name, "panic", r)
		}
	}()

	start := time.Now()
	n, err := sw.Run(ctx)
	if err != nil {
		slog.Error("sweep finished with errors",
			"sweep", sw.Name, "touched", n, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	slog.Info("sweep completed",
		"sweep", sw.Name, "touched", n, "duration_ms", time.Since(start).Milliseconds())
}
