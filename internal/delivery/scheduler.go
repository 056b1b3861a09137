package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler fires engine cycles on a fixed cadence. Overlap protection lives
// in the engine; a tick that lands while a cycle is still running is a no-op.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(engine *Engine, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
	}
}

// Start begins the periodic loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.log.Info().Dur("interval", s.interval).Msg("starting queue scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(s.stop)
	}()
}

// Stop halts future ticks and waits for the loop goroutine to exit. A cycle
// already in flight is allowed to finish; Stop does not cancel it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("queue scheduler stopped")
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Each tick fires off the timer goroutine, so a slow cycle never
			// delays or buffers the next tick. Ticks landing mid-cycle no-op
			// on the engine's overlap guard.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.fire()
			}()
		}
	}
}

func (s *Scheduler) fire() {
	if _, err := s.engine.RunCycle(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("cycle aborted")
	}
}
