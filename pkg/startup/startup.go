// Package startup boots external dependencies in declaration order with
// retries. Each dependency names what it depends on; Start walks the graph
// and retries the whole sequence with fibonacci backoff until it succeeds
// or the attempt budget runs out.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one external collaborator to bring up before serving
type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Startup starts and stops a set of dependencies respecting their ordering
type Startup struct {
	dependencies map[string]Dependency
	order        []string
	statuses     map[string]status
	logger       ectologger.Logger
	maxAttempts  int
}

// New creates a startup runner with the given retry budget
func New(logger ectologger.Logger, maxAttempts int) *Startup {
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]status),
		logger:       logger,
		maxAttempts:  maxAttempts,
	}
}

// Add registers a dependency. Order of Add calls is the stop order reversed.
func (s *Startup) Add(dependency Dependency) {
	s.dependencies[dependency.GetName()] = dependency
	s.order = append(s.order, dependency.GetName())
}

// Start brings up every dependency, retrying the sequence with fibonacci backoff
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.dependencies[name]); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}

		if attempt >= s.maxAttempts {
			break
		}

		wait := time.Duration(a) * time.Second
		s.logger.Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) startDependency(ctx context.Context, dependency Dependency) error {
	name := dependency.GetName()
	if s.statuses[name] == statusStarted {
		return nil
	}

	for _, upstream := range dependency.DependsOn() {
		dep, ok := s.dependencies[upstream]
		if !ok {
			return fmt.Errorf("dependency '%s' depends on unknown '%s'", name, upstream)
		}
		if s.statuses[upstream] != statusStarted {
			if err := s.startDependency(ctx, dep); err != nil {
				return err
			}
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = statusFailed
		return err
	}
	s.statuses[name] = statusStarted
	return nil
}

// Stop tears down the started dependencies in reverse registration order
func (s *Startup) Stop(ctx context.Context) error {
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		if s.statuses[name] != statusStarted {
			continue
		}
		s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			return err
		}
		s.statuses[name] = statusStopped
	}
	return nil
}

// Func adapts a pair of functions into a Dependency
type Func struct {
	Name    string
	Needs   []string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Needs }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}
