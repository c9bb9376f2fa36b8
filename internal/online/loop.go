// Package online drives a refinement run incrementally, yielding ground
// partial plans as they become available instead of waiting for the full
// hierarchical plan.
package online

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strata/internal/plan"
	"strata/internal/refine"
)

// ErrDone is returned by Next once the run has completed and every ground
// partial has been consumed.
var ErrDone = errors.New("online: run complete")

// Event is one yielded ground partial plan.
type Event struct {
	RunID   string
	Number  int
	Plan    *plan.MonolevelPlan
	Latency time.Duration
	Final   bool
}

// Loop is a pull iterator over the ground partial plans of one run. It is
// not safe for concurrent use; Stream wraps it for channel consumers.
type Loop struct {
	ctrl      *refine.Controller
	method    refine.Method
	lookahead int
	log       *zap.Logger

	started time.Time
	pending []*plan.MonolevelPlan
	yielded int
}

// NewLoop validates the method eagerly and prepares an iterator.
func NewLoop(ctrl *refine.Controller, method refine.Method, lookahead int, log *zap.Logger) (*Loop, error) {
	if ctrl == nil {
		return nil, &plan.ConfigurationError{Field: "controller", Reason: "missing"}
	}
	switch method {
	case refine.GroundFirst, refine.CompleteFirst, refine.Hybrid, "":
	default:
		return nil, &plan.ConfigurationError{Field: "online.method", Reason: "unknown online method " + string(method)}
	}
	if method == refine.Hybrid && lookahead < 1 {
		return nil, &plan.ConfigurationError{Field: "online.lookahead", Reason: "hybrid method needs a lookahead of at least 1"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{ctrl: ctrl, method: method, lookahead: lookahead, log: log, started: time.Now()}, nil
}

// Next blocks until the next ground partial is produced. It returns ErrDone
// after the run finishes, and the run's failure verbatim if it fails before
// producing another partial.
func (l *Loop) Next(ctx context.Context) (Event, error) {
	for len(l.pending) == 0 {
		if l.ctrl.Done() {
			return Event{}, ErrDone
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		grounds, err := l.ctrl.Increment(ctx, l.method, l.lookahead)
		l.pending = append(l.pending, grounds...)
		if err != nil && len(l.pending) == 0 {
			return Event{}, err
		}
		if err != nil {
			l.log.Warn("run failed with partials still queued", zap.Error(err))
		}
	}

	mono := l.pending[0]
	l.pending = l.pending[1:]
	l.yielded++
	ev := Event{
		RunID:   l.ctrl.RunID(),
		Number:  l.yielded,
		Plan:    mono,
		Latency: time.Since(l.started),
		Final:   mono.IsFinal && len(l.pending) == 0,
	}
	l.log.Info("ground partial yielded",
		zap.Int("number", ev.Number),
		zap.Int("length", mono.Length()),
		zap.Duration("latency", ev.Latency),
		zap.Bool("final", ev.Final))
	return ev, nil
}

// Stream runs the loop on its own goroutine, delivering events over a
// channel. The returned wait function reports the run's terminal error, if
// any, after the channel closes.
func (l *Loop) Stream(ctx context.Context) (<-chan Event, func() error) {
	events := make(chan Event)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		for {
			ev, err := l.Next(ctx)
			if errors.Is(err, ErrDone) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return events, g.Wait
}
