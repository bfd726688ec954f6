package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Match binds a session to its input queue and output sink.
type Match struct {
	Session *Session
	Queue   *Queue
	Sink    Sink
}

// Runner runs independent matches in parallel. Sessions share no state; the
// first failing match cancels the others.
type Runner struct {
	// Limit caps the number of matches processed at once; 0 means no limit.
	Limit   int
	matches []Match
}

// Add registers a match to run.
func (r *Runner) Add(m Match) {
	r.matches = append(r.matches, m)
}

// Run processes every registered match until all queues are drained, a match
// fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if r.Limit > 0 {
		g.SetLimit(r.Limit)
	}
	for _, m := range r.matches {
		g.Go(func() error {
			if err := m.Session.Run(ctx, m.Queue, m.Sink); err != nil {
				return fmt.Errorf("match %s: %w", m.Session.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
