package publish

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Preemptor enforces one in-flight run per concurrency group: starting a
// run cancels the one it supersedes, whose units then fail as canceled.
type Preemptor struct {
	mu      sync.Mutex
	running map[string]*claim
}

type claim struct {
	cancel context.CancelCauseFunc
}

// NewPreemptor returns an empty Preemptor.
func NewPreemptor() *Preemptor {
	return &Preemptor{running: make(map[string]*claim)}
}

// Acquire registers a run for group and returns its context. Any run
// already holding group is canceled with ErrPreempted. release must be
// called when the run ends.
func (p *Preemptor) Acquire(ctx context.Context, group string) (runCtx context.Context, release func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	c := &claim{cancel: cancel}

	p.mu.Lock()
	if prev, ok := p.running[group]; ok {
		slog.Info("Preempting in-flight run", "group", group)
		prev.cancel(ErrPreempted)
	}
	p.running[group] = c
	p.mu.Unlock()

	return runCtx, func() {
		p.mu.Lock()
		if p.running[group] == c {
			delete(p.running, group)
		}
		p.mu.Unlock()
		cancel(nil)
	}
}

// Running lists the groups with a run in flight.
func (p *Preemptor) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for g := range p.running {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
