package harvest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"harvest.onebusaway.org/internal/logging"
)

// forEach runs fn for every item with at most limit calls in flight. fn must
// record its own failures; forEach only reports cancellation of ctx.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(context.Context, int, T)) error {
	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// progress logs a stage's completion at every tenth of its total.
type progress struct {
	mu         sync.Mutex
	logger     *slog.Logger
	stage      Stage
	total      int
	done       int
	lastDecile int
}

func newProgress(logger *slog.Logger, stage Stage, total int) *progress {
	return &progress{logger: logger, stage: stage, total: total}
}

func (p *progress) step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if p.total == 0 {
		return
	}
	decile := p.done * 10 / p.total
	if decile <= p.lastDecile {
		return
	}
	p.lastDecile = decile
	logging.LogOperation(p.logger, "stage_progress",
		slog.String("stage", string(p.stage)),
		slog.Int("percent", decile*10),
		slog.Int("done", p.done),
		slog.Int("total", p.total))
}
