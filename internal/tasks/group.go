// Package tasks owns background work. Generation spawned here survives the
// HTTP request (or UI surface) that triggered it; completion is observed by
// reading the stores, not by a callback to the caller.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/loom-backend/internal/logger"
)

type Group struct {
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	wg     sync.WaitGroup
}

func NewGroup(baseLog *logger.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	return &Group{
		log:    baseLog.With("component", "tasks.Group"),
		ctx:    egCtx,
		cancel: cancel,
		eg:     eg,
	}
}

// Context is the app-owned lifetime all background work runs under.
func (g *Group) Context() context.Context { return g.ctx }

// GoLoop runs a long-lived loop (reconciler sweep, SSE forwarder). A loop
// error cancels the whole group.
func (g *Group) GoLoop(name string, fn func(ctx context.Context) error) {
	log := g.log.With("task", name)
	g.eg.Go(func() error {
		log.Debug("background loop starting")
		err := fn(g.ctx)
		if err != nil && g.ctx.Err() == nil {
			log.Error("background loop exited", "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Spawn runs one-shot fire-and-forget work. Panics are recovered and logged;
// failures never propagate to whoever spawned the task.
func (g *Group) Spawn(name string, fn func(ctx context.Context)) {
	log := g.log.With("task", name)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "panic", r)
			}
		}()
		fn(g.ctx)
	}()
}

// Shutdown cancels the group and waits up to timeout for everything to drain.
func (g *Group) Shutdown(timeout time.Duration) error {
	g.cancel()

	done := make(chan error, 1)
	go func() {
		err := g.eg.Wait()
		g.wg.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("background tasks did not drain within %s", timeout)
	}
}
