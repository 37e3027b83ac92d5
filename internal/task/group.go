// Package task wraps errgroup with panic capture. panic/recover is
// goroutine-local, so a panic inside a plain errgroup task would crash the
// process; Group records it instead and re-raises it on the goroutine that
// calls Wait.
package task

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// errPanicked cancels sibling tasks once a panic has been captured.
var errPanicked = errors.New("task panicked")

// Group is a bounded task group whose Wait re-raises the first panic raised
// inside any task.
type Group struct {
	group *errgroup.Group

	once       sync.Once
	panicked   bool
	panicValue any
}

// WithContext returns a Group and a context that is cancelled the first time
// a task fails or panics.
func WithContext(ctx context.Context) (*Group, context.Context) {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{group: group}, gctx
}

// SetLimit caps the number of in-flight tasks; further Go calls block until
// a slot frees up.
func (g *Group) SetLimit(n int) {
	g.group.SetLimit(n)
}

// Go runs fn in a new task.
func (g *Group) Go(fn func() error) {
	g.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				g.once.Do(func() {
					g.panicked = true
					g.panicValue = r
				})
				err = errPanicked
			}
		}()
		return fn()
	})
}

// Wait blocks until every task has returned. If any task panicked, the first
// captured panic value is re-raised here; otherwise the first task error is
// returned.
func (g *Group) Wait() error {
	err := g.group.Wait()
	if g.panicked {
		panic(g.panicValue)
	}
	return err
}
