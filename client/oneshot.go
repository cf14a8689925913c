package client

import (
	"context"

	"github.com/caio-oliv/restatement/mutation"
	"github.com/caio-oliv/restatement/pkg/hash"
	"github.com/caio-oliv/restatement/query"
)

// ExecuteQuery runs fn once for key against c's shared cache, under the
// default stale directive, through a transient engine disposed after the
// call settles. Use a long-lived query.Engine instead when the same query
// runs repeatedly — a transient engine cannot coalesce across calls or
// react to invalidations after it is gone.
func ExecuteQuery[T any](ctx context.Context, c *Client, key hash.Key, fn query.Fn[T], opts query.Options[T]) (query.State[T], error) {
	return ExecuteQueryWith(ctx, c, key, fn, opts, query.ExecuteOpts{})
}

// ExecuteQueryWith is ExecuteQuery with per-call directive and TTL control.
func ExecuteQueryWith[T any](ctx context.Context, c *Client, key hash.Key, fn query.Fn[T], opts query.Options[T], exec query.ExecuteOpts) (query.State[T], error) {
	engine := query.NewEngine(c.Manager(), fn, opts)
	defer func() { _ = engine.Dispose(key) }()
	return engine.ExecuteWith(ctx, key, exec)
}

// RunQuery is ExecuteQuery with the no-cache directive: the cache is
// never consulted, fn always runs, and its result is still written back
// for later stale-directive readers.
func RunQuery[T any](ctx context.Context, c *Client, key hash.Key, fn query.Fn[T], opts query.Options[T]) (query.State[T], error) {
	return ExecuteQueryWith(ctx, c, key, fn, opts, query.ExecuteOpts{Directive: query.DirectiveNoCache})
}

// ExecuteMutation runs fn once against input through a transient mutation
// engine named name. Handlers configured in opts still run, including any
// cache side effects they drive through the shared manager.
func ExecuteMutation[I, T any](ctx context.Context, c *Client, name string, fn mutation.Fn[I, T], input I, opts mutation.Options[I, T]) (mutation.State[I, T], error) {
	engine := mutation.NewEngine(c.Manager(), name, fn, opts)
	return engine.Execute(ctx, input)
}
