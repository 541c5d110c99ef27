// Package throttle paces batch scans over keywords and products.
package throttle

import (
	"context"

	"golang.org/x/time/rate"
)

// Iterator walks a slice, waiting on a rate limiter before each item.
//
//	it := throttle.New(items, 5, 1)
//	for it.Next(ctx) {
//		use(it.Item())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] struct {
	items   []T
	limiter *rate.Limiter
	pos     int
	cur     T
	err     error
}

// New paces iteration at perSecond items per second with the given burst.
// perSecond <= 0 disables pacing.
func New[T any](items []T, perSecond float64, burst int) *Iterator[T] {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Iterator[T]{items: items, limiter: rate.NewLimiter(limit, burst)}
}

// Next advances to the next item. It returns false when the slice is
// exhausted or ctx is done; check Err to tell the two apart.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.err != nil || it.pos >= len(it.items) {
		return false
	}
	if err := it.limiter.Wait(ctx); err != nil {
		it.err = err
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

// Item returns the current item.
func (it *Iterator[T]) Item() T { return it.cur }

// Index returns the zero-based position of the current item.
func (it *Iterator[T]) Index() int { return it.pos - 1 }

// Err returns the context error that stopped iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }
