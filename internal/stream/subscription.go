// Package stream implements the live subscriptions behind every SubscribeX call.
// A Subscription delivers whole snapshots through a size-1 channel where a
// newer snapshot replaces an unread older one, and is released with Cancel.
package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"Boxchat/internal/metrics"
)

// Subscription is a handle on a live stream of snapshots of type T.
type Subscription[T any] struct {
	out    chan T
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Updates returns the snapshot channel. It is closed once the subscription ends.
func (s *Subscription[T]) Updates() <-chan T {
	return s.out
}

// Done is closed after the pump has exited and released its resources.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the stream and waits for the pump to exit. A snapshot still
// buffered and not yet received is discarded, so once Cancel returns a
// receive on Updates only reports the closed channel. A consumer already
// holding a value it received before Cancel must guard it itself.
// Safe to call multiple times and from any goroutine.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
	for range s.out {
	}
}

func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case s.out <- v:
			return
		default:
		}

		// drop the stale snapshot the consumer has not picked up yet
		select {
		case <-s.out:
		default:
		}
	}
}

// Start runs fn in its own goroutine; every value passed to emit becomes the
// latest snapshot of the returned subscription. The subscription ends when fn
// returns, the parent context is cancelled, or Cancel is called.
func Start[T any](parent context.Context, fn func(ctx context.Context, emit func(T))) *Subscription[T] {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription[T]{
		out:    make(chan T, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	metrics.ActiveSubscriptions.Inc()
	go func() {
		defer func() {
			cancel()
			close(s.out)
			metrics.ActiveSubscriptions.Dec()
			close(s.done)
		}()

		fn(ctx, func(v T) {
			if ctx.Err() != nil {
				return
			}
			s.offer(v)
		})
	}()

	return s
}

// Loader reads the current snapshot of a stream.
type Loader[T any] func(ctx context.Context) (T, error)

// Watch emits load's result once immediately and again after every change
// signal on any of topics. The watcher is registered before the first load, so
// a write racing the subscription is never missed. Failed loads are logged and
// the previous snapshot stays current until the next signal.
func Watch[T any](parent context.Context, n *Notifier, load Loader[T], logger *zap.Logger, topics ...string) *Subscription[T] {
	signal := make(chan struct{}, 1)
	release := n.watch(signal, topics...)

	return Start(parent, func(ctx context.Context, emit func(T)) {
		defer release()

		for {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("stream reload failed",
					zap.Strings("topics", topics),
					zap.Error(err),
				)
			} else {
				emit(v)
			}

			select {
			case <-ctx.Done():
				return
			case <-signal:
			}
		}
	})
}
