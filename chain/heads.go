package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// HeadSource is the part of the node API the watcher needs
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Watcher publishes new block numbers. It prefers a head subscription and
// falls back to polling when the endpoint cannot push.
type Watcher struct {
	source       HeadSource
	pollInterval time.Duration
	subscribe    bool
	logger       *zap.Logger
}

func NewWatcher(source HeadSource, pollInterval time.Duration, subscribe bool, logger *zap.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{
		source:       source,
		pollInterval: pollInterval,
		subscribe:    subscribe,
		logger:       logger.Named("heads"),
	}
}

// Start streams block numbers until ctx is done. Numbers are delivered
// without blocking: if the consumer is busy the notification is dropped.
func (w *Watcher) Start(ctx context.Context) <-chan uint64 {
	out := make(chan uint64, 1)
	go func() {
		defer close(out)
		if w.subscribe {
			if err := w.follow(ctx, out); err != nil {
				w.logger.Warn("Head subscription unavailable, polling instead", zap.Error(err))
			} else {
				return
			}
		}
		w.poll(ctx, out)
	}()
	return out
}

func publish(out chan<- uint64, n uint64) {
	select {
	case out <- n:
	default:
	}
}

// follow returns nil once ctx is done and an error when the subscription
// cannot be established or breaks
func (w *Watcher) follow(ctx context.Context, out chan<- uint64) error {
	heads := make(chan *types.Header, 16)
	sub, err := w.source.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case h := <-heads:
			if h == nil || h.Number == nil {
				continue
			}
			publish(out, h.Number.Uint64())
		}
	}
}

func (w *Watcher) poll(ctx context.Context, out chan<- uint64) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		n, err := w.source.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("Failed to poll block number", zap.Error(err))
		} else if n > last {
			last = n
			publish(out, n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
