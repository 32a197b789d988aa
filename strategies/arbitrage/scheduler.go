package arbitrage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run starts a cycle for every trigger until ctx is done or triggers is
// closed. Each trigger carries a block number, 0 for timer ticks. Cycles run
// off the receive loop so a trigger arriving mid-cycle is dropped instead of
// waiting for its turn. onReport, if set, sees every finished cycle.
func (s *Scanner) Run(ctx context.Context, triggers <-chan uint64, onReport func(*CycleReport)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-triggers:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				report, err := s.TryScan(ctx, block)
				if err != nil {
					if errors.Is(err, ErrScanInProgress) || errors.Is(err, ErrStaleBlock) {
						s.logger.Debug("Trigger dropped", zap.Uint64("block", block), zap.Error(err))
						return
					}
					s.logger.Error("Scan failed", zap.Error(err))
					return
				}
				if onReport != nil {
					onReport(report)
				}
			}()
		}
	}
}

// IntervalTriggers emits a block-less trigger immediately and then every
// interval until ctx is done
func IntervalTriggers(ctx context.Context, interval time.Duration) <-chan uint64 {
	out := make(chan uint64, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case out <- 0:
			default:
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
