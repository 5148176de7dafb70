// Package failure counts unexpected request failures and shuts the process
// down once they pass a threshold, leaving the restart to the host platform.
package failure

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/rendertron/internal/telemetry"
)

// DefaultThreshold is the number of failures tolerated before escalation.
const DefaultThreshold = 5

// Escalator is safe for concurrent use.
type Escalator struct {
	threshold int64
	count     atomic.Int64
	stop      func() error
	exit      func(int)
	logger    *zap.Logger
	once      sync.Once
}

// New builds an Escalator. stop tears down the browser; exit terminates the
// process and is normally os.Exit.
func New(threshold int, stop func() error, exit func(int), logger *zap.Logger) *Escalator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalator{
		threshold: int64(threshold),
		stop:      stop,
		exit:      exit,
		logger:    logger,
	}
}

// Record counts err. Once the count exceeds the threshold the browser is
// stopped and exit(1) is called, exactly once.
func (e *Escalator) Record(err error) {
	n := e.count.Add(1)
	telemetry.ObserveFailure()
	e.logger.Error("unexpected failure", zap.Int64("count", n), zap.Error(err))
	if n <= e.threshold {
		return
	}
	e.once.Do(func() {
		e.logger.Error("failure threshold exceeded, shutting instance down",
			zap.Int64("count", n),
			zap.Int64("threshold", e.threshold),
		)
		if e.stop != nil {
			if stopErr := e.stop(); stopErr != nil {
				e.logger.Error("browser stop failed", zap.Error(stopErr))
			}
		}
		_ = e.logger.Sync()
		if e.exit != nil {
			e.exit(1)
		}
	})
}

// Count returns the number of failures recorded so far.
func (e *Escalator) Count() int64 {
	return e.count.Load()
}
