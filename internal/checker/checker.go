package checker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker is responsible for periodically running monitoring passes.
type Checker struct {
	engine        *Engine
	checkInterval time.Duration
	log           *zap.Logger
	now           func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new Checker.
func New(engine *Engine, interval time.Duration, log *zap.Logger) *Checker {
	return &Checker{
		engine:        engine,
		checkInterval: interval,
		log:           log.Named("checker"),
		now:           func() time.Time { return time.Now().UTC() },
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic checking process.
func (c *Checker) Start() {
	c.log.Info("starting background checker", zap.Duration("interval", c.checkInterval))

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.checkInterval)
		defer ticker.Stop()

		// Perform an initial pass on startup
		c.runPass(ctx)

		for {
			select {
			case <-ticker.C:
				c.runPass(ctx)
			case <-c.stopChan:
				c.log.Info("stopping background checker")
				return
			}
		}
	}()
}

// Stop waits for a running pass to finish. If ctx expires first, the pass
// is canceled; its unfinished targets stay due for the next start.
func (c *Checker) Stop(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stopChan) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("shutdown grace expired, canceling running pass")
		if c.cancel != nil {
			c.cancel()
		}
		<-done
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.log.Info("background checker stopped")
}

func (c *Checker) runPass(ctx context.Context) {
	summary := c.engine.RunPass(ctx, c.now())
	if summary.Degraded {
		c.log.Warn("monitoring pass overran its interval",
			zap.Duration("duration", summary.Duration),
			zap.Duration("interval", c.checkInterval))
	}
}
