package checker

import (
	"context"
	"sync"

	"driftwatch/internal/models"
)

// outcome is what one worker reports back for one target.
type outcome struct {
	target  models.Target
	result  models.MonitoringResult
	err     error
	skipped bool
}

// workerPool runs the checks of a single pass on a fixed number of
// goroutines and funnels every outcome into one results channel.
type workerPool struct {
	jobs    chan models.Target
	results chan outcome
	check   func(context.Context, models.Target) outcome
	wg      sync.WaitGroup
}

// newWorkerPool starts size workers that run check for each submitted target.
func newWorkerPool(ctx context.Context, size int, check func(context.Context, models.Target) outcome) *workerPool {
	if size < 1 {
		size = 1
	}
	pool := &workerPool{
		jobs:    make(chan models.Target, size*2),
		results: make(chan outcome, size*2),
		check:   check,
	}
	pool.startWorkers(ctx, size)
	return pool
}

func (p *workerPool) startWorkers(ctx context.Context, count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for target := range p.jobs {
				p.results <- p.check(ctx, target)
			}
		}()
	}
}

// Submit queues a target. It blocks while all workers are busy and the
// queue is full; due targets are never dropped.
func (p *workerPool) Submit(target models.Target) {
	p.jobs <- target
}

// Close stops accepting targets. The results channel is closed once every
// submitted target has reported.
func (p *workerPool) Close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results is the single aggregation point of the pass.
func (p *workerPool) Results() <-chan outcome {
	return p.results
}
