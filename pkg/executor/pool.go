package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// workItem represents a flow and its index in the original flow list.
type workItem struct {
	flow  *flow.Flow
	index int
}

// FlowOutcome is the result of recording one flow in a batch.
type FlowOutcome struct {
	Flow   *flow.Flow
	Result *core.RecordingResult // nil when the run was rejected before starting
	Err    error
}

// BatchResult contains the outcome of a batch run.
type BatchResult struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int           // Not started because the batch was stopped
	Duration  time.Duration // Wall clock time
	Outcomes  []FlowOutcome // In input order
}

// Pool records many flows with independent recorders pulling from a shared
// work queue. Each recorder owns its own browser, so flows never share one.
type Pool struct {
	recorders  []*Recorder
	stopOnFail bool

	// OnFlowStart and OnFlowEnd report live progress.
	OnFlowStart func(idx, total int, f *flow.Flow)
	OnFlowEnd   func(idx int, f *flow.Flow, result *core.RecordingResult, err error)
}

// NewPool creates a pool over recorders. With stopOnFail set, the first
// failure stops workers from taking new flows.
func NewPool(recorders []*Recorder, stopOnFail bool) *Pool {
	return &Pool{recorders: recorders, stopOnFail: stopOnFail}
}

// Run records flows and waits for all workers to finish.
func (p *Pool) Run(ctx context.Context, flows []*flow.Flow) (*BatchResult, error) {
	if len(p.recorders) == 0 {
		return nil, fmt.Errorf("no recorders available")
	}

	start := time.Now()

	// Create work queue with flow indices
	workQueue := make(chan workItem, len(flows))
	for i, f := range flows {
		workQueue <- workItem{flow: f, index: i}
	}
	close(workQueue)

	outcomes := make([]FlowOutcome, len(flows))
	started := make([]bool, len(flows))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.recorders {
		rec := p.recorders[i]
		worker := i + 1

		g.Go(func() error {
			for item := range workQueue {
				if gctx.Err() != nil {
					return nil
				}

				mu.Lock()
				started[item.index] = true
				mu.Unlock()
				if p.OnFlowStart != nil {
					p.OnFlowStart(item.index, len(flows), item.flow)
				}
				logger.Debug("Worker %d recording %s", worker, item.flow.DisplayName())

				result, err := rec.Run(gctx, item.flow)

				mu.Lock()
				outcomes[item.index] = FlowOutcome{Flow: item.flow, Result: result, Err: err}
				mu.Unlock()
				if p.OnFlowEnd != nil {
					p.OnFlowEnd(item.index, item.flow, result, err)
				}

				if err != nil && p.stopOnFail {
					return fmt.Errorf("%s: %w", item.flow.DisplayName(), err)
				}
			}
			return nil
		})
	}

	// A worker error only stops the batch; per-flow errors are in the outcomes.
	_ = g.Wait()

	result := &BatchResult{Total: len(flows), Outcomes: outcomes, Duration: time.Since(start)}
	for i := range outcomes {
		switch {
		case !started[i]:
			outcomes[i].Flow = flows[i]
			result.Skipped++
		case outcomes[i].Err != nil:
			result.Failed++
		default:
			result.Completed++
		}
	}
	return result, ctx.Err()
}
