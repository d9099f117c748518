package reply

import (
	"context"
	"time"
)

// batchPause separates consecutive items in a batch run so their streaming
// updates don't overlap. It is pacing, not a correctness requirement.
const batchPause = 500 * time.Millisecond

// BatchItem pairs a request with its terminal result. Err is non-nil only
// when generation could not start for that item.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// BatchRunner generates replies for multiple screenshots sequentially.
type BatchRunner struct {
	orchestrator *Orchestrator
	pause        time.Duration
}

// NewBatchRunner creates a BatchRunner over the given Orchestrator.
func NewBatchRunner(o *Orchestrator) *BatchRunner {
	return &BatchRunner{orchestrator: o, pause: batchPause}
}

// GenerateAll processes the requests in order, pausing between items. A
// failed item does not stop the batch. onToken, when non-nil, is called
// with the item index and the accumulated text.
func (b *BatchRunner) GenerateAll(ctx context.Context, reqs []Request, onToken func(i int, text string)) []BatchItem {
	items := make([]BatchItem, 0, len(reqs))
	for i, req := range reqs {
		if i > 0 {
			select {
			case <-ctx.Done():
				items = append(items, BatchItem{Request: req, Err: ctx.Err()})
				continue
			case <-time.After(b.pause):
			}
		}

		var cb func(string)
		if onToken != nil {
			cb = func(text string) { onToken(i, text) }
		}
		result, err := b.orchestrator.Generate(ctx, req, cb)
		items = append(items, BatchItem{Request: req, Result: result, Err: err})
	}
	return items
}
