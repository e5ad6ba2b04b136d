package analyzer

import (
	"context"
	"sync"

	"github.com/swiftlens/swiftlens/validate"
)

// DefaultBatchWorkers caps per-group concurrency when no override is
// configured.
const DefaultBatchWorkers = 8

// Op is a single-file analysis operation run by a batch.
type Op func(ctx context.Context, path string) (interface{}, error)

// Outcome is the per-file result of a batch. Exactly one of Result and Err
// is meaningful.
type Outcome struct {
	Path   string      `json:"path"`
	Result interface{} `json:"result,omitempty"`
	Err    error       `json:"-"`
}

// AnalyzeMany runs op across all paths. Paths are grouped by discovered
// project root so each group shares one supervised session; within a group
// at most `workers` operations run concurrently (zero means
// min(DefaultBatchWorkers, group size)). One file's failure never aborts
// the batch, and the returned slice preserves input order with exactly one
// outcome per input. Cancelling ctx cancels in-flight operations; completed
// outcomes are preserved.
func (a *Analyzer) AnalyzeMany(ctx context.Context, paths []string, workers int, op Op) []Outcome {
	outcomes := make([]Outcome, len(paths))
	groups := make(map[string][]int)
	var groupOrder []string

	for i, path := range paths {
		outcomes[i].Path = path

		abs, err := validate.SwiftSourcePath(path)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		root, err := a.discoverer.Discover(abs)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		if _, seen := groups[root.Path]; !seen {
			groupOrder = append(groupOrder, root.Path)
		}
		groups[root.Path] = append(groups[root.Path], i)
	}

	var wg sync.WaitGroup
	for _, rootPath := range groupOrder {
		indexes := groups[rootPath]
		wg.Add(1)
		go func(indexes []int) {
			defer wg.Done()
			a.runGroup(ctx, indexes, paths, outcomes, workers, op)
		}(indexes)
	}
	wg.Wait()

	return outcomes
}

// runGroup fans out one project group with a bounded semaphore.
func (a *Analyzer) runGroup(ctx context.Context, indexes []int, paths []string, outcomes []Outcome, workers int, op Op) {
	limit := workers
	if limit <= 0 {
		limit = DefaultBatchWorkers
	}
	if limit > len(indexes) {
		limit = len(indexes)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, i := range indexes {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := op(ctx, paths[i])
			outcomes[i].Result = result
			outcomes[i].Err = err
		}(i)
	}
	wg.Wait()
}
