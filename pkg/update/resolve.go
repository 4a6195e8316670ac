package update

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/registry"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Second
)

// ErrTimeout is the cause for a record whose lookup took longer than
// allowed. Like a registry having no suitable tags, it means the
// record is left out, rather than failing the run.
var ErrTimeout = errors.New("registry lookup timed out")

type ResolveOptions struct {
	// Concurrency bounds the number of lookups in flight.
	Concurrency int
	// Timeout bounds each lookup, including retries.
	Timeout time.Duration
	// Progress, if given, is called after each lookup completes with
	// the image and the outcome. Calls are serialised.
	Progress func(image string, err error)
}

type lookup struct {
	latest string
	err    error
}

// Resolve looks up the latest tag for each record, filling in Latest
// or Err. Lookups run concurrently; each record is only written once
// all lookups are done, so the result does not depend on the order
// in which they complete.
func Resolve(ctx context.Context, records Records, reg registry.Client, opts ResolveOptions) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]lookup, len(records))
	sem := make(chan struct{}, concurrency)
	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
	)
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec *Record) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = lookup{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			res := resolveOne(ctx, rec, reg, timeout)
			results[i] = res
			if opts.Progress != nil {
				progressMu.Lock()
				opts.Progress(rec.Image, res.err)
				progressMu.Unlock()
			}
		}(i, rec)
	}
	wg.Wait()

	for i, rec := range records {
		rec.Latest, rec.Err = results[i].latest, results[i].err
	}
}

func resolveOne(ctx context.Context, rec *Record, reg registry.Client, timeout time.Duration) lookup {
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tag, err := registry.Latest(lookupCtx, reg, rec.Name, rec.Pattern)
	if err != nil {
		if lookupCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = errors.Wrapf(ErrTimeout, "after %s", timeout)
		}
		return lookup{err: err}
	}
	return lookup{latest: tag.Name}
}
