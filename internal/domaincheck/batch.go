package domaincheck

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDNSConcurrency bounds parallel DNS lookups in a batch.
	DefaultDNSConcurrency = 500
	// DefaultHomepageConcurrency bounds parallel homepage fetches.
	DefaultHomepageConcurrency = 80
)

// BatchOptions tune a validation batch. ShouldStop is polled before
// each dispatch; when it returns true no new lookups start, though
// in-flight ones finish.
type BatchOptions struct {
	Concurrency int
	ShouldStop  func() bool
	OnProgress  func(done, total int)
}

// CheckBatch validates many domains concurrently and returns verdicts
// keyed by normalized domain. Duplicate raw values collapse to a
// single lookup; a slow domain never blocks the rest of the batch.
func (c *Checker) CheckBatch(ctx context.Context, raws []string, opts BatchOptions) map[string]Verdict {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultDNSConcurrency
	}

	// Dedupe up front so progress totals reflect real lookups.
	seen := make(map[string]struct{}, len(raws))
	domains := make([]string, 0, len(raws))
	for _, raw := range raws {
		key := Normalize(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		domains = append(domains, raw)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Verdict, len(domains))
		sem     = semaphore.NewWeighted(int64(concurrency))
		group   singleflight.Group
		done    int
	)

	total := len(domains)
	for _, raw := range domains {
		if ctx.Err() != nil {
			break
		}
		if opts.ShouldStop != nil && opts.ShouldStop() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// A stop raised while waiting for a slot must not dispatch.
		if opts.ShouldStop != nil && opts.ShouldStop() {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			defer sem.Release(1)

			key := Normalize(raw)
			v, _, _ := group.Do(key, func() (any, error) {
				return c.Check(ctx, raw), nil
			})
			verdict := v.(Verdict)

			mu.Lock()
			results[key] = verdict
			done++
			d := done
			mu.Unlock()

			if opts.OnProgress != nil {
				opts.OnProgress(d, total)
			}
		}(raw)
	}

	wg.Wait()
	return results
}

// CheckBatch fetches and scores many homepages concurrently, keyed by
// normalized domain. Semantics mirror Checker.CheckBatch.
func (h *HomepageChecker) CheckBatch(ctx context.Context, raws []string, websiteKeywords, excludeKeywords []string, opts BatchOptions) map[string]HomepageSignals {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultHomepageConcurrency
	}

	seen := make(map[string]struct{}, len(raws))
	domains := make([]string, 0, len(raws))
	for _, raw := range raws {
		key := Normalize(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		domains = append(domains, raw)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HomepageSignals, len(domains))
		sem     = semaphore.NewWeighted(int64(concurrency))
		done    int
	)

	total := len(domains)
	for _, raw := range domains {
		if ctx.Err() != nil {
			break
		}
		if opts.ShouldStop != nil && opts.ShouldStop() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if opts.ShouldStop != nil && opts.ShouldStop() {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			defer sem.Release(1)

			sig := h.Check(ctx, raw, websiteKeywords, excludeKeywords)

			mu.Lock()
			results[Normalize(raw)] = sig
			done++
			d := done
			mu.Unlock()

			if opts.OnProgress != nil {
				opts.OnProgress(d, total)
			}
		}(raw)
	}

	wg.Wait()
	return results
}
