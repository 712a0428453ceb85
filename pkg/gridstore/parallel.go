package gridstore

import (
	"fmt"
	"io"
	"runtime"
	"sync"
)

// OpenOptions controls how OpenAllParallel loads a set of stores.
type OpenOptions struct {
	// Parallel enables concurrent opening. When false, stores are opened
	// one at a time in path order.
	Parallel bool

	// Workers caps how many stores are opened at once. 0 means
	// runtime.NumCPU().
	Workers int

	// SkipErrors keeps going when one store fails to open, collecting the
	// error instead of aborting the whole batch.
	SkipErrors bool

	// ErrorLog, if set, receives one line per failed open.
	ErrorLog io.Writer
}

// OpenAllParallel opens every store in paths (each with the same
// zoom/idx/radius, as when loading one layer split across shards) using a
// worker pool, and returns the opened stores in path order alongside any
// per-path errors.
func OpenAllParallel(paths []string, zoom, idx uint16, radius float64, opts OpenOptions) ([]*GridStore, []error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if !opts.Parallel {
		return openAllSerial(paths, zoom, idx, radius, opts)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	type result struct {
		index int
		store *GridStore
		err   error
	}

	jobs := make(chan int, len(paths))
	results := make(chan result, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s, err := NewWithOptions(paths[i], zoom, idx, radius)
				results <- result{index: i, store: s, err: err}
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	stores := make([]*GridStore, len(paths))
	var errs []error
	for r := range results {
		if r.err != nil {
			err := fmt.Errorf("%s: %w", paths[r.index], r.err)
			if opts.ErrorLog != nil {
				fmt.Fprintf(opts.ErrorLog, "gridstore: open failed: %v\n", err)
			}
			if !opts.SkipErrors {
				closeAll(stores)
				return nil, []error{err}
			}
			errs = append(errs, err)
			continue
		}
		stores[r.index] = r.store
	}
	return compactStores(stores), errs
}

func openAllSerial(paths []string, zoom, idx uint16, radius float64, opts OpenOptions) ([]*GridStore, []error) {
	stores := make([]*GridStore, 0, len(paths))
	var errs []error
	for _, p := range paths {
		s, err := NewWithOptions(p, zoom, idx, radius)
		if err != nil {
			err := fmt.Errorf("%s: %w", p, err)
			if opts.ErrorLog != nil {
				fmt.Fprintf(opts.ErrorLog, "gridstore: open failed: %v\n", err)
			}
			if !opts.SkipErrors {
				closeAll(stores)
				return nil, []error{err}
			}
			errs = append(errs, err)
			continue
		}
		stores = append(stores, s)
	}
	return stores, errs
}

func compactStores(stores []*GridStore) []*GridStore {
	out := stores[:0]
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func closeAll(stores []*GridStore) {
	for _, s := range stores {
		if s != nil {
			_ = s.Close()
		}
	}
}
