package currency

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Error classes for rate sources. Transport and status problems wrap
// ErrLoad; structural and decoding problems wrap ErrParse.
var (
	ErrLoad  = errors.New("currency load error")
	ErrParse = errors.New("currency parse error")
)

// Source produces a list of normalized exchange rates. Sources are
// independent and side-effect free, so they can run concurrently.
type Source interface {
	Name() string
	Rates(ctx context.Context) ([]Rate, error)
}

// FetchAll runs every source concurrently and concatenates the results in
// source order. If any source fails, the whole fetch fails.
func FetchAll(ctx context.Context, sources []Source) ([]Rate, error) {
	results := make([][]Rate, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			rates, err := src.Rates(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				return
			}
			results[i] = rates
		}(i, src)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var combined []Rate
	for _, rates := range results {
		combined = append(combined, rates...)
	}
	return combined, nil
}
