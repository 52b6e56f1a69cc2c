package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/metalineage/internal/metadata"
	"github.com/leapstack-labs/metalineage/pkg/core"
)

// ReaderFunc opens the metadata reader of a resource.
type ReaderFunc func(core.Resource) (metadata.Reader, error)

// RunAll parses resources concurrently, at most opts.Workers at a time, and
// combines their results in input order. The first fatal resource error is returned.
func RunAll(ctx context.Context, resources []core.Resource, open ReaderFunc, opts Options) (*Plan, error) {
	opts = opts.withDefaults()
	results := make([]*Result, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, res := range resources {
		g.Go(func() error {
			reader, err := open(res)
			if err != nil {
				return err
			}
			r, err := NewResourceParser(res, reader, opts).Parse(gctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc := NewAccumulator(opts)
	for _, r := range results {
		acc.Add(r)
	}
	return acc.Plan()
}
