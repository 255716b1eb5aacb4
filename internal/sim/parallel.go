package sim

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Ensemble runs independent rollouts from several initial states. Each run
// gets its own Simulator from the factory so stateful controllers and
// metrics are never shared.
type Ensemble struct {
	factory func() *Simulator
	workers int
}

func NewEnsemble(factory func() *Simulator, workers int) *Ensemble {
	if workers < 1 {
		workers = 1
	}
	return &Ensemble{factory: factory, workers: workers}
}

func (e *Ensemble) Run(ctx context.Context, x0s []dynamo.State, cfg dynamo.Config) ([]*dynamo.Result, error) {
	results := make([]*dynamo.Result, len(x0s))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, x0 := range x0s {
		g.Go(func() error {
			res, err := e.factory().Run(ctx, x0, cfg)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
