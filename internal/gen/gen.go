package gen

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/typegauge/typegauge/pkg/registry"
	"github.com/typegauge/typegauge/pkg/worker"
)

// Generator produces one candidate type definition per request.
type Generator interface {
	GenerateType(ctx context.Context, req Request) (registry.GeneratedType, error)
}

// RunOptions tunes the generation fan-out.
type RunOptions struct {
	Workers        int
	MaxRetries     int
	RateLimitRPS   float64
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// Run fans the requests out across the pool. A failed request becomes an
// error-marked entry in the output rather than aborting the batch, so the
// persisted file records which columns produced nothing usable.
func Run(ctx context.Context, g Generator, reqs []Request, opts RunOptions) ([]registry.GeneratedType, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	res, err := worker.ProcessAll(ctx, reqs, g.GenerateType, worker.Options{
		Workers:        opts.Workers,
		MaxRetries:     opts.MaxRetries,
		RateLimitRPS:   opts.RateLimitRPS,
		RequestTimeout: opts.RequestTimeout,
		FailurePolicy:  worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		return nil, err
	}

	out := make([]registry.GeneratedType, 0, len(res))
	for _, r := range res {
		if r.Err != nil {
			logger.Printf("generate: column %s failed: %v", r.Input.Column, r.Err)
			out = append(out, registry.GeneratedType{
				SemanticType: strings.ToUpper(r.Input.Column),
				Description:  r.Input.Description,
				ResultType:   "error",
			})
			continue
		}
		out = append(out, r.Output)
	}
	return out, nil
}
