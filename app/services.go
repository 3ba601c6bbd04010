package app

import (
	"context"
	"fmt"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serviceFunc allows using functions as services.Service.
type serviceFunc func(ctx context.Context) error

func (fn serviceFunc) Run(ctx context.Context) error {
	return fn(ctx)
}

type serviceList map[string]services.Service

// run all services until the given context.Context is done or one of them
// fails. In that case, all others are stopped as well.
func (s serviceList) run(ctx context.Context, logger *zap.Logger) error {
	wg, lifetime := errgroup.WithContext(ctx)
	// Run each.
	for name, serviceToRun := range s {
		// Copy values.
		name, serviceToRun := name, serviceToRun
		wg.Go(func() error {
			logger.Debug(fmt.Sprintf("service %s up", name))
			defer logger.Debug(fmt.Sprintf("service %s down", name))
			if err := serviceToRun.Run(lifetime); err != nil {
				return errors.Wrap(err, "run service", errors.Details{"service_name": name})
			}
			return nil
		})
	}
	return wg.Wait()
}
