package log

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mwantia/fabric/pkg/container"
)

var loggerServiceType = reflect.TypeOf((*LoggerService)(nil)).Elem()

// Resolve looks up the LoggerService registered in sc and returns it, or a
// named sub-logger when name is set. Components built by the agent get
// their loggers this way so they share one sink.
func Resolve(ctx context.Context, sc *container.ServiceContainer, name string) (LoggerService, error) {
	ok, resolved := sc.ResolveByType(ctx, loggerServiceType)
	if !ok {
		return nil, fmt.Errorf("failed to resolve logger '%s': no logger service registered", name)
	}

	base, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved service for logger '%s' is %T, not a LoggerService", name, resolved)
	}

	if name == "" {
		return base, nil
	}
	return base.Named(name), nil
}
