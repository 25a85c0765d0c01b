package plugins

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency caps outbound requests per plugin when no limit is configured
const DefaultMaxConcurrency = 2

// Limiter bounds concurrent requests per plugin across all jobs
type Limiter struct {
	sems map[string]*semaphore.Weighted
	def  int64
}

// NewLimiter creates a limiter. Limits are keyed by plugin name;
// plugins without an entry get DefaultMaxConcurrency.
func NewLimiter(limits map[string]int) *Limiter {
	l := &Limiter{
		sems: make(map[string]*semaphore.Weighted, len(limits)),
		def:  DefaultMaxConcurrency,
	}
	for name, n := range limits {
		if n <= 0 {
			n = DefaultMaxConcurrency
		}
		l.sems[name] = semaphore.NewWeighted(int64(n))
	}
	return l
}

// ForRegistry creates a limiter from the descriptors of a registry
func ForRegistry(r *Registry) *Limiter {
	limits := make(map[string]int)
	for _, desc := range append(r.Importers(), r.Exporters()...) {
		limits[desc.Name] = desc.MaxConcurrency
	}
	return NewLimiter(limits)
}

// Acquire blocks until a slot for the plugin is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context, plugin string) (release func(), err error) {
	sem, ok := l.sems[plugin]
	if !ok {
		// Unknown plugins share nothing; this only happens in tests and dry runs.
		sem = semaphore.NewWeighted(l.def)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
