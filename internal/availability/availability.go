// Package availability answers whether a provider CLI is usable right now
// without paying a subprocess probe on every turn. Probe outcomes, healthy
// or not, are cached with a TTL so a burst of turns across projects reuses
// one probe per provider.
package availability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/chorus/internal/cachemanager"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/tracing"
)

// DefaultTTL bounds how long a probe result is trusted. Long enough that a
// turn burst never re-probes, short enough that installing a missing CLI is
// picked up without a restart.
const DefaultTTL = 5 * time.Minute

// Checker caches provider availability probes.
type Checker struct {
	ttl    time.Duration
	cache  cachemanager.CacheManager[provider.Name, provider.Status]
	probes *cachemanager.ReadThroughCache[provider.Name, provider.Status, provider.Adapter]
	tracer trace.Tracer
}

// Option configures a Checker.
type Option func(*Checker)

// WithTracer sets the tracer for probe span instrumentation.
// If tracer is nil, the checker keeps its default noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Checker) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewChecker builds a checker that caches probe outcomes for ttl.
// A zero or negative ttl disables caching and probes on every call.
func NewChecker(ttl time.Duration, opts ...Option) *Checker {
	cache := cachemanager.NewInMemoryCacheManager[provider.Name, provider.Status](
		"availability", ttl, cachemanager.DefaultCleanupInterval)

	c := &Checker{
		ttl:    ttl,
		cache:  cache,
		tracer: noop.NewTracerProvider().Tracer("noop"),
	}

	// An unavailable CLI caches just like a healthy one. Probe failures are
	// data, not loader errors, so a missing binary is not re-probed per turn.
	probe := func(ctx context.Context, adapter provider.Adapter) (provider.Status, error) {
		return adapter.CheckAvailability(ctx), nil
	}
	c.probes = cachemanager.NewReadThroughCache[provider.Name, provider.Status, provider.Adapter](
		cache, probe, ttl <= 0)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports the adapter's availability, probing at most once per TTL.
func (c *Checker) Check(ctx context.Context, adapter provider.Adapter) provider.Status {
	ctx, span := c.tracer.Start(ctx, tracing.SpanAvailabilityCheck,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrProvider, adapter.Name().String()))

	status, err := c.probes.Get(ctx, adapter.Name(), adapter, c.ttl)
	if err != nil {
		// The probe loader never fails today; keep the contract honest.
		status = provider.Status{Error: err.Error()}
	}

	span.SetAttributes(attribute.Bool(tracing.AttrAvailable, status.Available))
	return status
}

// CheckAll probes every adapter concurrently and returns statuses keyed by
// provider name. Cached entries are served without a probe.
func (c *Checker) CheckAll(ctx context.Context, adapters []provider.Adapter) map[provider.Name]provider.Status {
	statuses := make(map[provider.Name]provider.Status, len(adapters))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, adapter := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := c.Check(ctx, adapter)
			mu.Lock()
			statuses[adapter.Name()] = status
			mu.Unlock()
		}()
	}
	wg.Wait()

	return statuses
}

// Invalidate drops the cached status for a provider so the next Check
// probes again. Call it after the user installs or updates a CLI.
func (c *Checker) Invalidate(name provider.Name) {
	if err := c.cache.Delete(context.Background(), name); err != nil {
		log.Warn(log.CatProvider, "failed to invalidate availability cache",
			"provider", name, "error", err)
	}
}
