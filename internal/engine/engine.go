// Package engine wires the access policy core to persistence, caching
// and metrics, and serializes state mutation.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/access-engine/go-core/internal/access"
	"github.com/access-engine/go-core/internal/cache"
	"github.com/access-engine/go-core/internal/metrics"
	"github.com/access-engine/go-core/internal/persistence"
	"github.com/access-engine/go-core/pkg/types"
)

// Engine owns the live AccessState. The access package itself takes no
// global lock around get/set (see access.AccessState); the engine is the
// caller that guarantees serialized mutation: every mutating call runs
// under one mutex, builds an (old, new) snapshot pair and swaps the live
// state pointer only after the mutation completed. Reads are lock-free
// against the last published snapshot.
type Engine struct {
	policy      *access.AccessPolicy
	dispatcher  *access.Dispatcher
	persistence persistence.Persistence
	cache       cache.Cache
	metrics     *metrics.PrometheusMetrics
	logger      *zap.Logger

	state atomic.Pointer[access.AccessState]
	muW   sync.Mutex // serializes all state mutation

	config Config
}

// Config configures the engine
type Config struct {
	// CacheEnabled enables caching of decision lookups
	CacheEnabled bool
	// CacheSize is the maximum number of cached entries
	CacheSize int
	// CacheTTL is the time-to-live for cached entries
	CacheTTL time.Duration
	// NotifyQueueDepth is the listener notification queue depth
	NotifyQueueDepth int
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		CacheEnabled:     true,
		CacheSize:        100000,
		CacheTTL:         5 * time.Minute,
		NotifyQueueDepth: 256,
	}
}

// Option overrides parts of the engine's construction.
type Option func(*Engine)

// WithCache replaces the default LRU cache, e.g. with a Redis cache.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine over the given persistence. The scheme policy
// registry is the default one: uid-permission, uid-app-op and
// package-app-op.
func New(cfg Config, store persistence.Persistence, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	dispatcher := access.NewDispatcher(cfg.NotifyQueueDepth)

	e := &Engine{
		policy:      access.NewDefaultAccessPolicy(logger, dispatcher),
		dispatcher:  dispatcher,
		persistence: store,
		logger:      logger,
		config:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil && cfg.CacheEnabled {
		e.cache = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	}
	if e.metrics != nil {
		dispatcher.SetOnDrop(e.metrics.RecordNotificationDropped)
	}

	e.state.Store(access.NewAccessState())
	return e
}

// Start loads the persisted state and begins notification delivery.
func (e *Engine) Start() error {
	state := access.NewAccessState()
	if err := e.persistence.Read(state); err != nil {
		return err
	}
	e.state.Store(state)
	e.dispatcher.Start()
	e.updateGauges(state)
	return nil
}

// Shutdown stops notification delivery and flushes pending writes.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.dispatcher.Stop()
	return e.persistence.Close()
}

// State returns the last published state snapshot. Callers must treat
// it as read-only.
func (e *Engine) State() *access.AccessState {
	return e.state.Load()
}

// GetDecision returns the effective decision for the pair, consulting
// the cache first.
func (e *Engine) GetDecision(subject, object types.AccessUri) types.Decision {
	var key string
	if e.cache != nil {
		key = cache.DecisionKey(subject, object)
		if decision, ok := e.cache.Get(key); ok {
			if e.metrics != nil {
				e.metrics.RecordCacheHit()
				e.metrics.RecordDecision(decision.String())
			}
			return decision
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss()
		}
	}

	decision := e.policy.GetDecision(subject, object, e.state.Load())
	if e.cache != nil {
		e.cache.Set(key, decision)
	}
	if e.metrics != nil {
		e.metrics.RecordDecision(decision.String())
	}
	return decision
}

// SetDecision records a new decision. The mutation runs on a snapshot;
// the live state pointer is swapped only after the policy finished, so
// concurrent readers always observe a complete state.
func (e *Engine) SetDecision(subject, object types.AccessUri, decision types.Decision) {
	var changed bool
	e.mutate(func(oldState, newState *access.AccessState) {
		changed = e.policy.GetDecision(subject, object, oldState) != decision
		e.policy.SetDecision(subject, object, decision, oldState, newState)
	})

	if e.cache != nil {
		e.cache.Delete(cache.DecisionKey(subject, object))
	}
	if changed && e.metrics != nil {
		e.metrics.RecordDecisionChange(subject.Scheme(), object.Scheme())
	}
}

// OnUserAdded activates a user.
func (e *Engine) OnUserAdded(userId int32) {
	e.mutate(func(oldState, newState *access.AccessState) {
		e.policy.OnUserAdded(userId, oldState, newState)
	})
	e.afterLifecycleEvent("user_added")
}

// OnUserRemoved deactivates a user and drops its partition.
func (e *Engine) OnUserRemoved(userId int32) {
	e.mutate(func(oldState, newState *access.AccessState) {
		e.policy.OnUserRemoved(userId, oldState, newState)
	})
	e.afterLifecycleEvent("user_removed")
}

// OnPackageAdded registers a package install or update.
func (e *Engine) OnPackageAdded(pkg *types.PackageState) {
	e.mutate(func(oldState, newState *access.AccessState) {
		e.policy.OnPackageAdded(pkg, oldState, newState)
	})
	e.afterLifecycleEvent("package_added")
}

// OnPackageRemoved registers a package removal.
func (e *Engine) OnPackageRemoved(pkg *types.PackageState) {
	e.mutate(func(oldState, newState *access.AccessState) {
		e.policy.OnPackageRemoved(pkg, oldState, newState)
	})
	e.afterLifecycleEvent("package_removed")
}

// mutate runs one serialized state mutation over an (old, new) snapshot
// pair and publishes the result.
func (e *Engine) mutate(fn func(oldState, newState *access.AccessState)) {
	e.muW.Lock()
	defer e.muW.Unlock()

	oldState := e.state.Load()
	newState := oldState.Snapshot()
	fn(oldState, newState)
	e.state.Store(newState)

	start := time.Now()
	e.persistence.Write(newState)
	if e.metrics != nil {
		e.metrics.ObserveStateWrite(time.Since(start))
	}
}

func (e *Engine) afterLifecycleEvent(event string) {
	// Lifecycle events can invalidate arbitrarily many decisions.
	if e.cache != nil {
		e.cache.Clear()
	}
	if e.metrics != nil {
		e.metrics.RecordLifecycleEvent(event)
	}
	e.updateGauges(e.state.Load())
}

func (e *Engine) updateGauges(state *access.AccessState) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetActiveUsers(len(state.SystemState.UserIds))
	e.metrics.SetTrackedPackages(len(state.SystemState.PackageStates))
}

// Reload replaces the live state with what is on disk. Used by the
// persistence watcher when the state files change externally.
func (e *Engine) Reload() error {
	e.muW.Lock()
	defer e.muW.Unlock()

	state := access.NewAccessState()
	if err := e.persistence.Read(state); err != nil {
		return err
	}
	e.state.Store(state)
	if e.cache != nil {
		e.cache.Clear()
	}
	e.updateGauges(state)
	e.logger.Info("access state reloaded from disk")
	return nil
}

// AddOnDecisionChangedListener registers a listener on the policy for
// the scheme pair. Panics if the pair has no registered policy.
func (e *Engine) AddOnDecisionChangedListener(subjectScheme, objectScheme string, listener access.OnDecisionChangedListener) {
	e.policy.SchemePolicy(subjectScheme, objectScheme).AddOnDecisionChangedListener(listener)
}

// RemoveOnDecisionChangedListener removes a listener from the policy for
// the scheme pair.
func (e *Engine) RemoveOnDecisionChangedListener(subjectScheme, objectScheme string, listener access.OnDecisionChangedListener) {
	e.policy.SchemePolicy(subjectScheme, objectScheme).RemoveOnDecisionChangedListener(listener)
}

// AddListenerToAllPolicies registers the listener on every scheme
// policy, e.g. the audit trail.
func (e *Engine) AddListenerToAllPolicies(listener access.OnDecisionChangedListener) {
	for _, pair := range [][2]string{
		{types.SchemeUid, types.SchemePermission},
		{types.SchemeUid, types.SchemeAppOp},
		{types.SchemePackage, types.SchemeAppOp},
	} {
		e.policy.SchemePolicy(pair[0], pair[1]).AddOnDecisionChangedListener(listener)
	}
}

// GetCacheStats returns cache statistics, or nil when caching is off.
func (e *Engine) GetCacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	stats := e.cache.Stats()
	return &stats
}

// Policy exposes the registry, mainly for tests.
func (e *Engine) Policy() *access.AccessPolicy {
	return e.policy
}
