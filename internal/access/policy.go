package access

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/access-engine/go-core/pkg/types"
)

// AccessPolicy owns the registry of SchemePolicy instances and routes
// every decision request to the policy registered for the request's
// (subject scheme, object scheme) pair. Lifecycle events mutate the
// shared state first and then fan out to every registered policy.
//
// The registry is immutable after construction. Requesting a decision
// for an unregistered pair is a configuration error and panics: mapping
// the miss to a default decision would hide a missing registration and
// open a silent security gap.
type AccessPolicy struct {
	logger *zap.Logger

	// schemePolicies maps subject scheme -> object scheme -> policy.
	schemePolicies map[string]map[string]SchemePolicy

	// subjectSchemes and objectSchemes hold the sorted registry keys so
	// fan-out order is deterministic within a process run.
	subjectSchemes []string
	objectSchemes  map[string][]string
}

// NewAccessPolicy builds a registry from the given policies. Registering
// two policies for the same scheme pair panics.
func NewAccessPolicy(logger *zap.Logger, policies ...SchemePolicy) *AccessPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := make(map[string]map[string]SchemePolicy)
	for _, policy := range policies {
		subjectScheme := policy.SubjectScheme()
		objectScheme := policy.ObjectScheme()
		inner, ok := registry[subjectScheme]
		if !ok {
			inner = make(map[string]SchemePolicy)
			registry[subjectScheme] = inner
		}
		if _, exists := inner[objectScheme]; exists {
			panic(fmt.Sprintf("access: duplicate scheme policy for (%s, %s)", subjectScheme, objectScheme))
		}
		inner[objectScheme] = policy
	}

	subjectSchemes := make([]string, 0, len(registry))
	objectSchemes := make(map[string][]string, len(registry))
	for subjectScheme, inner := range registry {
		subjectSchemes = append(subjectSchemes, subjectScheme)
		schemes := make([]string, 0, len(inner))
		for objectScheme := range inner {
			schemes = append(schemes, objectScheme)
		}
		sort.Strings(schemes)
		objectSchemes[subjectScheme] = schemes
	}
	sort.Strings(subjectSchemes)

	return &AccessPolicy{
		logger:         logger,
		schemePolicies: registry,
		subjectSchemes: subjectSchemes,
		objectSchemes:  objectSchemes,
	}
}

// NewDefaultAccessPolicy builds the standard registry: uid-permission,
// uid-app-op and package-app-op policies sharing one dispatcher.
func NewDefaultAccessPolicy(logger *zap.Logger, dispatcher *Dispatcher) *AccessPolicy {
	return NewAccessPolicy(logger,
		NewUidPermissionPolicy(dispatcher),
		NewUidAppOpPolicy(dispatcher),
		NewPackageAppOpPolicy(dispatcher),
	)
}

// SchemePolicy returns the policy registered for the pair, panicking on
// a miss.
func (p *AccessPolicy) SchemePolicy(subjectScheme, objectScheme string) SchemePolicy {
	policy, ok := p.schemePolicies[subjectScheme][objectScheme]
	if !ok {
		panic(fmt.Sprintf("access: no scheme policy registered for (%s, %s)", subjectScheme, objectScheme))
	}
	return policy
}

// GetDecision routes the read to the policy for the URI pair's schemes.
func (p *AccessPolicy) GetDecision(subject, object types.AccessUri, state *AccessState) types.Decision {
	return p.SchemePolicy(subject.Scheme(), object.Scheme()).GetDecision(subject, object, state)
}

// SetDecision routes the write to the policy for the URI pair's schemes.
// The policy mutates newState only; oldState is consulted to decide
// whether listeners must be notified.
func (p *AccessPolicy) SetDecision(subject, object types.AccessUri, decision types.Decision, oldState, newState *AccessState) {
	p.SchemePolicy(subject.Scheme(), object.Scheme()).SetDecision(subject, object, decision, oldState, newState)
}

// forEachSchemePolicy fans an event out to every registered policy in
// sorted scheme order.
func (p *AccessPolicy) forEachSchemePolicy(fn func(policy SchemePolicy)) {
	for _, subjectScheme := range p.subjectSchemes {
		for _, objectScheme := range p.objectSchemes[subjectScheme] {
			fn(p.schemePolicies[subjectScheme][objectScheme])
		}
	}
}

// OnUserAdded records the new user in newState and fans the event out.
// The state mutation always completes before any policy hook runs so
// hooks observe a state that already contains the user.
func (p *AccessPolicy) OnUserAdded(userId int32, oldState, newState *AccessState) {
	if newState.SystemState.HasUserId(userId) {
		p.logger.Warn("user already added", zap.Int32("user_id", userId))
		return
	}
	newState.SystemState.UserIds[userId] = struct{}{}
	newState.UserStates[userId] = NewUserState()
	newState.SystemState.RequestWriteMode(WriteModeAsync)
	newState.UserStates[userId].RequestWriteMode(WriteModeAsync)

	p.forEachSchemePolicy(func(policy SchemePolicy) {
		policy.OnUserAdded(userId, oldState, newState)
	})
	p.logger.Info("user added", zap.Int32("user_id", userId))
}

// OnUserRemoved removes the user and its partition, then fans out. The
// system state is written synchronously so a removed user cannot
// resurface after a crash.
func (p *AccessPolicy) OnUserRemoved(userId int32, oldState, newState *AccessState) {
	if !newState.SystemState.HasUserId(userId) {
		p.logger.Warn("user already removed", zap.Int32("user_id", userId))
		return
	}
	delete(newState.SystemState.UserIds, userId)
	delete(newState.UserStates, userId)
	newState.SystemState.RequestWriteMode(WriteModeSync)

	p.forEachSchemePolicy(func(policy SchemePolicy) {
		policy.OnUserRemoved(userId, oldState, newState)
	})
	p.logger.Info("user removed", zap.Int32("user_id", userId))
}

// OnPackageAdded registers the package. When the package brings a fresh
// app-id, OnAppIdAdded fires before OnPackageAdded: package-level hooks
// may assume the app-id bucket already exists. A package re-added under
// a different app-id is torn down under its old app-id first so it
// never sits in two buckets at once.
func (p *AccessPolicy) OnPackageAdded(pkg *types.PackageState, oldState, newState *AccessState) {
	system := newState.SystemState
	if prior, known := system.PackageStates[pkg.PackageName]; known && prior.AppId != pkg.AppId {
		p.OnPackageRemoved(prior, oldState, newState)
	}
	_, appIdExisted := system.AppIds[pkg.AppId]

	system.PackageStates[pkg.PackageName] = pkg
	if !containsString(system.AppIds[pkg.AppId], pkg.PackageName) {
		system.AppIds[pkg.AppId] = append(system.AppIds[pkg.AppId], pkg.PackageName)
		sort.Strings(system.AppIds[pkg.AppId])
	}
	system.RequestWriteMode(WriteModeAsync)

	if !appIdExisted {
		p.forEachSchemePolicy(func(policy SchemePolicy) {
			policy.OnAppIdAdded(pkg.AppId, oldState, newState)
		})
	}
	p.forEachSchemePolicy(func(policy SchemePolicy) {
		policy.OnPackageAdded(pkg, oldState, newState)
	})
	p.logger.Info("package added",
		zap.String("package", pkg.PackageName),
		zap.Int32("app_id", pkg.AppId),
		zap.Bool("new_app_id", !appIdExisted),
	)
}

// OnPackageRemoved deregisters the package. Package-level hooks fire
// before OnAppIdRemoved, the inverse of the add ordering: app-id
// teardown runs only after every package-level cleanup referencing the
// app-id has completed.
func (p *AccessPolicy) OnPackageRemoved(pkg *types.PackageState, oldState, newState *AccessState) {
	system := newState.SystemState
	if _, known := system.PackageStates[pkg.PackageName]; !known {
		p.logger.Warn("package already removed", zap.String("package", pkg.PackageName))
		return
	}

	delete(system.PackageStates, pkg.PackageName)
	bucket := removeString(system.AppIds[pkg.AppId], pkg.PackageName)
	appIdRemoved := len(bucket) == 0
	if appIdRemoved {
		delete(system.AppIds, pkg.AppId)
	} else {
		system.AppIds[pkg.AppId] = bucket
	}
	system.RequestWriteMode(WriteModeAsync)

	p.forEachSchemePolicy(func(policy SchemePolicy) {
		policy.OnPackageRemoved(pkg, oldState, newState)
	})
	if appIdRemoved {
		p.forEachSchemePolicy(func(policy SchemePolicy) {
			policy.OnAppIdRemoved(pkg.AppId, oldState, newState)
		})
	}
	p.logger.Info("package removed",
		zap.String("package", pkg.PackageName),
		zap.Int32("app_id", pkg.AppId),
		zap.Bool("app_id_removed", appIdRemoved),
	)
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func removeString(values []string, value string) []string {
	result := values[:0]
	for _, v := range values {
		if v != value {
			result = append(result, v)
		}
	}
	return result
}
