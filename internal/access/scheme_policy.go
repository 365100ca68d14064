package access

import (
	"sync"

	"github.com/access-engine/go-core/pkg/types"
)

// SchemePolicy is the decision authority for one (subject scheme, object
// scheme) pair. GetDecision is a pure read and must not mutate state.
// SetDecision records into newState only, computes the prior effective
// decision from oldState and notifies listeners iff the decision
// actually changed. Lifecycle hooks default to no-ops via
// SchemePolicyBase and are overridden selectively.
type SchemePolicy interface {
	SubjectScheme() string
	ObjectScheme() string

	GetDecision(subject, object types.AccessUri, state *AccessState) types.Decision
	SetDecision(subject, object types.AccessUri, decision types.Decision, oldState, newState *AccessState)

	OnUserAdded(userId int32, oldState, newState *AccessState)
	OnUserRemoved(userId int32, oldState, newState *AccessState)
	OnAppIdAdded(appId int32, oldState, newState *AccessState)
	OnAppIdRemoved(appId int32, oldState, newState *AccessState)
	OnPackageAdded(pkg *types.PackageState, oldState, newState *AccessState)
	OnPackageRemoved(pkg *types.PackageState, oldState, newState *AccessState)

	AddOnDecisionChangedListener(listener OnDecisionChangedListener)
	RemoveOnDecisionChangedListener(listener OnDecisionChangedListener)
}

// SchemePolicyBase carries the listener registry shared by all concrete
// policies. Registration is guarded by its own lock since add/remove can
// race with notification dispatch independently of state mutation.
// Embed it and override the hooks that matter.
type SchemePolicyBase struct {
	dispatcher *Dispatcher

	listenersMu sync.Mutex
	listeners   []OnDecisionChangedListener
}

// NewSchemePolicyBase binds the base to the dispatcher that will deliver
// its notifications.
func NewSchemePolicyBase(dispatcher *Dispatcher) SchemePolicyBase {
	return SchemePolicyBase{dispatcher: dispatcher}
}

// AddOnDecisionChangedListener registers a listener. Duplicate adds are
// not deduplicated: registering the same listener twice means it is
// notified twice per change.
func (b *SchemePolicyBase) AddOnDecisionChangedListener(listener OnDecisionChangedListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// RemoveOnDecisionChangedListener unregisters the first registration of
// the listener. Removing a listener that was never added is a no-op.
func (b *SchemePolicyBase) RemoveOnDecisionChangedListener(listener OnDecisionChangedListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for i, existing := range b.listeners {
		if existing == listener {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// NotifyOnDecisionChangedListeners snapshots the registry under lock and
// hands the event to the dispatcher so callbacks run off the calling
// goroutine. A slow or re-entrant listener cannot stall or deadlock the
// goroutine that changed the decision.
func (b *SchemePolicyBase) NotifyOnDecisionChangedListeners(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {
	b.listenersMu.Lock()
	snapshot := append([]OnDecisionChangedListener(nil), b.listeners...)
	b.listenersMu.Unlock()

	if b.dispatcher == nil {
		return
	}
	b.dispatcher.Publish(DecisionChangedEvent{
		Subject:     subject,
		Object:      object,
		OldDecision: oldDecision,
		NewDecision: newDecision,
	}, snapshot)
}

// ListenerCount returns the current number of registrations.
func (b *SchemePolicyBase) ListenerCount() int {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	return len(b.listeners)
}

// Default no-op lifecycle hooks.

func (b *SchemePolicyBase) OnUserAdded(userId int32, oldState, newState *AccessState)   {}
func (b *SchemePolicyBase) OnUserRemoved(userId int32, oldState, newState *AccessState) {}
func (b *SchemePolicyBase) OnAppIdAdded(appId int32, oldState, newState *AccessState)   {}
func (b *SchemePolicyBase) OnAppIdRemoved(appId int32, oldState, newState *AccessState) {}
func (b *SchemePolicyBase) OnPackageAdded(pkg *types.PackageState, oldState, newState *AccessState) {
}
func (b *SchemePolicyBase) OnPackageRemoved(pkg *types.PackageState, oldState, newState *AccessState) {
}
