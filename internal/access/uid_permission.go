package access

import (
	"fmt"

	"github.com/access-engine/go-core/pkg/types"
)

// UidPermissionPolicy decides permission grants for uids. Decisions are
// keyed by (app-id, permission name) within the user partition the uid
// belongs to, so all packages sharing an app-id share the decision.
type UidPermissionPolicy struct {
	SchemePolicyBase
}

// NewUidPermissionPolicy creates the uid-permission policy.
func NewUidPermissionPolicy(dispatcher *Dispatcher) *UidPermissionPolicy {
	return &UidPermissionPolicy{SchemePolicyBase: NewSchemePolicyBase(dispatcher)}
}

func (p *UidPermissionPolicy) SubjectScheme() string { return types.SchemeUid }
func (p *UidPermissionPolicy) ObjectScheme() string  { return types.SchemePermission }

// GetDecision returns the recorded decision, or DecisionDefault when no
// decision was ever recorded for the pair. DecisionDefault is a "no
// opinion" sentinel and is not an explicit deny.
func (p *UidPermissionPolicy) GetDecision(subject, object types.AccessUri, state *AccessState) types.Decision {
	uid := subject.(types.UidUri)
	permission := object.(types.PermissionUri)

	userState := state.UserState(uid.UserId())
	if userState == nil {
		return types.DecisionDefault
	}
	return userState.UidPermissions[uid.AppId()][permission.PermissionName]
}

// SetDecision records the decision into newState and notifies listeners
// iff the effective decision changed relative to oldState. Setting
// DecisionDefault erases the entry rather than storing the sentinel.
func (p *UidPermissionPolicy) SetDecision(subject, object types.AccessUri, decision types.Decision, oldState, newState *AccessState) {
	uid := subject.(types.UidUri)
	permission := object.(types.PermissionUri)

	userState := newState.UserState(uid.UserId())
	if userState == nil {
		panic(fmt.Sprintf("access: no user state for user %d", uid.UserId()))
	}

	oldDecision := p.GetDecision(subject, object, oldState)
	setDecisionRow(userState.UidPermissions, uid.AppId(), permission.PermissionName, decision)
	userState.RequestWriteMode(WriteModeAsync)

	if decision != oldDecision {
		p.NotifyOnDecisionChangedListeners(subject, object, oldDecision, decision)
	}
}

// OnAppIdAdded clears any rows left behind by a previous owner of the
// app-id, so a reused app-id cannot inherit stale grants.
func (p *UidPermissionPolicy) OnAppIdAdded(appId int32, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.UidPermissions[appId]; ok {
			delete(userState.UidPermissions, appId)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}

// OnAppIdRemoved tears down the app-id's permission rows in every user
// partition.
func (p *UidPermissionPolicy) OnAppIdRemoved(appId int32, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.UidPermissions[appId]; ok {
			delete(userState.UidPermissions, appId)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}

// setDecisionRow writes one decision into a two-level table, erasing the
// entry (and an emptied row) when the decision is the sentinel.
func setDecisionRow[K comparable](table map[K]map[string]types.Decision, key K, name string, decision types.Decision) {
	if decision == types.DecisionDefault {
		row, ok := table[key]
		if !ok {
			return
		}
		delete(row, name)
		if len(row) == 0 {
			delete(table, key)
		}
		return
	}
	row, ok := table[key]
	if !ok {
		row = make(map[string]types.Decision)
		table[key] = row
	}
	row[name] = decision
}
