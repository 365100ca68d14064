package access

import (
	"fmt"

	"github.com/access-engine/go-core/pkg/types"
)

// UidAppOpPolicy decides app-op modes for uids, keyed by (app-id, op
// name) within the uid's user partition.
type UidAppOpPolicy struct {
	SchemePolicyBase
}

// NewUidAppOpPolicy creates the uid-app-op policy.
func NewUidAppOpPolicy(dispatcher *Dispatcher) *UidAppOpPolicy {
	return &UidAppOpPolicy{SchemePolicyBase: NewSchemePolicyBase(dispatcher)}
}

func (p *UidAppOpPolicy) SubjectScheme() string { return types.SchemeUid }
func (p *UidAppOpPolicy) ObjectScheme() string  { return types.SchemeAppOp }

func (p *UidAppOpPolicy) GetDecision(subject, object types.AccessUri, state *AccessState) types.Decision {
	uid := subject.(types.UidUri)
	op := object.(types.AppOpUri)

	userState := state.UserState(uid.UserId())
	if userState == nil {
		return types.DecisionDefault
	}
	return userState.UidAppOpModes[uid.AppId()][op.OpName]
}

func (p *UidAppOpPolicy) SetDecision(subject, object types.AccessUri, decision types.Decision, oldState, newState *AccessState) {
	uid := subject.(types.UidUri)
	op := object.(types.AppOpUri)

	userState := newState.UserState(uid.UserId())
	if userState == nil {
		panic(fmt.Sprintf("access: no user state for user %d", uid.UserId()))
	}

	oldDecision := p.GetDecision(subject, object, oldState)
	setDecisionRow(userState.UidAppOpModes, uid.AppId(), op.OpName, decision)
	userState.RequestWriteMode(WriteModeAsync)

	if decision != oldDecision {
		p.NotifyOnDecisionChangedListeners(subject, object, oldDecision, decision)
	}
}

func (p *UidAppOpPolicy) OnAppIdAdded(appId int32, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.UidAppOpModes[appId]; ok {
			delete(userState.UidAppOpModes, appId)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}

func (p *UidAppOpPolicy) OnAppIdRemoved(appId int32, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.UidAppOpModes[appId]; ok {
			delete(userState.UidAppOpModes, appId)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}
