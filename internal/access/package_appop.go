package access

import (
	"fmt"

	"github.com/access-engine/go-core/pkg/types"
)

// PackageAppOpPolicy decides app-op modes for individual packages,
// keyed by (package name, op name) within the subject's user partition.
// Unlike UidAppOpPolicy, packages sharing an app-id do not share these
// decisions.
type PackageAppOpPolicy struct {
	SchemePolicyBase
}

// NewPackageAppOpPolicy creates the package-app-op policy.
func NewPackageAppOpPolicy(dispatcher *Dispatcher) *PackageAppOpPolicy {
	return &PackageAppOpPolicy{SchemePolicyBase: NewSchemePolicyBase(dispatcher)}
}

func (p *PackageAppOpPolicy) SubjectScheme() string { return types.SchemePackage }
func (p *PackageAppOpPolicy) ObjectScheme() string  { return types.SchemeAppOp }

func (p *PackageAppOpPolicy) GetDecision(subject, object types.AccessUri, state *AccessState) types.Decision {
	pkg := subject.(types.PackageUri)
	op := object.(types.AppOpUri)

	userState := state.UserState(pkg.UserId)
	if userState == nil {
		return types.DecisionDefault
	}
	return userState.PackageAppOpModes[pkg.PackageName][op.OpName]
}

func (p *PackageAppOpPolicy) SetDecision(subject, object types.AccessUri, decision types.Decision, oldState, newState *AccessState) {
	pkg := subject.(types.PackageUri)
	op := object.(types.AppOpUri)

	userState := newState.UserState(pkg.UserId)
	if userState == nil {
		panic(fmt.Sprintf("access: no user state for user %d", pkg.UserId))
	}

	oldDecision := p.GetDecision(subject, object, oldState)
	setDecisionRow(userState.PackageAppOpModes, pkg.PackageName, op.OpName, decision)
	userState.RequestWriteMode(WriteModeAsync)

	if decision != oldDecision {
		p.NotifyOnDecisionChangedListeners(subject, object, oldDecision, decision)
	}
}

// OnPackageAdded drops rows left behind by a previous install of the
// same package name, so a reinstall starts from no opinion.
func (p *PackageAppOpPolicy) OnPackageAdded(pkg *types.PackageState, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.PackageAppOpModes[pkg.PackageName]; ok {
			delete(userState.PackageAppOpModes, pkg.PackageName)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}

// OnPackageRemoved tears down the package's op rows in every user
// partition.
func (p *PackageAppOpPolicy) OnPackageRemoved(pkg *types.PackageState, oldState, newState *AccessState) {
	for _, userState := range newState.UserStates {
		if _, ok := userState.PackageAppOpModes[pkg.PackageName]; ok {
			delete(userState.PackageAppOpModes, pkg.PackageName)
			userState.RequestWriteMode(WriteModeAsync)
		}
	}
}
