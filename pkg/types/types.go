// Package types provides shared types for the access policy engine
package types

import "fmt"

// Decision is the outcome recorded for a (subject, object) pair under one
// scheme policy. DecisionDefault means no decision has ever been recorded
// and is distinct from an explicit DecisionDenied.
type Decision int32

const (
	DecisionDefault Decision = 0
	DecisionDenied  Decision = 1
	DecisionGranted Decision = 2
)

// String returns a human-readable name for the decision code.
func (d Decision) String() string {
	switch d {
	case DecisionDefault:
		return "default"
	case DecisionDenied:
		return "denied"
	case DecisionGranted:
		return "granted"
	default:
		return fmt.Sprintf("decision(%d)", int32(d))
	}
}

// Scheme identifiers for AccessUri values. A (subject scheme, object
// scheme) pair selects the SchemePolicy that owns the decision.
const (
	SchemeUid        = "uid"
	SchemePermission = "permission"
	SchemeAppOp      = "app-op"
	SchemePackage    = "package"
)

// AccessUri is an opaque addressable reference identifying either the
// subject of a decision (who is asking) or its object (what is being
// decided about). Concrete values are comparable structs so they can be
// used directly as map keys; two URIs are equal when their scheme and
// all addressing fields are equal.
type AccessUri interface {
	Scheme() string
	// String renders the URI as "scheme:fields", stable across runs, for
	// logging, audit records and cache keys.
	String() string
}

// perUserRange is the uid span reserved per user. A uid encodes both the
// user it belongs to and the app-id shared across users.
const perUserRange = 100000

// UidUri addresses a running uid.
type UidUri struct {
	Uid int32
}

func (u UidUri) Scheme() string { return SchemeUid }

func (u UidUri) String() string { return fmt.Sprintf("uid:%d", u.Uid) }

// UserId returns the user partition this uid belongs to.
func (u UidUri) UserId() int32 { return u.Uid / perUserRange }

// AppId returns the per-user app identifier encoded in this uid.
func (u UidUri) AppId() int32 { return u.Uid % perUserRange }

// UidFromUserIdAppId composes a uid from a user id and an app-id.
func UidFromUserIdAppId(userId, appId int32) int32 {
	return userId*perUserRange + appId
}

// PermissionUri addresses a permission by name.
type PermissionUri struct {
	PermissionName string
}

func (u PermissionUri) Scheme() string { return SchemePermission }

func (u PermissionUri) String() string { return "permission:" + u.PermissionName }

// AppOpUri addresses an app operation by name.
type AppOpUri struct {
	OpName string
}

func (u AppOpUri) Scheme() string { return SchemeAppOp }

func (u AppOpUri) String() string { return "app-op:" + u.OpName }

// PackageUri addresses an installed package by name within one user.
type PackageUri struct {
	PackageName string
	UserId      int32
}

func (u PackageUri) Scheme() string { return SchemePackage }

func (u PackageUri) String() string {
	return fmt.Sprintf("package:%s/%d", u.PackageName, u.UserId)
}

// PackageState describes one installed package. It is owned by the
// package manager; the policy engine only holds references and never
// constructs or destroys these outside of tests.
type PackageState struct {
	PackageName string `json:"packageName" yaml:"packageName"`
	AppId       int32  `json:"appId" yaml:"appId"`
	Version     int64  `json:"version,omitempty" yaml:"version,omitempty"`
	System      bool   `json:"system,omitempty" yaml:"system,omitempty"`
}
