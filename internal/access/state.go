// Package access implements the scheme-based access policy engine: the
// shared AccessState aggregate, the SchemePolicy contract and the
// AccessPolicy registry that routes decisions and lifecycle events.
package access

import (
	"fmt"
	"sort"

	"github.com/access-engine/go-core/pkg/types"
)

// WriteMode governs how a persisted state fragment is written back to
// durable storage after mutation.
type WriteMode int32

const (
	// WriteModeNone means the fragment is clean and the write is skipped.
	WriteModeNone WriteMode = 0
	// WriteModeAsync defers the write to the background writer.
	WriteModeAsync WriteMode = 1
	// WriteModeSync writes immediately on the calling goroutine.
	WriteModeSync WriteMode = 2
)

// String returns a human-readable name for the write mode.
func (m WriteMode) String() string {
	switch m {
	case WriteModeNone:
		return "none"
	case WriteModeAsync:
		return "async"
	case WriteModeSync:
		return "sync"
	default:
		return fmt.Sprintf("write-mode(%d)", int32(m))
	}
}

// WritableState is embedded by every persisted state fragment and tracks
// the pending write mode for that fragment.
type WritableState struct {
	writeMode WriteMode
}

// PendingWriteMode returns the write mode requested since the last write.
func (s *WritableState) PendingWriteMode() WriteMode {
	return s.writeMode
}

// RequestWriteMode marks the fragment dirty. Requests only ever upgrade
// the pending mode (sync over async over none); a less urgent request
// never downgrades one already pending.
func (s *WritableState) RequestWriteMode(mode WriteMode) {
	if mode > s.writeMode {
		s.writeMode = mode
	}
}

// ClearWriteMode resets the fragment to clean after a completed write.
func (s *WritableState) ClearWriteMode() {
	s.writeMode = WriteModeNone
}

// SystemState is the process-wide portion of AccessState: the set of
// active users, the package registry and the app-id buckets grouping
// packages that share an app-id.
type SystemState struct {
	WritableState `yaml:"-"`

	UserIds       map[int32]struct{}             `yaml:"userIds"`
	PackageStates map[string]*types.PackageState `yaml:"packageStates"`
	AppIds        map[int32][]string             `yaml:"appIds"`
}

// NewSystemState returns an empty system state.
func NewSystemState() *SystemState {
	return &SystemState{
		UserIds:       make(map[int32]struct{}),
		PackageStates: make(map[string]*types.PackageState),
		AppIds:        make(map[int32][]string),
	}
}

// HasUserId reports whether the user is active.
func (s *SystemState) HasUserId(userId int32) bool {
	_, ok := s.UserIds[userId]
	return ok
}

// SortedUserIds returns the active user ids in ascending order.
func (s *SystemState) SortedUserIds() []int32 {
	ids := make([]int32, 0, len(s.UserIds))
	for id := range s.UserIds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AppIdPackageNames returns the package names sharing the app-id, or nil
// if the app-id is unknown.
func (s *SystemState) AppIdPackageNames(appId int32) []string {
	return s.AppIds[appId]
}

// snapshot returns a deep copy of the system state. The pending write
// mode is carried over so an unwritten fragment stays dirty.
func (s *SystemState) snapshot() *SystemState {
	copied := &SystemState{
		WritableState: s.WritableState,
		UserIds:       make(map[int32]struct{}, len(s.UserIds)),
		PackageStates: make(map[string]*types.PackageState, len(s.PackageStates)),
		AppIds:        make(map[int32][]string, len(s.AppIds)),
	}
	for id := range s.UserIds {
		copied.UserIds[id] = struct{}{}
	}
	for name, pkg := range s.PackageStates {
		// PackageState is externally owned; the reference is shared.
		copied.PackageStates[name] = pkg
	}
	for appId, names := range s.AppIds {
		copied.AppIds[appId] = append([]string(nil), names...)
	}
	return copied
}

// UserState is one per-user partition of decision data. Each concrete
// SchemePolicy keeps its own table here.
type UserState struct {
	WritableState `yaml:"-"`

	// UidPermissions maps app-id -> permission name -> decision.
	UidPermissions map[int32]map[string]types.Decision `yaml:"uidPermissions"`
	// UidAppOpModes maps app-id -> op name -> decision.
	UidAppOpModes map[int32]map[string]types.Decision `yaml:"uidAppOpModes"`
	// PackageAppOpModes maps package name -> op name -> decision.
	PackageAppOpModes map[string]map[string]types.Decision `yaml:"packageAppOpModes"`
}

// NewUserState returns an empty user state partition.
func NewUserState() *UserState {
	return &UserState{
		UidPermissions:    make(map[int32]map[string]types.Decision),
		UidAppOpModes:     make(map[int32]map[string]types.Decision),
		PackageAppOpModes: make(map[string]map[string]types.Decision),
	}
}

func (s *UserState) snapshot() *UserState {
	copied := &UserState{
		WritableState:     s.WritableState,
		UidPermissions:    copyDecisionTableInt32(s.UidPermissions),
		UidAppOpModes:     copyDecisionTableInt32(s.UidAppOpModes),
		PackageAppOpModes: copyDecisionTableString(s.PackageAppOpModes),
	}
	return copied
}

func copyDecisionTableInt32(src map[int32]map[string]types.Decision) map[int32]map[string]types.Decision {
	dst := make(map[int32]map[string]types.Decision, len(src))
	for key, row := range src {
		copied := make(map[string]types.Decision, len(row))
		for name, decision := range row {
			copied[name] = decision
		}
		dst[key] = copied
	}
	return dst
}

func copyDecisionTableString(src map[string]map[string]types.Decision) map[string]map[string]types.Decision {
	dst := make(map[string]map[string]types.Decision, len(src))
	for key, row := range src {
		copied := make(map[string]types.Decision, len(row))
		for name, decision := range row {
			copied[name] = decision
		}
		dst[key] = copied
	}
	return dst
}

// AccessState is the full in-memory snapshot consulted and mutated by
// the policy engine. It carries no internal lock: callers must serialize
// mutation (see Service), which keeps the engine's read path lock-free
// and surfaces caller bugs instead of masking them.
type AccessState struct {
	SystemState *SystemState         `yaml:"systemState"`
	UserStates  map[int32]*UserState `yaml:"userStates"`
}

// NewAccessState returns an empty state aggregate.
func NewAccessState() *AccessState {
	return &AccessState{
		SystemState: NewSystemState(),
		UserStates:  make(map[int32]*UserState),
	}
}

// Snapshot returns a deep copy of the state. Mutating callers take a
// snapshot, mutate the copy and present (old, new) to the engine so
// policies can diff the pair and raise accurate change notifications.
func (s *AccessState) Snapshot() *AccessState {
	copied := &AccessState{
		SystemState: s.SystemState.snapshot(),
		UserStates:  make(map[int32]*UserState, len(s.UserStates)),
	}
	for userId, userState := range s.UserStates {
		copied.UserStates[userId] = userState.snapshot()
	}
	return copied
}

// UserState returns the partition for the user, or nil if the user is
// not active.
func (s *AccessState) UserState(userId int32) *UserState {
	return s.UserStates[userId]
}

// CheckInvariants verifies the structural invariants between the system
// state and the per-user partitions. Used by persistence after a reload
// and by tests.
func (s *AccessState) CheckInvariants() error {
	for userId := range s.SystemState.UserIds {
		if _, ok := s.UserStates[userId]; !ok {
			return fmt.Errorf("user %d has no user state partition", userId)
		}
	}
	for userId := range s.UserStates {
		if !s.SystemState.HasUserId(userId) {
			return fmt.Errorf("user state partition %d has no active user", userId)
		}
	}
	for name, pkg := range s.SystemState.PackageStates {
		found := false
		for _, bucketName := range s.SystemState.AppIds[pkg.AppId] {
			if bucketName == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("package %q missing from app-id %d bucket", name, pkg.AppId)
		}
	}
	for appId, names := range s.SystemState.AppIds {
		for _, name := range names {
			pkg, ok := s.SystemState.PackageStates[name]
			if !ok {
				return fmt.Errorf("app-id %d bucket references unknown package %q", appId, name)
			}
			if pkg.AppId != appId {
				return fmt.Errorf("package %q in app-id %d bucket declares app-id %d", name, appId, pkg.AppId)
			}
		}
	}
	return nil
}
