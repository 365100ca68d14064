// Package persistence reads and writes AccessState fragments to durable
// storage. The system state and every per-user partition are separate
// fragments; each is written according to the write mode it requested
// during mutation.
package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/access-engine/go-core/internal/access"
	"github.com/access-engine/go-core/pkg/types"
)

// Persistence is the storage boundary consumed by the service layer.
type Persistence interface {
	// Read populates the state from storage. Safe to call once at
	// process start; a missing store yields an empty state.
	Read(state *access.AccessState) error

	// Write dispatches every dirty fragment according to its pending
	// write mode. Sync fragments are written before Write returns;
	// async fragments are queued for the background writer. An unknown
	// write mode is a programming error and panics.
	Write(state *access.AccessState)

	// Close flushes queued async writes and releases resources.
	Close() error
}

const (
	systemStateFile = "system-state.yaml"
	userStateFormat = "user-%d-state.yaml"
)

// FilePersistence stores each fragment as a YAML file in one directory.
type FilePersistence struct {
	dir    string
	logger *zap.Logger
	writer *asyncWriter
}

// NewFilePersistence creates a file-backed store rooted at dir.
func NewFilePersistence(dir string, logger *zap.Logger) (*FilePersistence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	p := &FilePersistence{
		dir:    dir,
		logger: logger,
		writer: newAsyncWriter(logger),
	}
	p.writer.start()
	return p, nil
}

// Dir returns the state directory.
func (p *FilePersistence) Dir() string {
	return p.dir
}

// Read loads the system state and every per-user partition referenced by
// it. Users present in the system state without a file on disk get a
// fresh empty partition, so the structural invariants hold after a load.
func (p *FilePersistence) Read(state *access.AccessState) error {
	if err := p.readFragment(systemStateFile, state.SystemState); err != nil {
		return fmt.Errorf("failed to read system state: %w", err)
	}
	normalizeSystemState(state.SystemState)

	for _, userId := range state.SystemState.SortedUserIds() {
		userState := access.NewUserState()
		if err := p.readFragment(userStateFile(userId), userState); err != nil {
			return fmt.Errorf("failed to read state for user %d: %w", userId, err)
		}
		normalizeUserState(userState)
		state.UserStates[userId] = userState
	}

	if err := state.CheckInvariants(); err != nil {
		return fmt.Errorf("state invariant violated after read: %w", err)
	}

	p.logger.Info("access state loaded",
		zap.String("dir", p.dir),
		zap.Int("users", len(state.UserStates)),
		zap.Int("packages", len(state.SystemState.PackageStates)),
	)
	return nil
}

// Write dispatches dirty fragments by write mode and stale user files
// are removed for users no longer present.
func (p *FilePersistence) Write(state *access.AccessState) {
	p.dispatchFragment(systemStateFile, state.SystemState, &state.SystemState.WritableState)
	for userId, userState := range state.UserStates {
		p.dispatchFragment(userStateFile(userId), userState, &userState.WritableState)
	}
	p.removeStaleUserFiles(state)
}

func (p *FilePersistence) dispatchFragment(name string, fragment interface{}, writable *access.WritableState) {
	mode := writable.PendingWriteMode()
	switch mode {
	case access.WriteModeNone:
		return
	case access.WriteModeSync:
		if err := p.writeFragment(name, fragment); err != nil {
			p.logger.Error("sync state write failed",
				zap.String("file", name),
				zap.Error(err),
			)
			return
		}
	case access.WriteModeAsync:
		data, err := yaml.Marshal(fragment)
		if err != nil {
			p.logger.Error("failed to marshal state fragment",
				zap.String("file", name),
				zap.Error(err),
			)
			return
		}
		p.writer.enqueue(writeJob{path: filepath.Join(p.dir, name), data: data})
	default:
		panic(fmt.Sprintf("persistence: unknown write mode %d for %s", mode, name))
	}
	writable.ClearWriteMode()
}

// Flush blocks until all queued async writes have completed.
func (p *FilePersistence) Flush() {
	p.writer.flush()
}

// Close flushes and stops the background writer.
func (p *FilePersistence) Close() error {
	p.writer.stop()
	return nil
}

func (p *FilePersistence) readFragment(name string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (p *FilePersistence) writeFragment(name string, fragment interface{}) error {
	data, err := yaml.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return atomicWrite(filepath.Join(p.dir, name), data)
}

func (p *FilePersistence) removeStaleUserFiles(state *access.AccessState) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.logger.Warn("failed to scan state directory", zap.Error(err))
		return
	}
	for _, entry := range entries {
		var userId int32
		if n, err := fmt.Sscanf(entry.Name(), userStateFormat, &userId); n != 1 || err != nil {
			continue
		}
		if _, active := state.UserStates[userId]; active {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, entry.Name())); err != nil {
			p.logger.Warn("failed to remove stale user state file",
				zap.String("file", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		p.logger.Info("removed stale user state file", zap.Int32("user_id", userId))
	}
}

// atomicWrite writes via a temp file and rename so readers never observe
// a partial fragment.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

func userStateFile(userId int32) string {
	return fmt.Sprintf(userStateFormat, userId)
}

// normalizeSystemState replaces nil maps left by the YAML decoder on
// empty or missing documents.
func normalizeSystemState(s *access.SystemState) {
	if s.UserIds == nil {
		s.UserIds = make(map[int32]struct{})
	}
	if s.PackageStates == nil {
		s.PackageStates = make(map[string]*types.PackageState)
	}
	if s.AppIds == nil {
		s.AppIds = make(map[int32][]string)
	}
}

func normalizeUserState(s *access.UserState) {
	if s.UidPermissions == nil {
		s.UidPermissions = make(map[int32]map[string]types.Decision)
	}
	if s.UidAppOpModes == nil {
		s.UidAppOpModes = make(map[int32]map[string]types.Decision)
	}
	if s.PackageAppOpModes == nil {
		s.PackageAppOpModes = make(map[string]map[string]types.Decision)
	}
}
