package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/access-engine/go-core/internal/access"
	"github.com/access-engine/go-core/pkg/types"
)

func newTestPersistence(t *testing.T) *FilePersistence {
	t.Helper()
	p, err := NewFilePersistence(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func populatedState() *access.AccessState {
	state := access.NewAccessState()
	state.SystemState.UserIds[0] = struct{}{}
	state.SystemState.UserIds[10] = struct{}{}
	state.SystemState.PackageStates["com.example.app"] = &types.PackageState{
		PackageName: "com.example.app",
		AppId:       10001,
		Version:     42,
	}
	state.SystemState.AppIds[10001] = []string{"com.example.app"}

	state.UserStates[0] = access.NewUserState()
	state.UserStates[0].UidPermissions[10001] = map[string]types.Decision{
		"android.permission.CAMERA": types.DecisionGranted,
	}
	state.UserStates[0].PackageAppOpModes["com.example.app"] = map[string]types.Decision{
		"COARSE_LOCATION": types.DecisionDenied,
	}
	state.UserStates[10] = access.NewUserState()
	state.UserStates[10].UidAppOpModes[10001] = map[string]types.Decision{
		"FINE_LOCATION": types.DecisionGranted,
	}
	return state
}

func markAllDirty(state *access.AccessState, mode access.WriteMode) {
	state.SystemState.RequestWriteMode(mode)
	for _, userState := range state.UserStates {
		userState.RequestWriteMode(mode)
	}
}

func TestFilePersistence_RoundTrip(t *testing.T) {
	p := newTestPersistence(t)

	state := populatedState()
	markAllDirty(state, access.WriteModeSync)
	p.Write(state)

	loaded := access.NewAccessState()
	require.NoError(t, p.Read(loaded))

	assert.True(t, loaded.SystemState.HasUserId(0))
	assert.True(t, loaded.SystemState.HasUserId(10))
	assert.Equal(t, []string{"com.example.app"}, loaded.SystemState.AppIdPackageNames(10001))

	pkg := loaded.SystemState.PackageStates["com.example.app"]
	require.NotNil(t, pkg)
	assert.Equal(t, int32(10001), pkg.AppId)
	assert.Equal(t, int64(42), pkg.Version)

	require.NotNil(t, loaded.UserState(0))
	assert.Equal(t, types.DecisionGranted, loaded.UserState(0).UidPermissions[10001]["android.permission.CAMERA"])
	assert.Equal(t, types.DecisionDenied, loaded.UserState(0).PackageAppOpModes["com.example.app"]["COARSE_LOCATION"])
	require.NotNil(t, loaded.UserState(10))
	assert.Equal(t, types.DecisionGranted, loaded.UserState(10).UidAppOpModes[10001]["FINE_LOCATION"])

	require.NoError(t, loaded.CheckInvariants())
}

func TestFilePersistence_ReadEmptyDir(t *testing.T) {
	p := newTestPersistence(t)

	state := access.NewAccessState()
	require.NoError(t, p.Read(state))

	assert.Empty(t, state.SystemState.UserIds)
	assert.Empty(t, state.UserStates)
	require.NoError(t, state.CheckInvariants())
}

func TestFilePersistence_ReadCreatesMissingUserPartitions(t *testing.T) {
	p := newTestPersistence(t)

	// System state references a user with no partition file on disk.
	data := []byte("userIds:\n  10: {}\n")
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), systemStateFile), data, 0o644))

	state := access.NewAccessState()
	require.NoError(t, p.Read(state))

	require.NotNil(t, state.UserState(10))
	require.NoError(t, state.CheckInvariants())
}

func TestFilePersistence_ReadRejectsInconsistentState(t *testing.T) {
	p := newTestPersistence(t)

	// A package registered without a matching app-id bucket entry.
	data := []byte("packageStates:\n  com.example.app:\n    packageName: com.example.app\n    appId: 10001\n")
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), systemStateFile), data, 0o644))

	err := p.Read(access.NewAccessState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invariant")
}

func TestFilePersistence_WriteModeDispatch(t *testing.T) {
	t.Run("none skips the write", func(t *testing.T) {
		p := newTestPersistence(t)
		state := populatedState()

		p.Write(state)
		p.Flush()

		_, err := os.Stat(filepath.Join(p.Dir(), systemStateFile))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("sync writes before returning", func(t *testing.T) {
		p := newTestPersistence(t)
		state := populatedState()
		state.SystemState.RequestWriteMode(access.WriteModeSync)

		p.Write(state)

		_, err := os.Stat(filepath.Join(p.Dir(), systemStateFile))
		assert.NoError(t, err)
	})

	t.Run("async writes after flush", func(t *testing.T) {
		p := newTestPersistence(t)
		state := populatedState()
		markAllDirty(state, access.WriteModeAsync)

		p.Write(state)
		p.Flush()

		for _, name := range []string{systemStateFile, userStateFile(0), userStateFile(10)} {
			_, err := os.Stat(filepath.Join(p.Dir(), name))
			assert.NoError(t, err, name)
		}
	})
}

func TestFilePersistence_WriteClearsPendingMode(t *testing.T) {
	p := newTestPersistence(t)
	state := populatedState()
	markAllDirty(state, access.WriteModeSync)

	p.Write(state)

	assert.Equal(t, access.WriteModeNone, state.SystemState.PendingWriteMode())
	for userId, userState := range state.UserStates {
		assert.Equal(t, access.WriteModeNone, userState.PendingWriteMode(), "user %d", userId)
	}
}

func TestFilePersistence_UnknownWriteModePanics(t *testing.T) {
	p := newTestPersistence(t)
	state := access.NewAccessState()
	state.SystemState.RequestWriteMode(access.WriteMode(7))

	assert.Panics(t, func() { p.Write(state) })
}

func TestFilePersistence_RemovesStaleUserFiles(t *testing.T) {
	p := newTestPersistence(t)

	state := populatedState()
	markAllDirty(state, access.WriteModeSync)
	p.Write(state)

	// User 10 disappears; the next write must drop its file.
	delete(state.SystemState.UserIds, 10)
	delete(state.UserStates, 10)
	state.SystemState.RequestWriteMode(access.WriteModeSync)
	p.Write(state)

	_, err := os.Stat(filepath.Join(p.Dir(), userStateFile(10)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(p.Dir(), userStateFile(0)))
	assert.NoError(t, err)
}

func TestAtomicWrite_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fragment.yaml")

	require.NoError(t, atomicWrite(path, []byte("userIds: {}\n")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fragment.yaml", entries[0].Name())
}
