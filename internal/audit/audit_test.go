package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/access-engine/go-core/pkg/types"
)

func TestNewEvent(t *testing.T) {
	subject := types.UidUri{Uid: 1010001}
	object := types.PermissionUri{PermissionName: "android.permission.CAMERA"}

	event := NewEvent(subject, object, types.DecisionGranted, types.DecisionDenied)

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "uid:1010001", event.Subject)
	assert.Equal(t, "permission:android.permission.CAMERA", event.Object)
	assert.Equal(t, types.DecisionGranted, event.OldDecision)
	assert.Equal(t, types.DecisionDenied, event.NewDecision)

	// Each event gets its own ID.
	other := NewEvent(subject, object, types.DecisionDenied, types.DecisionGranted)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestFileWriter_JSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "decisions.log")
	w, err := NewFileWriter(path, 10, 1, 1)
	require.NoError(t, err)

	events := []Event{
		NewEvent(types.UidUri{Uid: 10001}, types.PermissionUri{PermissionName: "p"}, types.DecisionDefault, types.DecisionGranted),
		NewEvent(types.PackageUri{PackageName: "com.example.app", UserId: 0}, types.AppOpUri{OpName: "CAMERA"}, types.DecisionGranted, types.DecisionDenied),
	}
	for _, event := range events {
		require.NoError(t, w.Write(event))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var decoded []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		decoded = append(decoded, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, decoded, 2)
	assert.Equal(t, events[0].ID, decoded[0].ID)
	assert.Equal(t, "package:com.example.app/0", decoded[1].Subject)
	assert.Equal(t, types.DecisionDenied, decoded[1].NewDecision)
}

// collectWriter is a Writer capturing events in memory.
type collectWriter struct {
	events []Event
	err    error
	closed bool
}

func (w *collectWriter) Write(event Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func (w *collectWriter) Close() error {
	w.closed = true
	return nil
}

func TestTrail_FansOutToAllWriters(t *testing.T) {
	first := &collectWriter{}
	second := &collectWriter{}
	trail := NewTrail(zap.NewNop(), first, second)

	trail.OnDecisionChanged(
		types.UidUri{Uid: 10001},
		types.AppOpUri{OpName: "COARSE_LOCATION"},
		types.DecisionDefault,
		types.DecisionDenied,
	)

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, first.events[0].ID, second.events[0].ID)
	assert.Equal(t, "app-op:COARSE_LOCATION", first.events[0].Object)
}

func TestTrail_WriterErrorDoesNotStopOthers(t *testing.T) {
	failing := &collectWriter{err: errors.New("disk full")}
	healthy := &collectWriter{}
	trail := NewTrail(zap.NewNop(), failing, healthy)

	trail.OnDecisionChanged(
		types.UidUri{Uid: 10001},
		types.PermissionUri{PermissionName: "p"},
		types.DecisionDefault,
		types.DecisionGranted,
	)

	assert.Len(t, healthy.events, 1)
}

func TestTrail_CloseClosesAllWriters(t *testing.T) {
	first := &collectWriter{}
	second := &collectWriter{}
	trail := NewTrail(zap.NewNop(), first, second)

	require.NoError(t, trail.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}
