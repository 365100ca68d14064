package access

import (
	"sync"
	"testing"
	"time"

	"github.com/access-engine/go-core/pkg/types"
)

// recordingListener collects delivered events and signals each delivery
// on a channel so tests can wait without sleeping.
type recordingListener struct {
	mu     sync.Mutex
	events []DecisionChangedEvent
	ch     chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ch: make(chan struct{}, 64)}
}

func (l *recordingListener) OnDecisionChanged(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {
	l.mu.Lock()
	l.events = append(l.events, DecisionChangedEvent{
		Subject:     subject,
		Object:      object,
		OldDecision: oldDecision,
		NewDecision: newDecision,
	})
	l.mu.Unlock()
	l.ch <- struct{}{}
}

func (l *recordingListener) wait(t *testing.T, n int) []DecisionChangedEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-l.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DecisionChangedEvent(nil), l.events...)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestDispatcher_DeliversToListeners(t *testing.T) {
	d := NewDispatcher(16)
	d.Start()
	defer d.Stop()

	listener := newRecordingListener()
	subject := types.UidUri{Uid: 10001}
	object := types.PermissionUri{PermissionName: "android.permission.CAMERA"}

	d.Publish(DecisionChangedEvent{
		Subject:     subject,
		Object:      object,
		OldDecision: types.DecisionDefault,
		NewDecision: types.DecisionGranted,
	}, []OnDecisionChangedListener{listener})

	events := listener.wait(t, 1)
	if events[0].Subject != subject || events[0].Object != object {
		t.Errorf("unexpected event URIs: %+v", events[0])
	}
	if events[0].OldDecision != types.DecisionDefault || events[0].NewDecision != types.DecisionGranted {
		t.Errorf("unexpected event decisions: %+v", events[0])
	}
}

func TestDispatcher_PublishWithoutListenersIsNoop(t *testing.T) {
	d := NewDispatcher(1)
	d.Start()
	defer d.Stop()

	// Must not occupy queue space or block.
	for i := 0; i < 100; i++ {
		d.Publish(DecisionChangedEvent{}, nil)
	}
	if d.DroppedEvents() != 0 {
		t.Errorf("listener-less publishes counted as drops: %d", d.DroppedEvents())
	}
}

func TestDispatcher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	d := NewDispatcher(1)
	// Not started: nothing drains the queue.

	listener := newRecordingListener()
	for i := 0; i < 5; i++ {
		d.Publish(DecisionChangedEvent{}, []OnDecisionChangedListener{listener})
	}

	if got := d.DroppedEvents(); got != 4 {
		t.Errorf("expected 4 dropped events, got %d", got)
	}
}

func TestDispatcher_DeliversOffPublishingGoroutine(t *testing.T) {
	d := NewDispatcher(4)
	d.Start()
	defer d.Stop()

	publishReturned := make(chan struct{})
	delivered := make(chan struct{})
	listener := ListenerFunc(func(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {
		// Blocks until Publish has returned on the test goroutine. If
		// delivery ran on the publishing goroutine this would deadlock.
		<-publishReturned
		close(delivered)
	})

	d.Publish(DecisionChangedEvent{}, []OnDecisionChangedListener{listener})
	close(publishReturned)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered off the publishing goroutine")
	}
}

func TestDispatcher_OnDropCallback(t *testing.T) {
	d := NewDispatcher(1)
	// Not started: nothing drains the queue.

	var dropCalls int
	d.SetOnDrop(func() { dropCalls++ })

	listener := newRecordingListener()
	for i := 0; i < 5; i++ {
		d.Publish(DecisionChangedEvent{}, []OnDecisionChangedListener{listener})
	}

	if dropCalls != 4 {
		t.Errorf("expected 4 drop callbacks, got %d", dropCalls)
	}
	if got := d.DroppedEvents(); got != uint64(dropCalls) {
		t.Errorf("drop counter %d disagrees with callbacks %d", got, dropCalls)
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	d := NewDispatcher(16)
	listener := newRecordingListener()
	for i := 0; i < 5; i++ {
		d.Publish(DecisionChangedEvent{}, []OnDecisionChangedListener{listener})
	}

	d.Start()
	d.Stop()

	if got := listener.count(); got != 5 {
		t.Errorf("expected 5 events delivered after drain, got %d", got)
	}
}

func TestDispatcher_StartStopIdempotent(t *testing.T) {
	d := NewDispatcher(4)
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
}

func TestListenerFunc_Removable(t *testing.T) {
	base := NewSchemePolicyBase(nil)

	listener := ListenerFunc(func(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {})
	base.AddOnDecisionChangedListener(listener)
	if base.ListenerCount() != 1 {
		t.Fatalf("expected 1 listener, got %d", base.ListenerCount())
	}

	base.RemoveOnDecisionChangedListener(listener)
	if base.ListenerCount() != 0 {
		t.Errorf("expected 0 listeners after remove, got %d", base.ListenerCount())
	}
}
