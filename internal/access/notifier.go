package access

import (
	"sync"
	"time"

	"github.com/access-engine/go-core/pkg/types"
)

// OnDecisionChangedListener observes effective decision changes on one
// SchemePolicy. Callbacks are delivered on the dispatcher goroutine,
// never on the goroutine that changed the decision.
type OnDecisionChangedListener interface {
	OnDecisionChanged(subject, object types.AccessUri, oldDecision, newDecision types.Decision)
}

// ListenerFunc wraps a function as an OnDecisionChangedListener. The
// returned listener compares by pointer identity, so the same value can
// later be passed to RemoveOnDecisionChangedListener.
func ListenerFunc(f func(subject, object types.AccessUri, oldDecision, newDecision types.Decision)) OnDecisionChangedListener {
	return &funcListener{f: f}
}

type funcListener struct {
	f func(subject, object types.AccessUri, oldDecision, newDecision types.Decision)
}

func (l *funcListener) OnDecisionChanged(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {
	l.f(subject, object, oldDecision, newDecision)
}

// DecisionChangedEvent is one decision change queued for delivery.
type DecisionChangedEvent struct {
	Timestamp   time.Time
	Subject     types.AccessUri
	Object      types.AccessUri
	OldDecision types.Decision
	NewDecision types.Decision

	// listeners is the registry snapshot taken under the policy's lock
	// at publish time.
	listeners []OnDecisionChangedListener
}

// Dispatcher delivers decision change events to listeners on a dedicated
// goroutine. Publishing never blocks the caller: the queue is buffered
// and a full queue drops the event rather than stalling the goroutine
// that mutated the decision.
type Dispatcher struct {
	eventQueue chan DecisionChangedEvent
	done       chan struct{}
	wg         sync.WaitGroup

	mu      sync.Mutex
	started bool
	dropped uint64
	onDrop  func()
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Dispatcher{
		eventQueue: make(chan DecisionChangedEvent, queueDepth),
		done:       make(chan struct{}),
	}
}

// Start begins delivering queued events.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.deliverEvents()
}

// Stop drains pending events and stops the delivery goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}

// Publish queues an event for delivery to the given listener snapshot.
func (d *Dispatcher) Publish(event DecisionChangedEvent, listeners []OnDecisionChangedListener) {
	if len(listeners) == 0 {
		return
	}
	event.listeners = listeners
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case d.eventQueue <- event:
	default:
		d.mu.Lock()
		d.dropped++
		onDrop := d.onDrop
		d.mu.Unlock()
		if onDrop != nil {
			onDrop()
		}
	}
}

// SetOnDrop registers a callback invoked once per event dropped due to
// a full queue, e.g. to feed a metrics counter.
func (d *Dispatcher) SetOnDrop(fn func()) {
	d.mu.Lock()
	d.onDrop = fn
	d.mu.Unlock()
}

// DroppedEvents returns the number of events dropped due to a full queue.
func (d *Dispatcher) DroppedEvents() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) deliverEvents() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-d.eventQueue:
					deliver(event)
				default:
					return
				}
			}
		case event := <-d.eventQueue:
			deliver(event)
		}
	}
}

func deliver(event DecisionChangedEvent) {
	for _, listener := range event.listeners {
		listener.OnDecisionChanged(event.Subject, event.Object, event.OldDecision, event.NewDecision)
	}
}
