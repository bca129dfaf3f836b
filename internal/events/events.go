// Package events defines the engine's outward-facing event stream. The
// surrounding application subscribes to a Bus instead of polling engine
// internals; publishing never blocks, so a slow consumer can only lose its
// own events, never stall a sync cycle or a probe round.
package events

import "sync"

// Event is implemented by every engine event.
type Event interface {
	eventName() string
}

// ConnectivityChanged is emitted on every connectivity state transition.
type ConnectivityChanged struct {
	State      string
	Confidence int
}

// SyncStarted is emitted when a sync cycle begins.
type SyncStarted struct{}

// SyncProgress is emitted as a sync cycle advances through its phases.
type SyncProgress struct {
	Phase          string
	CompletedCount int
	TotalCount     int
}

// SyncCompleted is emitted when a sync cycle finishes.
type SyncCompleted struct {
	SuccessCount int
	FailureCount int
}

// OfflineAuthResult is emitted after every offline validation attempt.
// Outcome is one of "ok", "expired", "rate-limited" or "rejected".
type OfflineAuthResult struct {
	Identity string
	Outcome  string
}

func (ConnectivityChanged) eventName() string { return "connectivity-changed" }
func (SyncStarted) eventName() string         { return "sync-started" }
func (SyncProgress) eventName() string        { return "sync-progress" }
func (SyncCompleted) eventName() string       { return "sync-completed" }
func (OfflineAuthResult) eventName() string   { return "offline-auth-result" }

// subscriberBuffer bounds each subscriber channel. When a subscriber falls
// this far behind, its oldest event is dropped to make room.
const subscriberBuffer = 64

// Bus is a small fan-out of engine events.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed by Close.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers e to every subscriber without blocking. If a
// subscriber's buffer is full, its oldest event is discarded.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// full: drop the oldest and retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
