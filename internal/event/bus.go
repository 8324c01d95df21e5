// Package event is the in-process bus carrying progress and lifecycle
// events between services.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies a category of event. The values double as the "type"
// field of progress-channel envelopes.
type Type string

// Known event types.
const (
	ArtistProgress   Type = "artist_progress"
	RefreshList      Type = "refresh_list"
	DownloadProgress Type = "download_progress"
	ScanProgress     Type = "scan_progress"
	ScanCompleted    Type = "scan.completed"
	TrackHealed      Type = "track.healed"
)

// Refresh states carried by ArtistProgress events.
const (
	StateScanning = "scanning"
	StateMatching = "matching"
	StateRescue   = "rescue"
	StateHealing  = "healing"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// FetchingState is the state reported while listing tracks from source.
func FetchingState(source string) string {
	return "fetching_" + source
}

// Event represents something that happened in the system.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run on the bus goroutine and
// must not block.
type Handler func(Event)

type subscription struct {
	id     uint64
	typ    Type // empty for wildcard subscriptions
	handle Handler
}

// Bus fans events out to subscribers from a single dispatch goroutine.
// Publishing never blocks: a full buffer drops the event and counts it.
type Bus struct {
	queue   chan Event
	done    chan struct{}
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	closed bool
}

// NewBus creates a bus buffering up to bufSize undelivered events.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		queue:  make(chan Event, bufSize),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "event")),
	}
}

// Subscribe registers h for events of type t and returns a function that
// removes it.
func (b *Bus) Subscribe(t Type, h Handler) (unsubscribe func()) {
	return b.add(t, h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.add("", h)
}

func (b *Bus) add(t Type, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, typ: t, handle: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish queues e for delivery, stamping it when Timestamp is zero. A nil
// Bus discards the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- e:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event bus full, dropping event",
			slog.String("type", string(e.Type)),
			slog.Int64("dropped_total", n))
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Progress publishes an ArtistProgress event in the envelope shape the
// frontend expects. songCount < 0 omits the field.
func (b *Bus) Progress(artistID, artistName, state string, progress int, message string, songCount int) {
	data := map[string]any{
		"artistId":   artistID,
		"artistName": artistName,
		"state":      state,
		"progress":   progress,
		"message":    message,
	}
	if songCount >= 0 {
		data["songCount"] = songCount
	}
	b.Publish(Event{Type: ArtistProgress, Data: data})
}

// Start dispatches queued events until Stop is called, then delivers
// whatever is still buffered and returns. Run it on its own goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		default:
			return
		}
	}
}

// Stop ends Start after the buffer drains. Extra calls are no-ops.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	var targets []Handler
	for _, s := range b.subs {
		if s.typ == "" || s.typ == e.Type {
			targets = append(targets, s.handle)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("type", string(e.Type)),
				slog.Any("panic", r))
		}
	}()
	h(e)
}
