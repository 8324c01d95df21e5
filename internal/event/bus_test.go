package event

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var rec recorder
	bus.Subscribe(ScanCompleted, rec.handle)
	bus.Publish(Event{Type: ScanCompleted, Data: map[string]any{"new_files": 42}})
	time.Sleep(50 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Data["new_files"] != 42 {
		t.Errorf("data[new_files] = %v, want 42", got[0].Data["new_files"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var typed, all recorder
	bus.Subscribe(RefreshList, typed.handle)
	bus.SubscribeAll(all.handle)

	bus.Publish(Event{Type: RefreshList})
	bus.Publish(Event{Type: ScanCompleted})
	time.Sleep(50 * time.Millisecond)

	if n := len(typed.snapshot()); n != 1 {
		t.Errorf("typed handler got %d events, want 1", n)
	}
	if n := len(all.snapshot()); n != 2 {
		t.Errorf("wildcard handler got %d events, want 2", n)
	}
}

func TestProgressEnvelope(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var rec recorder
	bus.Subscribe(ArtistProgress, rec.handle)
	bus.Progress("a1", "周杰伦", FetchingState("qqmusic"), 30, "listing", -1)
	bus.Progress("a1", "周杰伦", StateComplete, 100, "done", 12)
	time.Sleep(50 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Data["state"] != "fetching_qqmusic" {
		t.Errorf("state = %v, want fetching_qqmusic", got[0].Data["state"])
	}
	if _, ok := got[0].Data["songCount"]; ok {
		t.Error("songCount should be omitted for negative counts")
	}
	if got[1].Data["songCount"] != 12 {
		t.Errorf("songCount = %v, want 12", got[1].Data["songCount"])
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: ScanCompleted})
	bus.Progress("a", "b", StateScanning, 0, "", -1)
}

func TestBufferFull(t *testing.T) {
	bus := NewBus(testLogger(), 2)
	// Not started: events accumulate and the third is dropped.
	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanCompleted})
	if n := bus.Dropped(); n != 1 {
		t.Errorf("Dropped() = %d, want 1", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	var kept, removed recorder
	bus.Subscribe(ScanCompleted, kept.handle)
	unsubscribe := bus.Subscribe(ScanCompleted, removed.handle)
	unsubscribe()
	unsubscribe()

	bus.Publish(Event{Type: ScanCompleted})
	bus.Stop()
	bus.Start()

	if n := len(kept.snapshot()); n != 1 {
		t.Errorf("kept handler got %d events, want 1", n)
	}
	if n := len(removed.snapshot()); n != 0 {
		t.Errorf("removed handler got %d events, want 0", n)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Start()
	defer bus.Stop()

	var rec recorder
	bus.Subscribe(TrackHealed, func(_ Event) { panic("test panic") })
	bus.Subscribe(TrackHealed, rec.handle)

	bus.Publish(Event{Type: TrackHealed})
	time.Sleep(50 * time.Millisecond)

	if len(rec.snapshot()) != 1 {
		t.Error("second handler should still be called after first panics")
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	bus := NewBus(testLogger(), 16)

	var rec recorder
	bus.Subscribe(ScanCompleted, rec.handle)
	bus.Publish(Event{Type: ScanCompleted})
	bus.Publish(Event{Type: ScanCompleted})

	go bus.Start()
	time.Sleep(50 * time.Millisecond)
	bus.Stop()
	time.Sleep(50 * time.Millisecond)

	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("got %d events, want 2 (all drained)", n)
	}
}
