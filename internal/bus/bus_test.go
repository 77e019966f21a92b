package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncPage, Timestamp: time.Now(), Payload: PageProgress{Fetched: 3}})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncPage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSyncPage)
		}
		if p, ok := evt.Payload.(PageProgress); !ok || p.Fetched != 3 {
			t.Errorf("payload = %#v, want PageProgress{Fetched: 3}", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("build.", 1)
	defer unsub()

	b.Emit(KindBuildDone, BuildSummary{Pages: 2})

	select {
	case evt := <-ch:
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEmitNilBus(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Emit(KindSyncDone, SyncSummary{})
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindBuildPage})
	b.Publish(Event{Kind: KindSyncRateLimited})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncRateLimited {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSyncRateLimited)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure build event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()

	b.Publish(Event{Kind: KindSyncDone})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("media.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindMediaDownloaded})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindMediaSkipped})

	evt := <-ch
	if evt.Kind != KindMediaDownloaded {
		t.Errorf("got %q, want %q", evt.Kind, KindMediaDownloaded)
	}
}
