package events

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"torrentd/internal/domain"
)

func testEvent(msg string) domain.Event {
	return domain.Event{Kind: domain.EventStateChanged, Message: msg}
}

func nextOrFatal(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return env
}

func TestPublishAssignsSequentialIDs(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	if got := bus.LastEventID(); got != 0 {
		t.Fatalf("LastEventID before publish = %d, want 0", got)
	}
	for i := 1; i <= 3; i++ {
		env := bus.Publish(testEvent("e"))
		if env.ID != uint64(i) {
			t.Fatalf("publish %d assigned id %d", i, env.ID)
		}
	}
	if got := bus.LastEventID(); got != 3 {
		t.Fatalf("LastEventID = %d, want 3", got)
	}
}

func TestSubscribeFromReplaysThenFollowsLive(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish(testEvent("a"))
	bus.Publish(testEvent("b"))
	bus.Publish(testEvent("c"))

	sub := bus.SubscribeFrom(1)
	defer sub.Cancel()

	bus.Publish(testEvent("d"))

	var ids []uint64
	for i := 0; i < 3; i++ {
		ids = append(ids, nextOrFatal(t, sub).ID)
	}
	for i, want := range []uint64{2, 3, 4} {
		if ids[i] != want {
			t.Fatalf("ids = %v, want [2 3 4]", ids)
		}
	}
}

func TestSubscribeFromZeroReplaysWholeBuffer(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(testEvent("e"))
	}
	sub := bus.SubscribeFrom(0)
	defer sub.Cancel()

	for want := uint64(1); want <= 5; want++ {
		if env := nextOrFatal(t, sub); env.ID != want {
			t.Fatalf("replayed id = %d, want %d", env.ID, want)
		}
	}
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	bus := NewBusWithCapacity(2)
	defer bus.Close()

	bus.Publish(testEvent("a"))
	bus.Publish(testEvent("b"))
	bus.Publish(testEvent("c"))

	backlog := bus.BacklogSince(0)
	if len(backlog) != 2 {
		t.Fatalf("backlog length = %d, want 2", len(backlog))
	}
	if backlog[0].ID != 2 || backlog[1].ID != 3 {
		t.Fatalf("backlog ids = [%d %d], want [2 3]", backlog[0].ID, backlog[1].ID)
	}
}

func TestBacklogSinceFiltersByID(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	for i := 0; i < 4; i++ {
		bus.Publish(testEvent("e"))
	}
	backlog := bus.BacklogSince(2)
	if len(backlog) != 2 || backlog[0].ID != 3 || backlog[1].ID != 4 {
		t.Fatalf("BacklogSince(2) = %v", backlog)
	}
}

func TestLiveSubscriberSeesOnlyNewEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish(testEvent("old"))
	sub := bus.Subscribe()
	defer sub.Cancel()

	bus.Publish(testEvent("new"))
	env := nextOrFatal(t, sub)
	if env.ID != 2 || env.Event.Message != "new" {
		t.Fatalf("live envelope = %+v, want id 2 message new", env)
	}
}

func TestSlowSubscriberLagsWithoutStallingPublisher(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Cancel()

	const total = subscriberBuffer * 4
	published := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			bus.Publish(testEvent("burst"))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stalled on slow subscriber")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	var lag *LaggedError
	if !errors.As(err, &lag) {
		t.Fatalf("Next = %v, want LaggedError", err)
	}
	if lag.Missed == 0 {
		t.Fatal("lag should report a positive missed count")
	}

	// Subscription stays usable: newer envelopes still come through.
	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next after lag: %v", err)
	}
	if env.ID == 0 {
		t.Fatal("expected a delivered envelope after lag notification")
	}
	if stats := bus.Stats(); stats.Dropped == 0 {
		t.Error("bus stats should count dropped envelopes")
	}
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Publish(testEvent("last"))
	bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Queued envelope drains first, then the closed signal surfaces.
	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next should drain queued envelope, got %v", err)
	}
	if env.Event.Message != "last" {
		t.Fatalf("drained envelope = %+v", env)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Next after close = %v, want ErrBusClosed", err)
	}
}

func TestNextHonorsContextCancellation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want DeadlineExceeded", err)
	}
}

func TestIDCounterSaturatesInsteadOfWrapping(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.mu.Lock()
	bus.lastID = math.MaxUint64 - 1
	bus.mu.Unlock()

	if env := bus.Publish(testEvent("edge")); env.ID != math.MaxUint64 {
		t.Fatalf("id = %d, want MaxUint64", env.ID)
	}
	if env := bus.Publish(testEvent("saturated")); env.ID != math.MaxUint64 {
		t.Fatalf("saturated id = %d, want MaxUint64", env.ID)
	}
}

func TestStatsTracksSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	if got := bus.Stats().Subscribers; got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}
	a.Cancel()
	if got := bus.Stats().Subscribers; got != 1 {
		t.Fatalf("subscribers after cancel = %d, want 1", got)
	}
	b.Cancel()
}
