package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

func openTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	addr := os.Getenv("PUBSUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("PUBSUB_TEST_REDIS_ADDR not set; skipping Redis tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pub, err := NewPublisher(ctx, addr, "", 0)
	if err != nil {
		t.Skipf("Redis not reachable: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	return pub
}

func TestPublisher_RoundTrip(t *testing.T) {
	pub := openTestPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := pub.Subscribe(ctx)
	defer sub.Close()

	// Subscription setup races the first publish; give Redis a moment.
	time.Sleep(100 * time.Millisecond)

	it := queue.NewItem("https://example.com/video")
	it.Status = queue.StatusDownloading
	it.Progress = 0.5
	if err := pub.Publish(ctx, it); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.ID != it.ID {
		t.Errorf("ID = %q, want %q", got.ID, it.ID)
	}
	if got.Status != queue.StatusDownloading || got.Progress != 0.5 {
		t.Errorf("snapshot mismatch: %+v", got)
	}
}

func TestPublisher_ListenerFeedsStore(t *testing.T) {
	pub := openTestPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := pub.Subscribe(ctx)
	defer sub.Close()
	time.Sleep(100 * time.Millisecond)

	store := queue.NewStore(0, 0)
	store.AddListener(pub.Listener())

	it := queue.NewItem("https://example.com/tracked")
	if err := store.AddItem(it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.ID != it.ID || got.Status != queue.StatusQueued {
		t.Errorf("unexpected event: %+v", got)
	}
}
