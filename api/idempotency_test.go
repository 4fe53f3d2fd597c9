package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduper(t *testing.T) (*RedisDeduper, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), client
}

func TestRedisDeduperAddOnce(t *testing.T) {
	deduper, _ := newDeduper(t)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "c1", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}

	again, err := deduper.Add(ctx, "c1", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if again {
		t.Fatal("expected duplicate add to report false")
	}

	other, err := deduper.Add(ctx, "c2", "k1")
	if err != nil {
		t.Fatalf("other counsellor add: %v", err)
	}
	if !other {
		t.Fatal("keys must be namespaced per counsellor")
	}
}

func TestRedisDeduperRemoveAllowsRetry(t *testing.T) {
	deduper, client := newDeduper(t)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "c1", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "c1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	added, err := deduper.Add(ctx, "c1", "k1")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatal("expected add after remove to succeed")
	}

	expectedKey := "c1:" + dedupeKeyPrefix + ":k1"
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
}
