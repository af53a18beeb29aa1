//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})

	return client
}

func TestManager_Integration_RoundTrip(t *testing.T) {
	client := setupRedisContainer(t)
	manager := NewManager(client, 2*time.Second)
	ctx := context.Background()

	key, err := KeyForURL("https://kf.example.org/api/v2/project-views/pv1/assets/?start=100", "token")
	if err != nil {
		t.Fatalf("KeyForURL() error = %v", err)
	}

	body := []byte(`{"results": [{"uid": "a1", "settings": {"sector": "Health"}}], "next": null}`)
	if err := manager.Set(ctx, key, NewEntry(body, 200, manager.TTL())); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Data) != string(body) {
		t.Errorf("Data = %s, want %s", entry.Data, body)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Errorf("Redis TTL = %v, want (0, 2s]", ttl)
	}

	time.Sleep(3 * time.Second)

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
}
