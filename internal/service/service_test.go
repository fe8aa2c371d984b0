package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/agrichain/internal/domain"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSessionStoreLifecycle(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	user := domain.SessionUser{Username: "alice", Name: "Alice", Role: domain.RoleFarmer}
	id, err := store.Create(ctx, user)
	require.NoError(t, err)
	assert.True(t, mr.Exists("session:"+id))
	assert.Equal(t, time.Hour, mr.TTL("session:"+id))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSessionStoreFixedExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, domain.SessionUser{Username: "alice"})
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	_, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL("session:"+id), "reads do not extend the session")

	mr.FastForward(31 * time.Minute)
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSignalRealtimeFilter(t *testing.T) {
	_, rdb := newRedis(t)
	signal := NewSignalService(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []string)
	output := make(chan domain.ProductEvent, 4)
	done := make(chan struct{})
	go func() {
		signal.Realtime(ctx, input, output)
		close(done)
	}()

	input <- []string{"PROD-2"}

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, productChannel).Result()
		return err == nil && n[productChannel] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, signal.Publish(ctx, domain.ProductEvent{Type: domain.EventProductVerified, ProductID: "PROD-1"}))
	require.NoError(t, signal.Publish(ctx, domain.ProductEvent{Type: domain.EventStepRecorded, ProductID: "PROD-2"}))

	select {
	case event := <-output:
		assert.Equal(t, "PROD-2", event.ProductID)
		assert.Equal(t, domain.EventStepRecorded, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("realtime did not stop on cancel")
	}
}

func TestQRImageWithoutCache(t *testing.T) {
	svc := NewQRImageService(nil)

	png, err := svc.PNG(context.Background(), "0xDEAD|PROD-ABC123", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestClampQRSize(t *testing.T) {
	assert.Equal(t, DefaultQRSize, ClampQRSize(0))
	assert.Equal(t, 64, ClampQRSize(10))
	assert.Equal(t, 1024, ClampQRSize(5000))
	assert.Equal(t, 300, ClampQRSize(300))
}

func TestCacheKeyDependsOnSize(t *testing.T) {
	assert.NotEqual(t, cacheKey("a|b", 256), cacheKey("a|b", 512))
	assert.Equal(t, cacheKey("a|b", 256), cacheKey("a|b", 256))
}
