package operators

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) (*Presence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPresence(client, 30*time.Second, nil), mr
}

func TestHeartbeatAndAlive(t *testing.T) {
	p, _ := newTestPresence(t)
	id := uuid.New()
	ctx := context.Background()

	assert.False(t, p.Alive(ctx, id), "no heartbeat yet")

	require.NoError(t, p.Heartbeat(ctx, id))
	assert.True(t, p.Alive(ctx, id))
}

func TestAliveAfterTTLExpiry(t *testing.T) {
	p, mr := newTestPresence(t)
	id := uuid.New()
	ctx := context.Background()

	require.NoError(t, p.Heartbeat(ctx, id))
	mr.FastForward(31 * time.Second)

	assert.False(t, p.Alive(ctx, id))
}

func TestDrop(t *testing.T) {
	p, _ := newTestPresence(t)
	id := uuid.New()
	ctx := context.Background()

	require.NoError(t, p.Heartbeat(ctx, id))
	require.NoError(t, p.Drop(ctx, id))
	assert.False(t, p.Alive(ctx, id))
}

func TestNilClientAlwaysAlive(t *testing.T) {
	p := NewPresence(nil, 0, nil)
	assert.True(t, p.Alive(context.Background(), uuid.New()))
	assert.NoError(t, p.Heartbeat(context.Background(), uuid.New()))
}
