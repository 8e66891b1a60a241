package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform/cache: ping")
}

func TestQueueOptSharesSettings(t *testing.T) {
	opt := Options{Addr: "redis:6379", Password: "secret", DB: 2}.QueueOpt()
	assert.Equal(t, "redis:6379", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
}
