package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"you-hoard/internal/model"
)

func TestProgressKey(t *testing.T) {
	assert.Equal(t, "you-hoard:progress:abc-123", ProgressKey("abc-123"))
}

func TestNewProgressSinkDefaultsTTL(t *testing.T) {
	s := NewProgressSink(nil, 0)
	assert.Equal(t, DefaultTTL, s.ttl)

	s = NewProgressSink(nil, time.Minute)
	assert.Equal(t, time.Minute, s.ttl)
}

func TestPublishSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	s := NewProgressSink(client, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Publish(ctx, model.DownloadProgress{JobID: "j1", Percent: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish progress j1")

	_, ok, err := s.Get(ctx, "j1")
	require.Error(t, err)
	assert.False(t, ok)
}
