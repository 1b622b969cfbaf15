package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestonehub/pkg/config"
)

func TestPing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	assert.NoError(t, Ping(context.Background(), rdb))

	mr.Close()
	assert.ErrorContains(t, Ping(context.Background(), rdb), "redis ping")
}
