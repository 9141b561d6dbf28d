package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCache(t *testing.T) {
	var c WindowCache = NoopCache{}
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, gen, nil, 0))

	_, err = c.Get(ctx, gen)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Invalidate(ctx))
	assert.NoError(t, c.Close())
}

func TestRedisKeys(t *testing.T) {
	c := NewRedisWindowCache(nil, "chat:cache")
	assert.Equal(t, "chat:cache:gen", c.genKey())
	assert.Equal(t, "chat:cache:window:7", c.windowKey(7))
}
