package data

import (
	"context"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFreezeFlag_EngageReleaseRoundTrip(t *testing.T) {
	d, mr := newTestData(t)
	f := NewRedisFreezeFlag(d, log.DefaultLogger)
	ctx := context.Background()

	engaged, err := f.Engaged(ctx)
	require.NoError(t, err)
	assert.False(t, engaged)

	require.NoError(t, f.Engage(ctx, "green window achieved"))

	engaged, err = f.Engaged(ctx)
	require.NoError(t, err)
	assert.True(t, engaged)

	// The reason is the stored value, readable by sibling instances.
	val, err := mr.Get(freezeKey)
	require.NoError(t, err)
	assert.Equal(t, "green window achieved", val)

	// No TTL: a freeze holds until explicitly released.
	assert.Equal(t, int64(0), int64(mr.TTL(freezeKey)))

	require.NoError(t, f.Release(ctx))

	engaged, err = f.Engaged(ctx)
	require.NoError(t, err)
	assert.False(t, engaged)
}

func TestRedisFreezeFlag_NilClientNoops(t *testing.T) {
	d, cleanup, err := NewData(nil, log.DefaultLogger, nil, nil)
	require.NoError(t, err)
	defer cleanup()

	f := NewRedisFreezeFlag(d, log.DefaultLogger)
	ctx := context.Background()

	assert.NoError(t, f.Engage(ctx, "local only"))

	engaged, err := f.Engaged(ctx)
	assert.NoError(t, err)
	assert.False(t, engaged)

	assert.NoError(t, f.Release(ctx))
}

func TestRedisFreezeFlag_RedisDownSurfacesError(t *testing.T) {
	d, mr := newTestData(t)
	f := NewRedisFreezeFlag(d, log.DefaultLogger)
	ctx := context.Background()

	mr.Close()

	assert.Error(t, f.Engage(ctx, "unreachable"))

	_, err := f.Engaged(ctx)
	assert.Error(t, err)
}
