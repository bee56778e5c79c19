package data

import (
	"context"
	"testing"
	"time"

	"SoakGate/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// newMiniredisConf builds a Data config pointing at a miniredis instance.
func newMiniredisConf(addr string) *conf.Data {
	return &conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         addr,
			ReadTimeout:  durationpb.New(200 * time.Millisecond),
			WriteTimeout: durationpb.New(200 * time.Millisecond),
		},
	}
}

// newTestData wires a *Data against a miniredis instance, no database.
func newTestData(t *testing.T) (*Data, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, cleanup, err := NewRedisClient(newMiniredisConf(mr.Addr()), log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(cleanup)

	d, dCleanup, err := NewData(&conf.Data{}, log.DefaultLogger, client, nil)
	require.NoError(t, err)
	t.Cleanup(dCleanup)

	return d, mr
}

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	client, cleanup, err := NewRedisClient(newMiniredisConf(mr.Addr()), log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer cleanup()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	// Invalid port: the constructor must return the client anyway so the
	// mirrors can keep degrading per operation.
	client, cleanup, err := NewRedisClient(newMiniredisConf("localhost:99999"), log.DefaultLogger)
	defer cleanup()

	assert.Error(t, err)
	assert.NotNil(t, client)
}

func TestNewRedisClient_NilConfig(t *testing.T) {
	client, cleanup, err := NewRedisClient(nil, log.DefaultLogger)
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_EmptyAddress(t *testing.T) {
	client, cleanup, err := NewRedisClient(newMiniredisConf(""), log.DefaultLogger)
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_PoolConfiguration(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	client, cleanup, err := NewRedisClient(newMiniredisConf(mr.Addr()), log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer cleanup()

	opts := client.Options()
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 2, opts.MinIdleConns)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)
	assert.Equal(t, 200*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 200*time.Millisecond, opts.WriteTimeout)
}

func TestNewData_NilClients(t *testing.T) {
	// Both mirrors absent: startup still succeeds, core runs in memory.
	d, cleanup, err := NewData(&conf.Data{}, log.DefaultLogger, nil, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, d.GetRedisClient())
}
