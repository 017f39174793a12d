package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgstore/orgstore/internal/config"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	rdb, err := ConnectRedis(context.Background(), &config.RedisConfig{Addr: mr.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	defer rdb.Close()
	assert.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
}

func TestConnectRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := ConnectRedis(context.Background(), &config.RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "failed to ping redis")
}
