package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestEntityLockerMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewEntityLocker(rdb, time.Second)

	release, err := locker.Acquire(context.Background(), ReceiptLockKey(7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, ReceiptLockKey(7))
	require.Error(t, err)

	release()
	release2, err := locker.Acquire(context.Background(), ReceiptLockKey(7))
	require.NoError(t, err)
	release2()
}

func TestEntityLockerDisabledWithoutRedis(t *testing.T) {
	locker := NewEntityLocker(nil, time.Second)
	release, err := locker.Acquire(context.Background(), ConsignmentLockKey(1))
	require.NoError(t, err)
	release()
}
