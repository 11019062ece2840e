//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tracient/internal/sync/lock"
	"tracient/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	ctx   context.Context
}

func TestRedisLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisLockSuite) TestLeaseExcludesOtherReplicas() {
	replicaA := lock.NewRedis(s.redis.Client, time.Minute)
	replicaB := lock.NewRedis(s.redis.Client, time.Minute)

	ok, err := replicaA.TryAcquire(s.ctx, "pending")
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = replicaB.TryAcquire(s.ctx, "pending")
	s.Require().NoError(err)
	s.False(ok, "a second replica must not win the same sweep lease")

	ok, err = replicaB.TryAcquire(s.ctx, "retry")
	s.Require().NoError(err)
	s.True(ok, "sweep types lease independently")
}

func (s *RedisLockSuite) TestReleaseFreesTheLease() {
	l := lock.NewRedis(s.redis.Client, time.Minute)

	ok, err := l.TryAcquire(s.ctx, "pending")
	s.Require().NoError(err)
	s.Require().True(ok)

	l.Release(s.ctx, "pending")

	ok, err = l.TryAcquire(s.ctx, "pending")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisLockSuite) TestLeaseExpires() {
	l := lock.NewRedis(s.redis.Client, 100*time.Millisecond)

	ok, err := l.TryAcquire(s.ctx, "pending")
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Eventually(func() bool {
		ok, err := l.TryAcquire(s.ctx, "pending")
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond, "an abandoned lease must expire on its TTL")
}
