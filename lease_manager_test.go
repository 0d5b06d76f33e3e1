package mergegate

import (
	"context"
	"testing"
	"time"

	"go-mergegate/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseManager(t *testing.T) {
	var (
		newManager = func(t *testing.T, opts ...LeaseOption) *LeaseManager {
			var store = database.SetupTestStore(t)
			manager, err := NewLeaseManager(store, opts...)
			require.NoError(t, err)
			return manager
		}
		newCtx = func() context.Context {
			return context.Background()
		}
		// Contention tests use a short acquire timeout so they fail fast.
		fastFail = []LeaseOption{
			WithAcquireTimeout(300 * time.Millisecond),
			WithRetryInterval(100 * time.Millisecond),
		}
	)

	t.Run("should acquire leases for all requested shards", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		// Act
		var leases, err = sut.Acquire(ctx, []string{"alpha", "beta"}, "job-1")

		// Assert
		require.NoError(t, err)
		require.Len(t, leases, 2)
		assert.Equal(t, "job-1", leases["alpha"].Holder)
		assert.Equal(t, "job-1", leases["beta"].Holder)
		assert.True(t, leases["alpha"].ExpiresAt.After(time.Now()))
	})

	t.Run("should de-duplicate and trim requested shards", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		// Act
		var leases, err = sut.Acquire(ctx, []string{" alpha ", "alpha", "", "beta"}, "job-1")

		// Assert
		require.NoError(t, err)
		assert.Len(t, leases, 2)
		assert.Contains(t, leases, "alpha")
		assert.Contains(t, leases, "beta")
	})

	t.Run("should return empty map for empty shard list", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		// Act
		var leases, err = sut.Acquire(ctx, nil, "job-1")

		// Assert
		require.NoError(t, err)
		assert.Empty(t, leases)
	})

	t.Run("should preserve acquired_at on re-acquire by same holder", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		first, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		// Act
		var second, reacquireErr = sut.Acquire(ctx, []string{"alpha"}, "job-1")

		// Assert - acquired_at preserved, expiry refreshed
		require.NoError(t, reacquireErr)
		assert.Equal(t, first["alpha"].AcquiredAt.UnixNano(), second["alpha"].AcquiredAt.UnixNano())
		assert.True(t, second["alpha"].ExpiresAt.After(first["alpha"].ExpiresAt))
	})

	t.Run("should fail acquire while shard held by another holder", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t, fastFail...)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		// Act
		var _, contendedErr = sut.Acquire(ctx, []string{"alpha"}, "job-2")

		// Assert
		require.Error(t, contendedErr)
		assert.ErrorIs(t, contendedErr, ErrLeaseTimeout)
	})

	t.Run("should be all-or-nothing when one shard is contended", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t, fastFail...)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"beta"}, "job-1")
		require.NoError(t, err)

		// Act - alpha is free but beta is held
		_, err = sut.Acquire(ctx, []string{"alpha", "beta"}, "job-2")
		require.ErrorIs(t, err, ErrLeaseTimeout)

		var active, activeErr = sut.Active(ctx)

		// Assert - job-2 owns nothing, not even the free shard
		require.NoError(t, activeErr)
		require.Len(t, active, 1)
		assert.Equal(t, "beta", active[0].Shard)
		assert.Equal(t, "job-1", active[0].Holder)
	})

	t.Run("should succeed after the competing lease is released", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t, fastFail...)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		_, err = sut.Acquire(ctx, []string{"alpha"}, "job-2")
		require.ErrorIs(t, err, ErrLeaseTimeout)

		// Act
		err = sut.Release(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		var leases, acquireErr = sut.Acquire(ctx, []string{"alpha"}, "job-2")

		// Assert
		require.NoError(t, acquireErr)
		assert.Equal(t, "job-2", leases["alpha"].Holder)
	})

	t.Run("should renew held leases and extend expiry", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		acquired, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		// Act
		var renewed, renewErr = sut.Renew(ctx, []string{"alpha"}, "job-1")

		// Assert
		require.NoError(t, renewErr)
		assert.True(t, renewed["alpha"].ExpiresAt.After(acquired["alpha"].ExpiresAt))
		assert.Equal(t, acquired["alpha"].AcquiredAt.UnixNano(), renewed["alpha"].AcquiredAt.UnixNano())
	})

	t.Run("should fail renew atomically when any shard is not held", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		acquired, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		// Act - beta was never acquired
		_, renewErr := sut.Renew(ctx, []string{"alpha", "beta"}, "job-1")

		var active, activeErr = sut.Active(ctx)

		// Assert - whole call failed, alpha's expiry untouched
		require.ErrorIs(t, renewErr, ErrLeaseNotHeld)
		require.NoError(t, activeErr)
		require.Len(t, active, 1)
		assert.Equal(t, acquired["alpha"].ExpiresAt.UnixNano(), active[0].ExpiresAt.UnixNano())
	})

	t.Run("should fail renew for a different holder", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		// Act
		_, renewErr := sut.Renew(ctx, []string{"alpha"}, "job-2")

		// Assert
		assert.ErrorIs(t, renewErr, ErrLeaseNotHeld)
	})

	t.Run("should treat release of a free shard as a no-op", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		// Act
		var err = sut.Release(ctx, []string{"alpha"}, "job-1")

		// Assert
		assert.NoError(t, err)
	})

	t.Run("should fail release of a shard held by a different holder", func(t *testing.T) {
		// Arrange
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "job-1")
		require.NoError(t, err)

		// Act
		var releaseErr = sut.Release(ctx, []string{"alpha"}, "job-2")

		var active, activeErr = sut.Active(ctx)

		// Assert - fails closed, lease untouched
		require.ErrorIs(t, releaseErr, ErrLeaseNotHeld)
		require.NoError(t, activeErr)
		require.Len(t, active, 1)
		assert.Equal(t, "job-1", active[0].Holder)
	})

	t.Run("should purge expired lease and let a competing holder acquire", func(t *testing.T) {
		// Arrange - 1s TTL, no renewal
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "holder-a", WithTTL(1*time.Second))
		require.NoError(t, err)

		time.Sleep(1200 * time.Millisecond)

		// Act
		var active, activeErr = sut.Active(ctx)
		require.NoError(t, activeErr)

		var started = time.Now()
		var leases, acquireErr = sut.Acquire(ctx, []string{"alpha"}, "holder-b")

		// Assert - expired lease is gone and holder-b wins immediately
		assert.Empty(t, active)
		require.NoError(t, acquireErr)
		assert.Equal(t, "holder-b", leases["alpha"].Holder)
		assert.Less(t, time.Since(started), 500*time.Millisecond)
	})

	t.Run("should let a blocked acquire win once the TTL lapses", func(t *testing.T) {
		// Arrange - holder-a holds with a short TTL and never renews
		var (
			sut = newManager(t)
			ctx = newCtx()
		)

		_, err := sut.Acquire(ctx, []string{"alpha"}, "holder-a", WithTTL(400*time.Millisecond))
		require.NoError(t, err)

		// Act - holder-b retries past the expiry
		var leases, acquireErr = sut.Acquire(ctx, []string{"alpha"}, "holder-b",
			WithAcquireTimeout(3*time.Second),
			WithRetryInterval(100*time.Millisecond))

		// Assert
		require.NoError(t, acquireErr)
		assert.Equal(t, "holder-b", leases["alpha"].Holder)
	})

	t.Run("should stop retrying when the context is cancelled", func(t *testing.T) {
		// Arrange
		var sut = newManager(t)

		_, err := sut.Acquire(context.Background(), []string{"alpha"}, "job-1")
		require.NoError(t, err)

		var ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()

		// Act
		_, acquireErr := sut.Acquire(ctx, []string{"alpha"}, "job-2",
			WithAcquireTimeout(10*time.Second),
			WithRetryInterval(100*time.Millisecond))

		// Assert
		assert.ErrorIs(t, acquireErr, context.DeadlineExceeded)
	})
}
