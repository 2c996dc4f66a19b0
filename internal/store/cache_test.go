package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetDelete(t *testing.T) {
	c := NewCache(3, time.Millisecond, nil)
	c.set("k", 42, 0)
	v, ver, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.NotZero(t, ver)

	c.delete("k")
	_, _, ok = c.get("k")
	assert.False(t, ok)
}

func TestCacheTTLRefreshOnAccess(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache(3, time.Millisecond, func() time.Time { return now })
	c.set("k", "v", time.Minute)

	now = now.Add(50 * time.Second)
	_, _, ok := c.get("k")
	require.True(t, ok, "access before expiry refreshes the TTL")

	now = now.Add(50 * time.Second)
	_, _, ok = c.get("k")
	assert.True(t, ok, "still warm thanks to the refresh")

	now = now.Add(2 * time.Minute)
	_, _, ok = c.get("k")
	assert.False(t, ok, "expired entries read as absent")
}

func TestUpdateCommitsMultiKeyWrites(t *testing.T) {
	c := NewCache(3, time.Millisecond, nil)
	c.set("a", 1, 0)
	c.set("b", 2, 0)

	err := c.Update(context.Background(), func(tx *Tx) error {
		av, _ := tx.Get("a")
		bv, _ := tx.Get("b")
		tx.Set("a", av.(int)+10, 0)
		tx.Set("b", bv.(int)+10, 0)
		return nil
	})
	require.NoError(t, err)

	av, _, _ := c.get("a")
	bv, _, _ := c.get("b")
	assert.Equal(t, 11, av)
	assert.Equal(t, 12, bv)
}

func TestUpdateRetriesOnConflictThenSucceeds(t *testing.T) {
	c := NewCache(3, time.Millisecond, nil)
	c.set("k", 0, 0)

	attempts := 0
	err := c.Update(context.Background(), func(tx *Tx) error {
		attempts++
		v, _ := tx.Get("k")
		if attempts == 1 {
			// interleaved writer invalidates the read version
			c.set("k", 100, 0)
		}
		tx.Set("k", v.(int)+1, 0)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	v, _, _ := c.get("k")
	assert.Equal(t, 101, v)
}

func TestUpdateExhaustsRetries(t *testing.T) {
	c := NewCache(2, time.Millisecond, nil)
	c.set("k", 0, 0)

	attempts := 0
	err := c.Update(context.Background(), func(tx *Tx) error {
		attempts++
		tx.Get("k")
		c.set("k", attempts, 0) // every attempt conflicts
		tx.Set("k", -1, 0)
		return nil
	})
	assert.ErrorIs(t, err, ErrTxConflict)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestUpdateFnErrorAborts(t *testing.T) {
	c := NewCache(3, time.Millisecond, nil)
	boom := errors.New("boom")
	err := c.Update(context.Background(), func(tx *Tx) error {
		tx.Set("k", 1, 0)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, _, ok := c.get("k")
	assert.False(t, ok, "aborted writes never apply")
}

func TestTxReadsStagedWrites(t *testing.T) {
	c := NewCache(3, time.Millisecond, nil)
	err := c.Update(context.Background(), func(tx *Tx) error {
		tx.Set("k", 5, 0)
		v, ok := tx.Get("k")
		require.True(t, ok)
		assert.Equal(t, 5, v)

		tx.Delete("k")
		_, ok = tx.Get("k")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestAbsentKeyConflictsWhenCreated(t *testing.T) {
	c := NewCache(0, time.Millisecond, nil) // 0 → default 3 retries
	attempts := 0
	err := c.Update(context.Background(), func(tx *Tx) error {
		attempts++
		_, ok := tx.Get("new")
		if attempts == 1 {
			require.False(t, ok)
			c.set("new", "other", 0)
		}
		tx.Set("new", "mine", 0)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "creation under the tx's feet forces a retry")
	v, _, _ := c.get("new")
	assert.Equal(t, "mine", v)
}
