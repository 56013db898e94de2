package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Delete(ctx, "a", "b", "missing"))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	type payload struct {
		Count int    `json:"count"`
		Name  string `json:"name"`
	}

	require.NoError(t, SetJSON(ctx, c, "p", payload{Count: 3, Name: "x"}, time.Hour))

	var out payload
	require.NoError(t, GetJSON(ctx, c, "p", &out))
	assert.Equal(t, payload{Count: 3, Name: "x"}, out)

	assert.ErrorIs(t, GetJSON(ctx, c, "missing", &out), ErrNotFound)
}
