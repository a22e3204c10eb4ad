package contextstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store := New("redis://"+mr.Addr(), "hub", zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	store := newTestStore(t)
	data, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, store.Delete(ctx, "k"))
	data, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetJSONCorruptPayloadIsAMiss(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bad", []byte("{not json"), time.Minute))
	decoded, err := store.GetJSON(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestTenantAndSessionContextRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blob := map[string]interface{}{"id": "acme", "environment": "prod"}
	require.NoError(t, store.SetTenantContext(ctx, "acme", blob, time.Minute))
	got, err := store.GetTenantContext(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "prod", got["environment"])

	state := map[string]interface{}{"turn": float64(3)}
	require.NoError(t, store.SetSessionContext(ctx, "acme", "s1", state, time.Minute))
	got, err = store.GetSessionContext(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), got["turn"])

	require.NoError(t, store.DeleteSessionContext(ctx, "acme", "s1"))
	got, err = store.GetSessionContext(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeyShapes(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, "acme:hub:context", store.TenantKey("acme"))
	assert.Equal(t, "acme:hub:session:s1", store.SessionKey("acme", "s1"))
	assert.Equal(t, "acme:hub:events", store.StreamKey("acme:hub:events"))
	assert.Equal(t, "hub:events", store.StreamKey("events"))
}

func TestStreamAppendAndReverseRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AppendStream(ctx, "acme:hub:events", map[string]interface{}{"n": 1}, 0)
	require.NoError(t, err)
	second, err := store.AppendStream(ctx, "acme:hub:events", map[string]interface{}{"n": 2}, 0)
	require.NoError(t, err)

	entries, err := store.ReadStreamReverse(ctx, "acme:hub:events", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].ID)
	assert.Equal(t, first, entries[1].ID)

	// Bounded read at-or-before the first entry id.
	entries, err = store.ReadStreamReverse(ctx, "acme:hub:events", first, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first, entries[0].ID)
	assert.Contains(t, entries[0].Fields, "data")
}
