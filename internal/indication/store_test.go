package indication

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxsearch/internal/fault"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestStore_UpsertAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, "class:ROSUVASTATIN_CALCIUM", []string{
		"High cholesterol", "Prevention of cardiovascular disease",
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "class:ROSUVASTATIN_CALCIUM")
	require.NoError(t, err)
	assert.Equal(t, "class:ROSUVASTATIN_CALCIUM", rec.Key)
	assert.Equal(t, []string{"High cholesterol", "Prevention of cardiovascular disease"}, rec.Indications)
}

func TestStore_UpsertReplacesWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "brand:CRESTOR", []string{"Old indication"}))
	require.NoError(t, store.Upsert(ctx, "brand:CRESTOR", []string{"High cholesterol"}))

	rec, err := store.Get(ctx, "brand:CRESTOR")
	require.NoError(t, err)
	assert.Equal(t, []string{"High cholesterol"}, rec.Indications, "second upsert must not merge with the first")
}

func TestStore_UpsertDeduplicatesPreservingOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, "class:TESTOSTERONE", []string{
		"Hypogonadism", "", "Delayed puberty", "Hypogonadism",
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "class:TESTOSTERONE")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hypogonadism", "Delayed puberty"}, rec.Indications)
}

func TestStore_UpsertRejectsEmptyKey(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Upsert(context.Background(), "  ", []string{"x"})
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestStore_GetMissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "class:NOPE")
	assert.True(t, fault.IsNotFound(err))
}

func TestStore_GetBatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "brand:CRESTOR", []string{"High cholesterol"}))
	require.NoError(t, store.Upsert(ctx, "class:LISINOPRIL", []string{"Hypertension", "Heart failure"}))

	got, err := store.GetBatch(ctx, []string{"brand:CRESTOR", "class:MISSING", "class:LISINOPRIL"})
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Equal(t, []string{"High cholesterol"}, got["brand:CRESTOR"])
	assert.Equal(t, []string{"Hypertension", "Heart failure"}, got["class:LISINOPRIL"])
	assert.NotContains(t, got, "class:MISSING")
}

func TestStore_GetBatchEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := store.GetBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_GetBatchSkipsCorruptEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "brand:CRESTOR", []string{"High cholesterol"}))
	mr.Set("indication:class:BROKEN", "{not json")

	got, err := store.GetBatch(ctx, []string{"brand:CRESTOR", "class:BROKEN"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "brand:CRESTOR")
}
