package vectorstore

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rxsearch/internal/fault"
	"rxsearch/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestStore backs a Store with miniredis. FT.* commands are not available
// there, so these tests cover the document operations; the query strings the
// search commands are built from are covered in query_test.go.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, IndexSpec{Name: "idx:drugs", Prefix: "drug:", Dim: types.EmbeddingDim}, nil)
}

func storableDoc(ndc string) types.DrugDocument {
	emb := make([]float32, types.EmbeddingDim)
	emb[0] = 1
	return types.DrugDocument{
		NDC: ndc, DrugName: "ATORVASTATIN CALCIUM 10 MG TAB",
		GenericName: "ATORVASTATIN CALCIUM", GCNSeqno: 49225,
		DrugClass: "STATINS", DosageForm: "TABLET",
		StrengthValue: 10, StrengthUnit: "MG", Manufacturer: "TEVA",
		IsGeneric: true, Embedding: emb,
		IndexedAt: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC),
	}
}

func TestStore_UpsertGetRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	want := storableDoc("00093505698")
	require.NoError(t, st.Upsert(ctx, want))

	got, err := st.Get(ctx, "00093505698")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("document changed across upsert/get (-want +got):\n%s", diff)
	}
}

func TestStore_UpsertOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := storableDoc("00093505698")
	require.NoError(t, st.Upsert(ctx, doc))

	doc.StrengthValue = 20
	require.NoError(t, st.Upsert(ctx, doc))

	got, err := st.Get(ctx, "00093505698")
	require.NoError(t, err)
	assert.Equal(t, float64(20), got.StrengthValue)
}

func TestStore_GetMissing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), "99999999999")
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestStore_UpsertValidates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bad := storableDoc("123")
	err := st.Upsert(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))

	short := storableDoc("00093505698")
	short.Embedding = short.Embedding[:8]
	err = st.Upsert(ctx, short)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))

	// A valid document still fails against an index with another dimension.
	mismatched := New(st.rdb, IndexSpec{Name: "idx:small", Prefix: "drug:", Dim: 512}, nil)
	err = mismatched.Upsert(ctx, storableDoc("00093505698"))
	require.Error(t, err)
	assert.Equal(t, fault.InvalidInput, fault.KindOf(err))
}

func TestClassifyRedis(t *testing.T) {
	assert.NoError(t, classifyRedis("op", nil))

	// Context ends pass through unclassified so callers can errors.Is them.
	assert.ErrorIs(t, classifyRedis("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, classifyRedis("op", context.DeadlineExceeded), context.DeadlineExceeded)

	assert.Equal(t, fault.NotFound, fault.KindOf(classifyRedis("op", redis.Nil)))
	assert.Equal(t, fault.UpstreamTransient, fault.KindOf(classifyRedis("op", syscall.ECONNREFUSED)))
	assert.Equal(t, fault.UpstreamTransient, fault.KindOf(classifyRedis("op", io.EOF)))
	assert.Equal(t, fault.Internal, fault.KindOf(classifyRedis("op", errors.New("ERR syntax error"))))
}
