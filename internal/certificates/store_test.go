package certificates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordStoreReportsPresenceExplicitly(t *testing.T) {
	db := openTestDatabase(t)
	store := NewRecordStore(db)
	ctx := context.Background()
	owner := mustOwnerID(t, "owner-a")

	_, found, err := store.Get(ctx, owner, "proof-001")
	require.NoError(t, err)
	require.False(t, found)

	// An empty proof text must still read back as present.
	require.NoError(t, store.Put(ctx, owner, "proof-001", Certificate{Category: DefaultCategory, Metadata: DefaultMetadata}))

	stored, found, err := store.Get(ctx, owner, "proof-001")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, stored.ProofText)
	require.Equal(t, owner.String(), stored.OwnerID)
	require.NotNil(t, stored.AITags)
}

func TestRecordStorePutOverwrites(t *testing.T) {
	db := openTestDatabase(t)
	store := NewRecordStore(db)
	ctx := context.Background()
	owner := mustOwnerID(t, "owner-a")

	require.NoError(t, store.Put(ctx, owner, "proof-001", Certificate{ProofText: testProofText, AITags: []string{"a"}}))
	require.NoError(t, store.Put(ctx, owner, "proof-001", Certificate{ProofText: testOtherProofText, AITags: []string{"b", "c"}}))

	stored, found, err := store.Get(ctx, owner, "proof-001")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, testOtherProofText, stored.ProofText)
	require.Equal(t, []string{"b", "c"}, stored.Tags())

	var rows int64
	require.NoError(t, db.Model(&Certificate{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestListForOwnerSkipsIndexEntriesWithoutRecords(t *testing.T) {
	service, db := newTestService(t, testServiceOptions{})
	ctx := context.Background()
	owner := mustOwnerID(t, "owner-a")

	mustSubmit(t, service, SubmitRequest{Caller: owner, ProofText: testProofText, ProofID: "proof-001"})
	require.NoError(t, NewRecordStore(db).AppendOwnerIndex(ctx, owner, "proof-dangling"))
	mustSubmit(t, service, SubmitRequest{Caller: owner, ProofText: testProofText, ProofID: "proof-002"})

	proofIDs, err := NewRecordStore(db).ListOwned(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{"proof-001", "proof-dangling", "proof-002"}, proofIDs)

	owned, err := service.ListForOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, "proof-001", owned[0].ProofID)
	require.Equal(t, "proof-002", owned[1].ProofID)
}

func TestAggregateIndexStartsAtZero(t *testing.T) {
	db := openTestDatabase(t)
	index := NewAggregateIndex(db)
	ctx := context.Background()

	total, err := index.Total(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	count, err := index.CategoryCount(ctx, "UNKNOWN")
	require.NoError(t, err)
	require.Zero(t, count)

	counts, err := index.CategoryCounts(ctx)
	require.NoError(t, err)
	require.Empty(t, counts)

	first, err := index.IncrementTotal(ctx)
	require.NoError(t, err)
	second, err := index.IncrementTotal(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	categoryValue, err := index.IncrementCategory(ctx, "WORK")
	require.NoError(t, err)
	require.Equal(t, int64(1), categoryValue)
}

func TestNormalizeCategoryLimit(t *testing.T) {
	testCases := []struct {
		input    int
		expected int
	}{
		{input: -3, expected: defaultCategoryCap},
		{input: 0, expected: defaultCategoryCap},
		{input: 7, expected: 7},
		{input: maxCategoryCap, expected: maxCategoryCap},
		{input: maxCategoryCap + 1, expected: maxCategoryCap},
	}
	for _, testCase := range testCases {
		if got := normalizeCategoryLimit(testCase.input); got != testCase.expected {
			t.Fatalf("normalizeCategoryLimit(%d) = %d, expected %d", testCase.input, got, testCase.expected)
		}
	}
}
