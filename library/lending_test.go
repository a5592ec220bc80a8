package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// assertAvailability checks copiesAvailable against the raw loan count.
func assertAvailability(t *testing.T, db *Database, id int64) {
	t.Helper()
	ctx := context.Background()
	it, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	open, err := db.CountBorrows(ctx, BorrowQuery{ItemID: &id, OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, it.TotalCopies-open, it.CopiesAvailable)
}

func TestCatanLendingScenario(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	mustInsert(t, db, boardGame("Chess", 1, 2, 2))
	id := mustInsert(t, db, boardGame("Catan", 2, 3, 4))
	require.Equal(t, int64(1), id)

	res, err := db.Borrow(ctx, BorrowRequest{User: 7, ItemID: id}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CopiesAvailable)
	assertAvailability(t, db, id)

	res, err = db.Borrow(ctx, BorrowRequest{User: 9, ItemID: id}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, res.CopiesAvailable)
	assertAvailability(t, db, id)

	_, err = db.Borrow(ctx, BorrowRequest{User: 3, ItemID: id}, testNow)
	require.Error(t, err)
	assert.Equal(t, Unavailable, KindOf(err))
	assert.Equal(t, ReasonNoCopiesAvailable, ReasonOf(err))
	assert.Contains(t, UserMessage(err), "Catan")

	interest, err := db.DeclareInterest(ctx, 3, id, testNow)
	require.NoError(t, err)
	assert.Empty(t, interest.Others)
	assert.Empty(t, interest.Notices)

	ret, err := db.Return(ctx, 7, id, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, ret.CopiesAvailable)
	assert.Equal(t, []UserID{3}, ret.Interested)
	require.Len(t, ret.Notices, 1)
	assert.Equal(t, NoticeItemReturned, ret.Notices[0].Kind)
	assert.Equal(t, UserID(3), ret.Notices[0].Recipient)
	assert.Equal(t, UserID(7), ret.Notices[0].Actor)
	assert.Equal(t, 1, ret.Notices[0].CopiesAvailable)
	assertAvailability(t, db, id)
}

func TestBorrowTwiceFails(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 5, 3, 4))

	_, err := db.Borrow(ctx, BorrowRequest{User: 1, ItemID: id}, testNow)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, BorrowRequest{User: 1, ItemID: id}, testNow)
	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, ReasonAlreadyBorrowed, ReasonOf(err))
	assertAvailability(t, db, id)
}

func TestReturnWithoutLoanFails(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 1, 3, 4))

	_, err := db.Return(ctx, 1, id, testNow)
	assert.Equal(t, ReasonNotBorrowing, ReasonOf(err))

	_, err = db.Return(ctx, 1, 404, testNow)
	assert.Equal(t, ReasonItemNotFound, ReasonOf(err))
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 3, 3, 4))
	before, err := db.GetItem(ctx, id)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := db.Borrow(ctx, BorrowRequest{User: 1, ItemID: id}, testNow)
		require.NoError(t, err)
		_, err = db.Return(ctx, 1, id, testNow)
		require.NoError(t, err)
	}
	after, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.CopiesAvailable, after.CopiesAvailable)

	n, err := db.CountBorrows(ctx, BorrowQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBorrowCheckOrder(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 1, 3, 4))
	yesterday := testNow.Add(-24 * time.Hour)
	tomorrow := testNow.Add(24 * time.Hour)

	cases := []struct {
		name   string
		req    BorrowRequest
		reason Reason
	}{
		{"missing item", BorrowRequest{User: 1, ItemID: 99, Retrieval: &tomorrow}, ReasonItemNotFound},
		{"return before retrieval", BorrowRequest{User: 1, ItemID: id, Retrieval: &testNow, PlannedReturn: &yesterday}, ReasonInvalidDateRange},
		{"retrieval in future", BorrowRequest{User: 1, ItemID: id, Retrieval: &tomorrow}, ReasonRetrievalInFuture},
		{"return before implicit now", BorrowRequest{User: 1, ItemID: id, PlannedReturn: &yesterday}, ReasonInvalidDateRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.Borrow(ctx, tc.req, testNow)
			require.Error(t, err)
			assert.Equal(t, tc.reason, ReasonOf(err))
		})
	}

	res, err := db.Borrow(ctx, BorrowRequest{User: 1, ItemID: id, Retrieval: &yesterday, PlannedReturn: &tomorrow}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, res.CopiesAvailable)

	loans, err := db.ListBorrows(ctx, BorrowQuery{User: ptr(UserID(1))})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, yesterday.Unix(), loans[0].RetrievedAt.Unix())
	require.NotNil(t, loans[0].PlannedReturn)
	assert.Equal(t, tomorrow.Unix(), loans[0].PlannedReturn.Unix())
	assert.True(t, loans[0].Open())

	// An unavailable item reports that before looking at dates.
	_, err = db.Borrow(ctx, BorrowRequest{User: 2, ItemID: id, Retrieval: &tomorrow}, testNow)
	assert.Equal(t, ReasonNoCopiesAvailable, ReasonOf(err))
}

func TestBorrowClearsOwnInterestAndNotifiesOthers(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 2, 3, 4))

	for _, u := range []UserID{5, 6, 8} {
		_, err := db.DeclareInterest(ctx, u, id, testNow)
		require.NoError(t, err)
	}

	res, err := db.Borrow(ctx, BorrowRequest{User: 6, ItemID: id}, testNow)
	require.NoError(t, err)
	assert.True(t, res.ClearedInterest)
	assert.Equal(t, 1, res.CopiesAvailable)
	require.Len(t, res.Notices, 2)
	for _, n := range res.Notices {
		assert.Equal(t, NoticeItemBorrowed, n.Kind)
		assert.Equal(t, "Catan", n.ItemName)
		assert.Equal(t, 1, n.CopiesAvailable)
		assert.NotEqual(t, UserID(6), n.Recipient)
	}
	assert.NotEqual(t, res.Notices[0].ID, res.Notices[1].ID)

	left, err := db.Interests(ctx, id)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, UserID(5), left[0].User)
	assert.Equal(t, UserID(8), left[1].User)

	res, err = db.Borrow(ctx, BorrowRequest{User: 1, ItemID: id}, testNow)
	require.NoError(t, err)
	assert.False(t, res.ClearedInterest)
}

func TestInterestLifecycle(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 1, 3, 4))

	_, err := db.DeclareInterest(ctx, 1, id, testNow)
	require.NoError(t, err)
	_, err = db.DeclareInterest(ctx, 1, id, testNow)
	assert.Equal(t, ReasonAlreadyInterested, ReasonOf(err))
	assert.Equal(t, Conflict, KindOf(err))

	res, err := db.DeclareInterest(ctx, 2, id, testNow)
	require.NoError(t, err)
	assert.Equal(t, []UserID{1}, res.Others)
	require.Len(t, res.Notices, 1)
	assert.Equal(t, NoticeInterestDeclared, res.Notices[0].Kind)

	mine, err := db.UserInterests(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Catan", mine[0].ItemName)

	require.NoError(t, db.CancelInterest(ctx, 1, id))
	err = db.CancelInterest(ctx, 1, id)
	assert.Equal(t, ReasonNotInterested, ReasonOf(err))

	_, err = db.DeclareInterest(ctx, 1, 77, testNow)
	assert.Equal(t, ReasonItemNotFound, ReasonOf(err))
}

func TestDueRemindersAndMarkReminded(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	a := mustInsert(t, db, boardGame("A", 3, 1, 2))
	b := mustInsert(t, db, boardGame("B", 3, 1, 2))
	c := mustInsert(t, db, boardGame("C", 3, 1, 2))

	past := testNow.Add(-2 * time.Hour)
	soon := testNow.Add(3 * time.Hour)
	later := testNow.Add(72 * time.Hour)
	_, err := db.Borrow(ctx, BorrowRequest{User: 1, ItemID: a, Retrieval: ptr(testNow.Add(-48 * time.Hour)), PlannedReturn: &past}, testNow)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, BorrowRequest{User: 2, ItemID: b, PlannedReturn: &soon}, testNow)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, BorrowRequest{User: 3, ItemID: c, PlannedReturn: &later}, testNow)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, BorrowRequest{User: 4, ItemID: c}, testNow)
	require.NoError(t, err)

	due, err := db.DueReminders(ctx, testNow, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, a, due[0].ItemID)
	assert.Equal(t, b, due[1].ItemID)

	require.NoError(t, db.MarkReminded(ctx, 1, a))
	require.NoError(t, db.MarkReminded(ctx, 1, a))
	require.NoError(t, db.MarkReminded(ctx, 9, a))

	due, err = db.DueReminders(ctx, testNow, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, UserID(2), due[0].User)

	_, err = db.Return(ctx, 2, b, testNow)
	require.NoError(t, err)
	due, err = db.DueReminders(ctx, testNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListBorrowsPaging(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 10, 3, 4))
	for i := 0; i < 5; i++ {
		at := testNow.Add(time.Duration(-i) * time.Hour)
		_, err := db.Borrow(ctx, BorrowRequest{User: UserID(i), ItemID: id, Retrieval: &at}, testNow)
		require.NoError(t, err)
	}
	_, err := db.Return(ctx, 0, id, testNow)
	require.NoError(t, err)

	page, err := db.ListBorrows(ctx, BorrowQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, UserID(1), page[0].User)
	assert.Equal(t, UserID(2), page[1].User)

	open, err := db.CountBorrows(ctx, BorrowQuery{OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 4, open)
}

func TestConcurrentBorrowsNeverOversubscribe(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 3, 3, 4))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, unavailable int
	for u := 0; u < 10; u++ {
		wg.Add(1)
		go func(user UserID) {
			defer wg.Done()
			_, err := db.Borrow(ctx, BorrowRequest{User: user, ItemID: id}, testNow)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case IsKind(err, Unavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(UserID(u))
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, unavailable)
	assertAvailability(t, db, id)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2026-10-01 ", "2006-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.October, d.Month())

	_, err = ParseDate("01/10/2026", "2006-01-02")
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidDate, ReasonOf(err))
	assert.Contains(t, UserMessage(err), "2006-01-02")
}
