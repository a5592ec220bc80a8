package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAllocatesSequentialIDs(t *testing.T) {
	db := tempDB(t)
	first := mustInsert(t, db, boardGame("Catan", 2, 3, 4))
	second := mustInsert(t, db, ItemDraft{Name: "Dune", TotalCopies: 1, Details: BookDetails{Author: "Frank Herbert", Pages: 412, Genre: "SciFi"}})
	third := mustInsert(t, db, ItemDraft{Name: "Zelda", TotalCopies: 1, Details: VideoGameDetails{MinPlayers: 1, MaxPlayers: 1, Platform: PlatformSwitch}})

	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(1), second)
	assert.Equal(t, int64(2), third)
}

func TestInsertRejectsDuplicateNameIgnoringCase(t *testing.T) {
	db := tempDB(t)
	mustInsert(t, db, boardGame("Catan", 1, 3, 4))

	_, err := db.InsertItem(context.Background(), boardGame("  CATAN ", 1, 3, 4))
	require.Error(t, err)
	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, ReasonDuplicateName, ReasonOf(err))

	n, err := db.CountItems(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertValidation(t *testing.T) {
	db := tempDB(t)
	cases := []struct {
		name   string
		draft  ItemDraft
		reason Reason
	}{
		{"empty name", boardGame(" ", 1, 1, 2), ReasonInvalidField},
		{"zero copies", boardGame("A", 0, 1, 2), ReasonInvalidCopies},
		{"inverted players", boardGame("B", 1, 5, 2), ReasonInvalidField},
		{"no details", ItemDraft{Name: "C", TotalCopies: 1}, ReasonInvalidKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.InsertItem(context.Background(), tc.draft)
			require.Error(t, err)
			assert.Equal(t, InvalidInput, KindOf(err))
			assert.Equal(t, tc.reason, ReasonOf(err))
		})
	}
}

func TestGetItemViewSelectsSpecialization(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	rank := int64(42)
	bg := boardGame("Catan", 2, 3, 4)
	bg.Categories = []string{"Strategy", "strategy", "Trading", ""}
	bg.Details = BoardGameDetails{MinPlayers: 3, MaxPlayers: 4, PlayingTime: 90, LearnDifficulty: DifficultyEasy, PlayDifficulty: DifficultyNormal, Rank: &rank}
	bgID := mustInsert(t, db, bg)
	bookID := mustInsert(t, db, ItemDraft{Name: "Dune", TotalCopies: 1, Details: BookDetails{Author: "Frank Herbert", Pages: 412, Genre: "SciFi"}})
	vgID := mustInsert(t, db, ItemDraft{Name: "Halo", TotalCopies: 1, Details: VideoGameDetails{MinPlayers: 1, MaxPlayers: 4, Difficulty: DifficultyHard, Platform: PlatformXbox}})

	view, err := db.GetItemView(ctx, bgID)
	require.NoError(t, err)
	assert.Equal(t, KindBoardGame, view.Kind)
	assert.Equal(t, []string{"Strategy", "Trading"}, view.Categories)
	details, ok := view.Details.(BoardGameDetails)
	require.True(t, ok)
	assert.Equal(t, DifficultyEasy, details.LearnDifficulty)
	require.NotNil(t, details.Rank)
	assert.Equal(t, int64(42), *details.Rank)
	assert.Nil(t, details.AvgRating, "missing rating stays unknown, not zero")

	view, err = db.GetItemView(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, BookDetails{Author: "Frank Herbert", Pages: 412, Genre: "SciFi"}, view.Details)

	view, err = db.GetItemView(ctx, vgID)
	require.NoError(t, err)
	assert.Equal(t, VideoGameDetails{MinPlayers: 1, MaxPlayers: 4, Difficulty: DifficultyHard, Platform: PlatformXbox}, view.Details)
}

func TestDeleteItemKeepsLoanHistory(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 1, 3, 4))
	_, err := db.Borrow(ctx, BorrowRequest{User: 7, ItemID: id}, testNow)
	require.NoError(t, err)

	name, err := db.DeleteItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Catan", name)

	_, err = db.GetItem(ctx, id)
	assert.Equal(t, NotFound, KindOf(err))

	loans, err := db.ListBorrows(ctx, BorrowQuery{})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, id, loans[0].ItemID)
	assert.Empty(t, loans[0].ItemName)

	_, err = db.DeleteItem(ctx, id)
	assert.Equal(t, NotFound, KindOf(err))
}

func TestEditCopyCount(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 2, 3, 4))

	require.NoError(t, db.EditCopyCount(ctx, id, 0))
	it, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, it.TotalCopies)

	err = db.EditCopyCount(ctx, id, -1)
	assert.Equal(t, ReasonInvalidCopies, ReasonOf(err))

	err = db.EditCopyCount(ctx, 99, 3)
	assert.Equal(t, NotFound, KindOf(err))
}

func TestAvailabilityCanGoNegativeButDisplaysZero(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, boardGame("Catan", 2, 3, 4))
	for _, u := range []UserID{1, 2} {
		_, err := db.Borrow(ctx, BorrowRequest{User: u, ItemID: id}, testNow)
		require.NoError(t, err)
	}
	require.NoError(t, db.EditCopyCount(ctx, id, 1))

	it, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, -1, it.CopiesAvailable)
	assert.Equal(t, 0, it.DisplayCopies())
}

func TestFindItemsByName(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	mustInsert(t, db, boardGame("Go Fish", 1, 2, 6))
	mustInsert(t, db, boardGame("Go", 1, 2, 2))
	mustInsert(t, db, ItemDraft{Name: "100% Orange_Juice", TotalCopies: 1, Details: VideoGameDetails{Platform: PlatformPC}})

	items, err := db.FindItemsByName(ctx, "go", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Go", items[0].Name)

	items, err = db.FindItemsByName(ctx, "100%", KindVideoGame)
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = db.FindItemsByName(ctx, "go", KindBook)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListAndCountItems(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B", "C"} {
		mustInsert(t, db, boardGame(n, 1, 1, 2))
	}
	mustInsert(t, db, ItemDraft{Name: "D", TotalCopies: 1, Details: BookDetails{}})

	page, err := db.ListItems(ctx, KindBoardGame, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "B", page[0].Name)
	assert.Equal(t, "C", page[1].Name)

	n, err := db.CountItems(ctx, KindBook)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeletedIDIsNotReused(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	mustInsert(t, db, boardGame("Chess", 1, 2, 2))
	catan := mustInsert(t, db, boardGame("Catan", 1, 3, 4))
	_, err := db.Borrow(ctx, BorrowRequest{User: 7, ItemID: catan}, testNow)
	require.NoError(t, err)
	_, err = db.DeclareInterest(ctx, 3, catan, testNow)
	require.NoError(t, err)
	_, err = db.DeleteItem(ctx, catan)
	require.NoError(t, err)

	azul := mustInsert(t, db, boardGame("Azul", 1, 2, 4))
	assert.NotEqual(t, catan, azul)
	assert.Greater(t, azul, catan)

	it, err := db.GetItem(ctx, azul)
	require.NoError(t, err)
	assert.Equal(t, 1, it.CopiesAvailable)
	waiting, err := db.Interests(ctx, azul)
	require.NoError(t, err)
	assert.Empty(t, waiting)

	_, err = db.Return(ctx, 7, azul, testNow)
	assert.Equal(t, ReasonNotBorrowing, ReasonOf(err))
	_, err = db.Borrow(ctx, BorrowRequest{User: 8, ItemID: azul}, testNow)
	require.NoError(t, err)
}
