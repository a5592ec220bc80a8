package library

import (
	"context"
	"fmt"
	"strings"
)

// MetadataSource is an external board-game catalog used to pre-fill inserts.
type MetadataSource interface {
	// SearchIDs returns external ids whose name matches query.
	SearchIDs(ctx context.Context, query string) ([]int64, error)
	// FetchByIDs returns one board-game draft per id it could resolve.
	FetchByIDs(ctx context.Context, ids []int64) ([]ItemDraft, error)
}

// BoardGameOverrides are manual values that win over fetched metadata. Zero
// values leave the fetched field alone.
type BoardGameOverrides struct {
	Name            string
	TotalCopies     int
	LearnDifficulty Difficulty
	PlayDifficulty  Difficulty
	Categories      []string
}

func metadataUnavailable(msg string, err error) *Error {
	e := newError(Unavailable, ReasonMetadataUnavailable, msg)
	e.Err = err
	return e
}

// applyOverrides merges ov over a fetched draft and pins the external id.
func applyOverrides(draft ItemDraft, externalID int64, ov BoardGameOverrides) ItemDraft {
	bg, _ := draft.Details.(BoardGameDetails)
	if bg.ExternalRef == nil {
		ref := externalID
		bg.ExternalRef = &ref
	}
	if ov.LearnDifficulty != DifficultyUndefined {
		bg.LearnDifficulty = ov.LearnDifficulty
	}
	if ov.PlayDifficulty != DifficultyUndefined {
		bg.PlayDifficulty = ov.PlayDifficulty
	}
	draft.Details = bg
	if strings.TrimSpace(ov.Name) != "" {
		draft.Name = ov.Name
	}
	if ov.TotalCopies > 0 {
		draft.TotalCopies = ov.TotalCopies
	}
	if draft.TotalCopies < 1 {
		draft.TotalCopies = 1
	}
	if len(ov.Categories) > 0 {
		draft.Categories = ov.Categories
	}
	return draft
}

// fallbackDraft is inserted when the source cannot be reached. Rank and
// rating stay unknown.
func fallbackDraft(externalID int64, ov BoardGameOverrides) ItemDraft {
	return applyOverrides(ItemDraft{Details: BoardGameDetails{}}, externalID, ov)
}

// fetchOne resolves a single external id to a draft.
func fetchOne(ctx context.Context, src MetadataSource, externalID int64) (ItemDraft, error) {
	drafts, err := src.FetchByIDs(ctx, []int64{externalID})
	if err != nil {
		return ItemDraft{}, err
	}
	if len(drafts) == 0 {
		return ItemDraft{}, fmt.Errorf("no metadata for id %d", externalID)
	}
	return drafts[0], nil
}
