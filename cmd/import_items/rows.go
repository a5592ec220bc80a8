package main

import (
	"fmt"
	"strconv"
	"strings"

	"piazza-lending/library"
)

// columns maps a lower-cased header name to its index in a record.
type columns map[string]int

func newColumns(header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[key]; dup {
			return nil, fmt.Errorf("column %q appears twice", key)
		}
		cols[key] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, fmt.Errorf("missing name column")
	}
	return cols, nil
}

func (c columns) get(rec []string, key string) string {
	i, ok := c[key]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// first returns the first non-empty value among keys, so the legacy column
// names (length, minplayers...) keep working.
func (c columns) first(rec []string, keys ...string) string {
	for _, k := range keys {
		if v := c.get(rec, k); v != "" {
			return v
		}
	}
	return ""
}

func (c columns) int(rec []string, keys ...string) (int, error) {
	v := c.first(rec, keys...)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", keys[0], v)
	}
	return n, nil
}

// draftFromRecord builds an insert from one CSV row. A "kind" column wins
// over the file-wide default.
func draftFromRecord(c columns, rec []string, defaultKind library.Kind) (library.ItemDraft, error) {
	kind := defaultKind
	if v := c.get(rec, "kind"); v != "" {
		k, err := library.ParseKind(v)
		if err != nil {
			return library.ItemDraft{}, err
		}
		kind = k
	}
	if kind == "" {
		return library.ItemDraft{}, fmt.Errorf("no kind column and no --kind given")
	}

	copies, err := c.int(rec, "copies", "total_copies")
	if err != nil {
		return library.ItemDraft{}, err
	}
	if copies == 0 {
		copies = 1
	}
	draft := library.ItemDraft{
		Name:        c.get(rec, "name"),
		Description: c.get(rec, "description"),
		Thumbnail:   c.get(rec, "thumbnail"),
		TotalCopies: copies,
	}
	if cats := c.get(rec, "categories"); cats != "" {
		draft.Categories = strings.Split(cats, ";")
	}

	minP, err := c.int(rec, "min_players", "minplayers")
	if err != nil {
		return draft, err
	}
	maxP, err := c.int(rec, "max_players", "maxplayers")
	if err != nil {
		return draft, err
	}
	minutes, err := c.int(rec, "playing_time", "playingtime")
	if err != nil {
		return draft, err
	}

	switch kind {
	case library.KindBoardGame:
		bg := library.BoardGameDetails{MinPlayers: minP, MaxPlayers: maxP, PlayingTime: minutes}
		if bg.LearnDifficulty, err = library.ParseDifficulty(c.first(rec, "learn_difficulty", "learningcomplexity")); err != nil {
			return draft, err
		}
		if bg.PlayDifficulty, err = library.ParseDifficulty(c.first(rec, "play_difficulty", "playingcomplexity")); err != nil {
			return draft, err
		}
		if v := c.first(rec, "bgg_id", "bggid"); v != "" {
			ref, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return draft, fmt.Errorf("bgg_id: %q is not a number", v)
			}
			bg.ExternalRef = &ref
		}
		draft.Details = bg
	case library.KindVideoGame:
		vg := library.VideoGameDetails{MinPlayers: minP, MaxPlayers: maxP, PlayingTime: minutes}
		if vg.Difficulty, err = library.ParseDifficulty(c.get(rec, "difficulty")); err != nil {
			return draft, err
		}
		if vg.Platform, err = library.ParsePlatform(c.get(rec, "platform")); err != nil {
			return draft, err
		}
		draft.Details = vg
	case library.KindBook:
		pages, err := c.int(rec, "pages", "length")
		if err != nil {
			return draft, err
		}
		draft.Details = library.BookDetails{Author: c.get(rec, "author"), Pages: pages, Genre: c.get(rec, "genre")}
	}
	return draft, nil
}
