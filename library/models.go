package library

import (
	"fmt"
	"strings"
	"time"
)

// UserID identifies a member of the community. Identities are issued by the
// chat platform, the catalog only stores them.
type UserID int64

// Kind is the stored discriminant of a catalog item.
type Kind string

const (
	KindBoardGame Kind = "boardgame"
	KindVideoGame Kind = "videogame"
	KindBook      Kind = "book"
)

// Kinds lists every catalog kind in display order.
var Kinds = []Kind{KindBoardGame, KindVideoGame, KindBook}

// ParseKind accepts the kind name in any case, with or without a trailing "s".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch k {
	case KindBoardGame, KindVideoGame, KindBook:
		return k, nil
	}
	return "", newError(InvalidInput, ReasonInvalidKind,
		fmt.Sprintf("invalid item type %q, options are: boardgame, videogame, book", s))
}

// Difficulty is ordinal: Undefined < Party < Easy < Normal < Hard < Campaign.
type Difficulty int

const (
	DifficultyUndefined Difficulty = iota
	DifficultyParty
	DifficultyEasy
	DifficultyNormal
	DifficultyHard
	DifficultyCampaign
)

var difficultyNames = []string{"undefined", "party", "easy", "normal", "hard", "campaign"}

func (d Difficulty) String() string {
	if d < 0 || int(d) >= len(difficultyNames) {
		return difficultyNames[0]
	}
	return difficultyNames[d]
}

// ParseDifficulty maps a difficulty name case-insensitively. An empty string is Undefined.
func ParseDifficulty(s string) (Difficulty, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DifficultyUndefined, nil
	}
	for i, name := range difficultyNames {
		if name == s {
			return Difficulty(i), nil
		}
	}
	return DifficultyUndefined, newError(InvalidInput, ReasonInvalidEnum,
		fmt.Sprintf("invalid difficulty %q, options are: %s", s, strings.Join(difficultyNames, ", ")))
}

// Platform is the console a video game runs on.
type Platform int

const (
	PlatformUndefined Platform = iota
	PlatformPC
	PlatformPS4
	PlatformPS5
	PlatformXbox
	PlatformSwitch
)

var platformNames = []string{"undefined", "pc", "ps4", "ps5", "xbox", "switch"}

func (p Platform) String() string {
	if p < 0 || int(p) >= len(platformNames) {
		return platformNames[0]
	}
	return platformNames[p]
}

// ParsePlatform maps a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range platformNames {
		if i > 0 && name == s {
			return Platform(i), nil
		}
	}
	return PlatformUndefined, newError(InvalidInput, ReasonInvalidEnum,
		fmt.Sprintf("invalid platform %q, options are: %s", s, strings.Join(platformNames[1:], ", ")))
}

// Details is the per-kind part of an item. It is implemented only by
// BoardGameDetails, VideoGameDetails and BookDetails; switch on the concrete
// type to handle a specialization.
type Details interface {
	Kind() Kind
	isDetails()
}

// BoardGameDetails holds board game fields. Nil pointers mean "unknown" and
// are stored as NULL, never as zero.
type BoardGameDetails struct {
	MinPlayers      int        `json:"min_players"`
	MaxPlayers      int        `json:"max_players"`
	PlayingTime     int        `json:"playing_time"`
	LearnDifficulty Difficulty `json:"learn_difficulty"`
	PlayDifficulty  Difficulty `json:"play_difficulty"`
	ExternalRef     *int64     `json:"external_ref,omitempty"`
	Rank            *int64     `json:"rank,omitempty"`
	AvgRating       *float64   `json:"avg_rating,omitempty"`
	BGGRating       *float64   `json:"bgg_rating,omitempty"`
}

func (BoardGameDetails) Kind() Kind { return KindBoardGame }
func (BoardGameDetails) isDetails() {}

// VideoGameDetails holds video game fields.
type VideoGameDetails struct {
	MinPlayers  int        `json:"min_players"`
	MaxPlayers  int        `json:"max_players"`
	PlayingTime int        `json:"playing_time"`
	Difficulty  Difficulty `json:"difficulty"`
	Platform    Platform   `json:"platform"`
}

func (VideoGameDetails) Kind() Kind { return KindVideoGame }
func (VideoGameDetails) isDetails() {}

// BookDetails holds book fields. Pages doubles as the "length" of a book in filters.
type BookDetails struct {
	Author string `json:"author"`
	Pages  int    `json:"pages"`
	Genre  string `json:"genre"`
}

func (BookDetails) Kind() Kind { return KindBook }
func (BookDetails) isDetails() {}

// ItemDraft is everything needed to insert a catalog item. The kind is taken
// from Details.
type ItemDraft struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Thumbnail   string   `json:"thumbnail"`
	Categories  []string `json:"categories"`
	TotalCopies int      `json:"total_copies"`
	Details     Details  `json:"-"`
}

// Item is a transient projection of a catalog row. CopiesAvailable is
// computed on read from the open borrows and is never stored.
type Item struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Kind            Kind     `json:"kind"`
	Description     string   `json:"description"`
	Thumbnail       string   `json:"thumbnail"`
	Categories      []string `json:"categories"`
	TotalCopies     int      `json:"total_copies"`
	CopiesAvailable int      `json:"copies_available"`
}

// DisplayCopies clamps CopiesAvailable for rendering.
func (it *Item) DisplayCopies() int {
	if it.CopiesAvailable < 0 {
		return 0
	}
	return it.CopiesAvailable
}

// ItemView is an item together with its specialization.
type ItemView struct {
	Item
	Details Details `json:"details"`
}

// Borrow is one loan. ReturnedAt == nil means the loan is still open.
type Borrow struct {
	User          UserID     `json:"user"`
	ItemID        int64      `json:"item_id"`
	ItemName      string     `json:"item_name"`
	RetrievedAt   time.Time  `json:"retrieved_at"`
	PlannedReturn *time.Time `json:"planned_return,omitempty"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	ReminderSent  bool       `json:"reminder_sent"`
}

// Open reports whether the loan is outstanding.
func (b *Borrow) Open() bool { return b.ReturnedAt == nil }

// Interest is a waitlist entry.
type Interest struct {
	User       UserID    `json:"user"`
	ItemID     int64     `json:"item_id"`
	ItemName   string    `json:"item_name"`
	DeclaredAt time.Time `json:"declared_at"`
}
