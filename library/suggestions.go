package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SuggestionType is the short tag that prefixes every suggestion name.
type SuggestionType string

const (
	SuggestBoardGame SuggestionType = "BOARD"
	SuggestBook      SuggestionType = "BOOK"
	SuggestSwitch    SuggestionType = "SWITCH"
	SuggestPS4       SuggestionType = "PS4"
	SuggestPS5       SuggestionType = "PS5"
	SuggestXbox      SuggestionType = "XBOX"
	SuggestDeck      SuggestionType = "DECK"
)

// SuggestionTypes lists the accepted types in display order.
var SuggestionTypes = []SuggestionType{SuggestBoardGame, SuggestBook, SuggestSwitch, SuggestPS4, SuggestPS5, SuggestXbox, SuggestDeck}

var suggestionTypeAliases = map[string]SuggestionType{
	"boardgame": SuggestBoardGame,
	"board":     SuggestBoardGame,
	"book":      SuggestBook,
	"switch":    SuggestSwitch,
	"ps4":       SuggestPS4,
	"ps5":       SuggestPS5,
	"xbox":      SuggestXbox,
	"deck":      SuggestDeck,
}

// ParseSuggestionType accepts a type by name or by tag, in any case.
func ParseSuggestionType(s string) (SuggestionType, error) {
	if t, ok := suggestionTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", newError(InvalidInput, ReasonInvalidEnum,
		fmt.Sprintf("invalid suggestion type %q, options are: boardgame, book, switch, ps4, ps5, xbox, deck", s))
}

// SuggestionStatus is the moderation state of a suggestion.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "PENDING"
	StatusAccepted SuggestionStatus = "ACCEPTED"
	StatusRejected SuggestionStatus = "REJECTED"
	StatusBought   SuggestionStatus = "BOUGHT"
)

// ParseSuggestionStatus accepts a status name in any case.
func ParseSuggestionStatus(s string) (SuggestionStatus, error) {
	st := SuggestionStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusBought:
		return st, nil
	}
	return "", newError(InvalidInput, ReasonInvalidEnum,
		fmt.Sprintf("invalid status %q, options are: pending, accepted, rejected, bought", s))
}

// SuggestionName builds the stored name "[TAG] text".
func SuggestionName(t SuggestionType, text string) string {
	return "[" + string(t) + "] " + strings.Join(strings.Fields(text), " ")
}

// stripTag removes a leading "[TAG]" if present.
func stripTag(name string) string {
	s := strings.TrimSpace(name)
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end > 0 {
			return strings.TrimSpace(s[end+1:])
		}
	}
	return s
}

// tagOf returns the type encoded in a name, or "" when there is none.
func tagOf(name string) SuggestionType {
	s := strings.TrimSpace(name)
	if !strings.HasPrefix(s, "[") {
		return ""
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return ""
	}
	t, err := ParseSuggestionType(s[1:end])
	if err != nil {
		return ""
	}
	return t
}

// Suggestion is a proposal to grow the catalog. Votes is the number of vote
// rows; a suggestion always has at least one.
type Suggestion struct {
	Name      string           `json:"name"`
	Type      SuggestionType   `json:"type"`
	Proposer  UserID           `json:"proposer"`
	Status    SuggestionStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	Votes     int              `json:"votes"`
	Voters    []UserID         `json:"voters,omitempty"`
}

// AddResult reports the outcome of a proposal. When Created is false, Similar
// holds the names the user must confirm against.
type AddResult struct {
	Name    string
	Created bool
	Similar []Match
}

// VoteResult reports the outcome of a vote. When Voted is empty the name was
// not found and Candidates holds the closest existing names.
type VoteResult struct {
	Voted      string
	Votes      int
	Candidates []Match
}

// MergeResult reports a merge of one suggestion into another.
type MergeResult struct {
	Into        string
	Transferred int
	Votes       int
}

// ---------------------------------------------------------------------------
// Proposals
// ---------------------------------------------------------------------------

// AddSuggestion proposes a new item. Without confirm, any existing name that
// scores at or above the threshold stops the insert and is returned for
// confirmation. The proposer's vote is recorded with the suggestion.
func (d *Database) AddSuggestion(ctx context.Context, user UserID, text string, t SuggestionType, confirm bool, opts MatchOptions, now time.Time) (*AddResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newError(InvalidInput, ReasonInvalidSuggestion, "suggestion text cannot be empty")
	}
	name := SuggestionName(t, text)
	res := &AddResult{Name: name}

	if !confirm {
		if _, err := canonicalSuggestion(ctx, d.db, name); err == nil {
			return nil, duplicateSuggestion(name)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, wrapStore("add suggestion", err)
		}
		scope := SuggestionType("")
		if opts.ScopeToType {
			scope = t
		}
		similar, err := d.suggestionMatches(ctx, d.db, name, scope, opts)
		if err != nil {
			return nil, wrapStore("add suggestion", err)
		}
		if len(similar) > 0 {
			res.Similar = similar
			return res, nil
		}
	}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := canonicalSuggestion(ctx, tx, name); err == nil {
			return duplicateSuggestion(name)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO suggestions(name,type,proposer,status,created_at) VALUES(?,?,?,?,?)`,
			name, string(t), int64(user), string(StatusPending), now.Unix()); err != nil {
			if isUniqueViolation(err) {
				return duplicateSuggestion(name)
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO suggestion_votes(user_id,name,voted_at) VALUES(?,?,?)`,
			int64(user), name, now.Unix())
		return err
	})
	if err != nil {
		return nil, wrapStore("add suggestion", err)
	}
	res.Created = true
	return res, nil
}

func duplicateSuggestion(name string) *Error {
	return newError(Conflict, ReasonDuplicateSuggestion, fmt.Sprintf("%q has already been suggested, vote for it instead", name))
}

// canonicalSuggestion resolves name case-insensitively to the stored name.
func canonicalSuggestion(ctx context.Context, q queryer, name string) (string, error) {
	var stored string
	err := q.QueryRowContext(ctx, `SELECT name FROM suggestions WHERE name = ? COLLATE NOCASE`, strings.TrimSpace(name)).Scan(&stored)
	return stored, err
}

// suggestionMatches ranks stored names against candidate. scope restricts
// the scan to one type when set.
func (d *Database) suggestionMatches(ctx context.Context, q queryer, candidate string, scope SuggestionType, opts MatchOptions) ([]Match, error) {
	query := `SELECT name FROM suggestions`
	var args []any
	if scope != "" {
		query += ` WHERE type = ?`
		args = append(args, string(scope))
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankMatches(candidate, names, opts), nil
}

// Alternatives returns the stored names closest to text. When opts scopes to
// type, the tag in text (if any) selects the type.
func (d *Database) Alternatives(ctx context.Context, text string, opts MatchOptions) ([]Match, error) {
	scope := SuggestionType("")
	if opts.ScopeToType {
		scope = tagOf(text)
	}
	out, err := d.suggestionMatches(ctx, d.db, text, scope, opts)
	return out, wrapStore("suggestion alternatives", err)
}

// suggestionNotFound builds a NotFound error carrying close matches.
func (d *Database) suggestionNotFound(ctx context.Context, q queryer, name string, opts MatchOptions) error {
	scope := SuggestionType("")
	if opts.ScopeToType {
		scope = tagOf(name)
	}
	alts, err := d.suggestionMatches(ctx, q, name, scope, opts)
	if err != nil {
		return err
	}
	e := newError(NotFound, ReasonSuggestionNotFound, fmt.Sprintf("no suggestion named %q", name))
	for _, m := range alts {
		e.Alternatives = append(e.Alternatives, m.Name)
	}
	if len(e.Alternatives) > 0 {
		e.Message += ", did you mean: " + strings.Join(e.Alternatives, ", ")
	}
	return e
}

// resolveSuggestion returns the stored name or a NotFound error with
// alternatives.
func (d *Database) resolveSuggestion(ctx context.Context, q queryer, name string, opts MatchOptions) (string, error) {
	stored, err := canonicalSuggestion(ctx, q, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", d.suggestionNotFound(ctx, q, name, opts)
	}
	return stored, err
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

// VoteSuggestion records a vote on an exact (case-insensitive) name. A miss is
// not an error: the closest names come back as candidates and nothing is
// created.
func (d *Database) VoteSuggestion(ctx context.Context, user UserID, name string, opts MatchOptions, now time.Time) (*VoteResult, error) {
	res := &VoteResult{}
	var missed bool
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := canonicalSuggestion(ctx, tx, name)
		if errors.Is(err, sql.ErrNoRows) {
			missed = true
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO suggestion_votes(user_id,name,voted_at) VALUES(?,?,?)`,
			int64(user), stored, now.Unix()); err != nil {
			if isUniqueViolation(err) {
				return newError(Conflict, ReasonAlreadyVoted, fmt.Sprintf("you already voted for %q", stored))
			}
			return err
		}
		res.Voted = stored
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestion_votes WHERE name = ?`, stored).Scan(&res.Votes)
	})
	if err != nil {
		return nil, wrapStore("vote", err)
	}
	if missed {
		scope := SuggestionType("")
		if opts.ScopeToType {
			scope = tagOf(name)
		}
		if res.Candidates, err = d.suggestionMatches(ctx, d.db, name, scope, opts); err != nil {
			return nil, wrapStore("vote", err)
		}
	}
	return res, nil
}

// UnvoteSuggestion withdraws a vote. The suggestion is deleted with its last
// vote; deleted reports whether that happened.
func (d *Database) UnvoteSuggestion(ctx context.Context, user UserID, name string, opts MatchOptions) (deleted bool, err error) {
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := d.resolveSuggestion(ctx, tx, name, opts)
		if err != nil {
			return err
		}
		r, err := tx.ExecContext(ctx, `DELETE FROM suggestion_votes WHERE user_id = ? AND name = ?`, int64(user), stored)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return newError(NotFound, ReasonNotVoted, fmt.Sprintf("you have not voted for %q", stored))
		}
		var left int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestion_votes WHERE name = ?`, stored).Scan(&left); err != nil {
			return err
		}
		if left == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE name = ?`, stored); err != nil {
				return err
			}
			deleted = true
		}
		return nil
	})
	return deleted, wrapStore("unvote", err)
}

// ---------------------------------------------------------------------------
// Moderation
// ---------------------------------------------------------------------------

// UpdateSuggestionStatus moves a suggestion to a new status.
func (d *Database) UpdateSuggestionStatus(ctx context.Context, name string, status SuggestionStatus, opts MatchOptions) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := d.resolveSuggestion(ctx, tx, name, opts)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE suggestions SET status = ? WHERE name = ?`, string(status), stored)
		return err
	})
	return wrapStore("update suggestion status", err)
}

// MergeSuggestions moves every vote of from that into does not already hold
// onto into, then deletes from. The vote count of into becomes the size of
// the union of both voter sets.
func (d *Database) MergeSuggestions(ctx context.Context, into, from string, opts MatchOptions) (*MergeResult, error) {
	res := &MergeResult{}
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		target, err := d.resolveSuggestion(ctx, tx, into, opts)
		if err != nil {
			return err
		}
		source, err := d.resolveSuggestion(ctx, tx, from, opts)
		if err != nil {
			return err
		}
		if target == source {
			return newError(InvalidInput, ReasonInvalidSuggestion, fmt.Sprintf("cannot merge %q into itself", target))
		}
		r, err := tx.ExecContext(ctx, `INSERT INTO suggestion_votes(user_id,name,voted_at)
            SELECT s.user_id, ?, s.voted_at FROM suggestion_votes s
            WHERE s.name = ? AND NOT EXISTS (SELECT 1 FROM suggestion_votes t WHERE t.name = ? AND t.user_id = s.user_id)`,
			target, source, target)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.Into, res.Transferred = target, int(n)
		if err := deleteSuggestion(ctx, tx, source); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestion_votes WHERE name = ?`, target).Scan(&res.Votes)
	})
	if err != nil {
		return nil, wrapStore("merge suggestions", err)
	}
	return res, nil
}

// DeleteSuggestion removes a suggestion and its votes.
func (d *Database) DeleteSuggestion(ctx context.Context, name string, opts MatchOptions) (string, error) {
	var stored string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if stored, err = d.resolveSuggestion(ctx, tx, name, opts); err != nil {
			return err
		}
		return deleteSuggestion(ctx, tx, stored)
	})
	return stored, wrapStore("delete suggestion", err)
}

func deleteSuggestion(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM suggestion_votes WHERE name = ?`, name); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE name = ?`, name)
	return err
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

const suggestionColumns = `s.name, s.type, s.proposer, s.status, s.created_at,
        (SELECT COUNT(*) FROM suggestion_votes v WHERE v.name = s.name)`

func scanSuggestion(r rowScanner) (*Suggestion, error) {
	var s Suggestion
	var typ, status string
	var proposer, created int64
	if err := r.Scan(&s.Name, &typ, &proposer, &status, &created, &s.Votes); err != nil {
		return nil, err
	}
	s.Type, s.Status = SuggestionType(typ), SuggestionStatus(status)
	s.Proposer = UserID(proposer)
	s.CreatedAt = time.Unix(created, 0)
	return &s, nil
}

// ListSuggestions returns suggestions by vote count, then name. Empty t or
// status means any.
func (d *Database) ListSuggestions(ctx context.Context, t SuggestionType, status SuggestionStatus) ([]*Suggestion, error) {
	q := `SELECT ` + suggestionColumns + ` FROM suggestions s`
	var conds []string
	var args []any
	if t != "" {
		conds = append(conds, "s.type = ?")
		args = append(args, string(t))
	}
	if status != "" {
		conds = append(conds, "s.status = ?")
		args = append(args, string(status))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY 6 DESC, s.name ASC`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapStore("list suggestions", err)
	}
	defer rows.Close()
	out := []*Suggestion{}
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, wrapStore("list suggestions", err)
		}
		out = append(out, s)
	}
	return out, wrapStore("list suggestions", rows.Err())
}

// GetSuggestion fetches one suggestion with its voters in voting order.
func (d *Database) GetSuggestion(ctx context.Context, name string, opts MatchOptions) (*Suggestion, error) {
	stored, err := d.resolveSuggestion(ctx, d.db, name, opts)
	if err != nil {
		return nil, wrapStore("get suggestion", err)
	}
	s, err := scanSuggestion(d.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions s WHERE s.name = ?`, stored))
	if err != nil {
		return nil, wrapStore("get suggestion", err)
	}
	rows, err := d.db.QueryContext(ctx, `SELECT user_id FROM suggestion_votes WHERE name = ? ORDER BY voted_at, user_id`, stored)
	if err != nil {
		return nil, wrapStore("get suggestion", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u int64
		if err := rows.Scan(&u); err != nil {
			return nil, wrapStore("get suggestion", err)
		}
		s.Voters = append(s.Voters, UserID(u))
	}
	return s, wrapStore("get suggestion", rows.Err())
}
