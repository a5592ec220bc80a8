package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LibraryManager is a thin façade over the Database, keeping command code
// simple. It owns the clock, the logger and the tuning knobs; every call
// goes straight to the store.
type LibraryManager struct {
	db             *Database
	log            logrus.FieldLogger
	now            func() time.Time
	match          MatchOptions
	reminderWindow time.Duration
	metadata       MetadataSource
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option { return func(lm *LibraryManager) { lm.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(lm *LibraryManager) { lm.now = now } }

// WithMatchOptions tunes suggestion matching.
func WithMatchOptions(m MatchOptions) Option { return func(lm *LibraryManager) { lm.match = m } }

// WithReminderWindow sets how far ahead of the planned return reminders fire.
func WithReminderWindow(d time.Duration) Option {
	return func(lm *LibraryManager) { lm.reminderWindow = d }
}

// WithMetadataSource sets the external board-game catalog.
func WithMetadataSource(src MetadataSource) Option {
	return func(lm *LibraryManager) { lm.metadata = src }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(driver, dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(driver, dbPath)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDatabase(db, opts...), nil
}

// NewManagerWithDatabase wraps an already open database.
func NewManagerWithDatabase(db *Database, opts ...Option) *LibraryManager {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	lm := &LibraryManager{
		db:             db,
		log:            discard,
		now:            time.Now,
		match:          DefaultMatchOptions,
		reminderWindow: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Database exposes the store for tools that need raw access.
func (lm *LibraryManager) Database() *Database { return lm.db }

// done logs a completed mutation, or a store failure. Business rule
// failures are the caller's to report and are only logged at debug.
func (lm *LibraryManager) done(op string, fields logrus.Fields, err error) error {
	entry := lm.log.WithFields(fields).WithField("op", op)
	switch {
	case err == nil:
		entry.Info("ok")
	case IsKind(err, StoreFailure):
		entry.WithError(err).Error("store failure")
	default:
		entry.WithField("reason", ReasonOf(err)).Debug(UserMessage(err))
	}
	return err
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddItem(ctx context.Context, draft ItemDraft) (int64, error) {
	id, err := lm.db.InsertItem(ctx, draft)
	return id, lm.done("add_item", logrus.Fields{"item": id, "name": draft.Name}, err)
}

// DeleteItem removes an item and returns its name.
func (lm *LibraryManager) DeleteItem(ctx context.Context, id int64) (string, error) {
	name, err := lm.db.DeleteItem(ctx, id)
	return name, lm.done("delete_item", logrus.Fields{"item": id}, err)
}

func (lm *LibraryManager) EditCopies(ctx context.Context, id int64, copies int) error {
	return lm.done("edit_copies", logrus.Fields{"item": id, "copies": copies}, lm.db.EditCopyCount(ctx, id, copies))
}

func (lm *LibraryManager) GetItem(ctx context.Context, id int64) (*Item, error) {
	return lm.db.GetItem(ctx, id)
}

func (lm *LibraryManager) GetItemView(ctx context.Context, id int64) (*ItemView, error) {
	return lm.db.GetItemView(ctx, id)
}

// FindByName resolves a name to one item. Several partial matches are not an
// error: the item is nil and the matches come back for the user to pick.
func (lm *LibraryManager) FindByName(ctx context.Context, query string, kind Kind) (*Item, []*Item, error) {
	items, err := lm.db.FindItemsByName(ctx, query, kind)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case len(items) == 0:
		return nil, nil, newError(NotFound, ReasonItemNotFound, fmt.Sprintf("no item matches %q", query))
	case len(items) == 1:
		return items[0], nil, nil
	case foldName(items[0].Name) == foldName(query):
		return items[0], nil, nil
	default:
		return nil, items, nil
	}
}

func (lm *LibraryManager) ListItems(ctx context.Context, kind Kind, limit, offset int) ([]*Item, error) {
	return lm.db.ListItems(ctx, kind, limit, offset)
}

func (lm *LibraryManager) CountItems(ctx context.Context, kind Kind) (int, error) {
	return lm.db.CountItems(ctx, kind)
}

// SearchRequest is a catalog search in the filter language.
type SearchRequest struct {
	Kind        Kind
	Or          string
	And         string
	OrderByName bool
	Limit       int
	Offset      int
}

// SearchResult holds the matches and the filter tokens that were ignored.
type SearchResult struct {
	Items   []*Item
	Dropped []DroppedToken
}

func (lm *LibraryManager) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	q := CompileFilter(req.Or, req.And)
	q.Kind, q.OrderByName, q.Limit, q.Offset = req.Kind, req.OrderByName, req.Limit, req.Offset
	items, err := lm.db.SearchItems(ctx, q)
	if err != nil {
		return nil, lm.done("search", logrus.Fields{}, err)
	}
	for _, d := range q.Dropped() {
		lm.log.WithFields(logrus.Fields{"token": d.Token, "reason": d.Reason}).Debug("filter token dropped")
	}
	return &SearchResult{Items: items, Dropped: q.Dropped()}, nil
}

// ------------------ Metadata ------------------

// LookupMetadata searches the external catalog and fetches up to limit
// drafts for the caller to pick from.
func (lm *LibraryManager) LookupMetadata(ctx context.Context, query string, limit int) ([]ItemDraft, error) {
	if lm.metadata == nil {
		return nil, metadataUnavailable("no board game catalog is configured", nil)
	}
	ids, err := lm.metadata.SearchIDs(ctx, query)
	if err != nil {
		lm.log.WithError(err).WithField("query", query).Warn("metadata search failed")
		return nil, metadataUnavailable("the board game catalog could not be reached, please retry later", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return []ItemDraft{}, nil
	}
	drafts, err := lm.metadata.FetchByIDs(ctx, ids)
	if err != nil {
		lm.log.WithError(err).WithField("query", query).Warn("metadata fetch failed")
		return nil, metadataUnavailable("the board game catalog could not be reached, please retry later", err)
	}
	return drafts, nil
}

// InsertBoardGameFromMetadata inserts a board game pre-filled from the
// external catalog. If the lookup fails and the overrides carry a name, the
// game is inserted from the overrides alone with unknown rank and rating;
// degraded reports that case.
func (lm *LibraryManager) InsertBoardGameFromMetadata(ctx context.Context, externalID int64, ov BoardGameOverrides) (id int64, degraded bool, err error) {
	var draft ItemDraft
	var lookupErr error
	if lm.metadata == nil {
		lookupErr = fmt.Errorf("no metadata source configured")
	} else {
		draft, lookupErr = fetchOne(ctx, lm.metadata, externalID)
	}

	if lookupErr != nil {
		lm.log.WithError(lookupErr).WithField("external_id", externalID).Warn("metadata lookup failed")
		if ov.Name == "" {
			return 0, false, metadataUnavailable(
				fmt.Sprintf("could not fetch board game %d, retry later or provide a name to insert it manually", externalID), lookupErr)
		}
		draft, degraded = fallbackDraft(externalID, ov), true
	} else {
		draft = applyOverrides(draft, externalID, ov)
	}

	id, err = lm.db.InsertItem(ctx, draft)
	return id, degraded, lm.done("import_boardgame",
		logrus.Fields{"item": id, "name": draft.Name, "external_id": externalID, "degraded": degraded}, err)
}

// ------------------ Lending ------------------

// Borrow opens a loan for req.User. Notices in the result are owed to the
// other interested users.
func (lm *LibraryManager) Borrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error) {
	res, err := lm.db.Borrow(ctx, req, lm.now())
	return res, lm.done("borrow", logrus.Fields{"user": req.User, "item": req.ItemID}, err)
}

func (lm *LibraryManager) Return(ctx context.Context, user UserID, itemID int64) (*ReturnResult, error) {
	res, err := lm.db.Return(ctx, user, itemID, lm.now())
	return res, lm.done("return", logrus.Fields{"user": user, "item": itemID}, err)
}

func (lm *LibraryManager) DeclareInterest(ctx context.Context, user UserID, itemID int64) (*InterestResult, error) {
	res, err := lm.db.DeclareInterest(ctx, user, itemID, lm.now())
	return res, lm.done("declare_interest", logrus.Fields{"user": user, "item": itemID}, err)
}

func (lm *LibraryManager) CancelInterest(ctx context.Context, user UserID, itemID int64) error {
	return lm.done("cancel_interest", logrus.Fields{"user": user, "item": itemID}, lm.db.CancelInterest(ctx, user, itemID))
}

func (lm *LibraryManager) Interests(ctx context.Context, itemID int64) ([]Interest, error) {
	return lm.db.Interests(ctx, itemID)
}

func (lm *LibraryManager) UserInterests(ctx context.Context, user UserID) ([]Interest, error) {
	return lm.db.UserInterests(ctx, user)
}

func (lm *LibraryManager) ListBorrows(ctx context.Context, q BorrowQuery) ([]Borrow, error) {
	return lm.db.ListBorrows(ctx, q)
}

func (lm *LibraryManager) CountBorrows(ctx context.Context, q BorrowQuery) (int, error) {
	return lm.db.CountBorrows(ctx, q)
}

// DueReminders lists unreminded open loans due within the reminder window.
func (lm *LibraryManager) DueReminders(ctx context.Context) ([]Borrow, error) {
	return lm.db.DueReminders(ctx, lm.now(), lm.reminderWindow)
}

func (lm *LibraryManager) MarkReminded(ctx context.Context, user UserID, itemID int64) error {
	return lm.done("mark_reminded", logrus.Fields{"user": user, "item": itemID}, lm.db.MarkReminded(ctx, user, itemID))
}

// SendReminders delivers one reminder per due loan and marks the loans whose
// reminder went out. Failed deliveries stay due for the next run.
func (lm *LibraryManager) SendReminders(ctx context.Context, sender Sender) (DeliveryReport, error) {
	due, err := lm.DueReminders(ctx)
	if err != nil {
		return DeliveryReport{}, err
	}
	notices := make([]Notice, 0, len(due))
	for _, b := range due {
		n := newNotice(NoticeReturnReminder, b.User, b.User, b.ItemID, b.ItemName, 0)
		n.DueAt = b.PlannedReturn
		notices = append(notices, n)
	}
	report := Deliver(ctx, sender, notices, lm.log)
	var errs []error
	for _, n := range report.Sent {
		if err := lm.MarkReminded(ctx, n.Recipient, n.ItemID); err != nil {
			lm.log.WithError(err).WithFields(logrus.Fields{"user": n.Recipient, "item": n.ItemID}).
				Error("reminder sent but not marked")
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// Deliver fans notices out through sender, isolating per-recipient failures.
func (lm *LibraryManager) Deliver(ctx context.Context, sender Sender, notices []Notice) DeliveryReport {
	return Deliver(ctx, sender, notices, lm.log)
}

// ------------------ Suggestions ------------------

// Suggest proposes a new item. Unless confirm is set, close existing names
// stop the insert and are returned in Similar.
func (lm *LibraryManager) Suggest(ctx context.Context, user UserID, text string, t SuggestionType, confirm bool) (*AddResult, error) {
	res, err := lm.db.AddSuggestion(ctx, user, text, t, confirm, lm.match, lm.now())
	if err == nil && !res.Created {
		lm.log.WithFields(logrus.Fields{"user": user, "suggestion": res.Name, "similar": len(res.Similar)}).
			Info("suggestion needs confirmation")
		return res, nil
	}
	name := SuggestionName(t, text)
	return res, lm.done("suggest", logrus.Fields{"user": user, "suggestion": name}, err)
}

// Vote records a vote on an exact name, or returns candidates on a miss.
func (lm *LibraryManager) Vote(ctx context.Context, user UserID, name string) (*VoteResult, error) {
	res, err := lm.db.VoteSuggestion(ctx, user, name, lm.match, lm.now())
	if err == nil && res.Voted == "" {
		return res, nil
	}
	return res, lm.done("vote", logrus.Fields{"user": user, "suggestion": name}, err)
}

// VoteBestMatch votes the exact name, or else the closest existing one. It
// never creates a suggestion.
func (lm *LibraryManager) VoteBestMatch(ctx context.Context, user UserID, text string) (*VoteResult, error) {
	res, err := lm.Vote(ctx, user, text)
	if err != nil || res.Voted != "" {
		return res, err
	}
	if len(res.Candidates) == 0 {
		return nil, lm.done("vote", logrus.Fields{"user": user, "suggestion": text},
			newError(NotFound, ReasonSuggestionNotFound, fmt.Sprintf("no suggestion resembles %q", text)))
	}
	best, err := lm.Vote(ctx, user, res.Candidates[0].Name)
	if err != nil {
		return nil, err
	}
	best.Candidates = res.Candidates
	return best, nil
}

func (lm *LibraryManager) Unvote(ctx context.Context, user UserID, name string) (bool, error) {
	deleted, err := lm.db.UnvoteSuggestion(ctx, user, name, lm.match)
	return deleted, lm.done("unvote", logrus.Fields{"user": user, "suggestion": name, "deleted": deleted}, err)
}

func (lm *LibraryManager) UpdateSuggestionStatus(ctx context.Context, name string, status SuggestionStatus) error {
	err := lm.db.UpdateSuggestionStatus(ctx, name, status, lm.match)
	return lm.done("suggestion_status", logrus.Fields{"suggestion": name, "status": status}, err)
}

func (lm *LibraryManager) MergeSuggestions(ctx context.Context, into, from string) (*MergeResult, error) {
	res, err := lm.db.MergeSuggestions(ctx, into, from, lm.match)
	return res, lm.done("merge_suggestions", logrus.Fields{"suggestion": into, "from": from}, err)
}

func (lm *LibraryManager) DeleteSuggestion(ctx context.Context, name string) (string, error) {
	stored, err := lm.db.DeleteSuggestion(ctx, name, lm.match)
	return stored, lm.done("delete_suggestion", logrus.Fields{"suggestion": name}, err)
}

func (lm *LibraryManager) ListSuggestions(ctx context.Context, t SuggestionType, status SuggestionStatus) ([]*Suggestion, error) {
	return lm.db.ListSuggestions(ctx, t, status)
}

func (lm *LibraryManager) GetSuggestion(ctx context.Context, name string) (*Suggestion, error) {
	return lm.db.GetSuggestion(ctx, name, lm.match)
}

func (lm *LibraryManager) SuggestionAlternatives(ctx context.Context, text string) ([]Match, error) {
	return lm.db.Alternatives(ctx, text, lm.match)
}

// ------------------ Stats ------------------

func (lm *LibraryManager) UserStats(ctx context.Context, order StatsOrder) ([]UserStat, error) {
	return lm.db.UserStats(ctx, order)
}

func (lm *LibraryManager) ItemStats(ctx context.Context, order StatsOrder) ([]ItemStat, error) {
	return lm.db.ItemStats(ctx, order)
}

func (lm *LibraryManager) Overdue(ctx context.Context) ([]Borrow, error) {
	return lm.db.Overdue(ctx, lm.now())
}

// DueSoon lists open loans due within the reminder window.
func (lm *LibraryManager) DueSoon(ctx context.Context) ([]Borrow, error) {
	return lm.db.DueSoon(ctx, lm.now(), lm.reminderWindow)
}
