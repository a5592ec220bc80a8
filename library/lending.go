package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BorrowRequest describes one pickup. A nil Retrieval means "now".
type BorrowRequest struct {
	User          UserID
	ItemID        int64
	PlannedReturn *time.Time
	Retrieval     *time.Time
}

// BorrowResult is what a successful borrow hands back to the caller.
type BorrowResult struct {
	Item *Item
	// CopiesAvailable is the raw count after the new loan.
	CopiesAvailable int
	// ClearedInterest is set when the borrower's own waitlist entry was closed.
	ClearedInterest bool
	// Notices go to every other user interested in the item.
	Notices []Notice
}

// ReturnResult is what a successful return hands back to the caller.
type ReturnResult struct {
	Item            *Item
	CopiesAvailable int
	Interested      []UserID
	Notices         []Notice
}

// InterestResult carries the users already waiting for the item.
type InterestResult struct {
	Item    *Item
	Others  []UserID
	Notices []Notice
}

// ---------------------------------------------------------------------------
// Borrow / return
// ---------------------------------------------------------------------------

// Borrow opens a loan. Checks run in a fixed order: item exists, no open loan
// for the pair, a copy is free, planned return not before retrieval, retrieval
// not in the future.
func (d *Database) Borrow(ctx context.Context, req BorrowRequest, now time.Time) (*BorrowResult, error) {
	retrieval := now
	if req.Retrieval != nil {
		retrieval = *req.Retrieval
	}

	var res BorrowResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		item, err := d.getItem(ctx, tx, req.ItemID)
		if err != nil {
			return err
		}

		open, err := hasOpenBorrow(ctx, tx, req.User, req.ItemID)
		if err != nil {
			return err
		}
		if open {
			return newError(Conflict, ReasonAlreadyBorrowed,
				fmt.Sprintf("you are already borrowing %q, return it first", item.Name))
		}
		if item.CopiesAvailable <= 0 {
			return newError(Unavailable, ReasonNoCopiesAvailable,
				fmt.Sprintf("no copies of %q are available right now, declare interest to be notified", item.Name))
		}
		if req.PlannedReturn != nil && req.PlannedReturn.Before(retrieval) {
			return newError(InvalidInput, ReasonInvalidDateRange,
				fmt.Sprintf("planned return %s is before retrieval %s", req.PlannedReturn.Format(time.DateOnly), retrieval.Format(time.DateOnly)))
		}
		if req.Retrieval != nil && req.Retrieval.After(now) {
			return newError(InvalidInput, ReasonRetrievalInFuture,
				fmt.Sprintf("retrieval date %s is in the future, only record pickups that already happened", req.Retrieval.Format(time.DateOnly)))
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO borrows(user_id,item_id,retrieved_at,planned_return) VALUES(?,?,?,?)`,
			int64(req.User), req.ItemID, retrieval.Unix(), unixOrNil(req.PlannedReturn)); err != nil {
			if isUniqueViolation(err) {
				return newError(Conflict, ReasonAlreadyBorrowed, fmt.Sprintf("you are already borrowing %q, return it first", item.Name))
			}
			return err
		}

		cleared, err := tx.ExecContext(ctx, `DELETE FROM interests WHERE user_id = ? AND item_id = ?`, int64(req.User), req.ItemID)
		if err != nil {
			return err
		}
		if n, err := cleared.RowsAffected(); err == nil && n > 0 {
			res.ClearedInterest = true
		}

		if res.CopiesAvailable, err = d.copiesAvailable(ctx, tx, req.ItemID); err != nil {
			return err
		}
		others, err := interestHolders(ctx, tx, req.ItemID, req.User)
		if err != nil {
			return err
		}
		item.CopiesAvailable = res.CopiesAvailable
		res.Item = item
		res.Notices = noticesFor(NoticeItemBorrowed, others, req.User, item, res.CopiesAvailable)
		return nil
	})
	if err != nil {
		return nil, wrapStore("borrow", err)
	}
	return &res, nil
}

// Return closes the open loan of user on item.
func (d *Database) Return(ctx context.Context, user UserID, itemID int64, now time.Time) (*ReturnResult, error) {
	var res ReturnResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		item, err := d.getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		r, err := tx.ExecContext(ctx, `UPDATE borrows SET returned_at = ? WHERE user_id = ? AND item_id = ? AND returned_at IS NULL`,
			now.Unix(), int64(user), itemID)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return newError(NotFound, ReasonNotBorrowing, fmt.Sprintf("you are not borrowing %q", item.Name))
		}

		if res.CopiesAvailable, err = d.copiesAvailable(ctx, tx, itemID); err != nil {
			return err
		}
		if res.Interested, err = interestHolders(ctx, tx, itemID, user); err != nil {
			return err
		}
		item.CopiesAvailable = res.CopiesAvailable
		res.Item = item
		res.Notices = noticesFor(NoticeItemReturned, res.Interested, user, item, res.CopiesAvailable)
		return nil
	})
	if err != nil {
		return nil, wrapStore("return", err)
	}
	return &res, nil
}

func hasOpenBorrow(ctx context.Context, q queryer, user UserID, itemID int64) (bool, error) {
	var open bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM borrows WHERE user_id = ? AND item_id = ? AND returned_at IS NULL)`,
		int64(user), itemID).Scan(&open)
	return open, err
}

// ---------------------------------------------------------------------------
// Interest
// ---------------------------------------------------------------------------

// DeclareInterest adds user to the waitlist of the item and returns the users
// who were already on it.
func (d *Database) DeclareInterest(ctx context.Context, user UserID, itemID int64, now time.Time) (*InterestResult, error) {
	var res InterestResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		item, err := d.getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM interests WHERE user_id = ? AND item_id = ?)`,
			int64(user), itemID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return newError(Conflict, ReasonAlreadyInterested, fmt.Sprintf("you already declared interest in %q", item.Name))
		}
		if res.Others, err = interestHolders(ctx, tx, itemID, user); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO interests(user_id,item_id,declared_at) VALUES(?,?,?)`,
			int64(user), itemID, now.Unix()); err != nil {
			return err
		}
		res.Item = item
		res.Notices = noticesFor(NoticeInterestDeclared, res.Others, user, item, item.CopiesAvailable)
		return nil
	})
	if err != nil {
		return nil, wrapStore("declare interest", err)
	}
	return &res, nil
}

// CancelInterest removes user from the waitlist of the item. The item itself
// may already be deleted.
func (d *Database) CancelInterest(ctx context.Context, user UserID, itemID int64) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx, `DELETE FROM interests WHERE user_id = ? AND item_id = ?`, int64(user), itemID)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return newError(NotFound, ReasonNotInterested, fmt.Sprintf("you have no interest declared in item %d", itemID))
		}
		return nil
	})
	return wrapStore("cancel interest", err)
}

// interestHolders lists the waitlist of an item in declaration order, without
// exclude.
func interestHolders(ctx context.Context, q queryer, itemID int64, exclude UserID) ([]UserID, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM interests WHERE item_id = ? AND user_id != ? ORDER BY declared_at, user_id`,
		itemID, int64(exclude))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []UserID{}
	for rows.Next() {
		var u int64
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, UserID(u))
	}
	return users, rows.Err()
}

// Interests lists the waitlist of one item.
func (d *Database) Interests(ctx context.Context, itemID int64) ([]Interest, error) {
	out, err := d.queryInterests(ctx, `WHERE n.item_id = ?`, itemID)
	return out, wrapStore("list interests", err)
}

// UserInterests lists every item user is waiting for.
func (d *Database) UserInterests(ctx context.Context, user UserID) ([]Interest, error) {
	out, err := d.queryInterests(ctx, `WHERE n.user_id = ?`, int64(user))
	return out, wrapStore("list interests", err)
}

func (d *Database) queryInterests(ctx context.Context, where string, arg any) ([]Interest, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT n.user_id, n.item_id, COALESCE(i.name, ''), n.declared_at
        FROM interests n LEFT JOIN items i ON i.id = n.item_id `+where+` ORDER BY n.declared_at, n.user_id, n.item_id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Interest{}
	for rows.Next() {
		var in Interest
		var user, declared int64
		if err := rows.Scan(&user, &in.ItemID, &in.ItemName, &declared); err != nil {
			return nil, err
		}
		in.User = UserID(user)
		in.DeclaredAt = time.Unix(declared, 0)
		out = append(out, in)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Reminders
// ---------------------------------------------------------------------------

// DueReminders returns open loans whose planned return is before now+within
// and that have not been reminded yet, soonest first.
func (d *Database) DueReminders(ctx context.Context, now time.Time, within time.Duration) ([]Borrow, error) {
	out, err := d.queryBorrows(ctx, `WHERE b.returned_at IS NULL AND b.reminder_sent = 0
            AND b.planned_return IS NOT NULL AND b.planned_return <= ?`,
		` ORDER BY b.planned_return, b.id`, now.Add(within).Unix())
	return out, wrapStore("due reminders", err)
}

// MarkReminded flags the open loan of user on item as reminded. Marking twice,
// or marking a pair without an open loan, is not an error.
func (d *Database) MarkReminded(ctx context.Context, user UserID, itemID int64) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE borrows SET reminder_sent = 1 WHERE user_id = ? AND item_id = ? AND returned_at IS NULL`,
			int64(user), itemID)
		return err
	})
	return wrapStore("mark reminded", err)
}

// ---------------------------------------------------------------------------
// Loan listings
// ---------------------------------------------------------------------------

// BorrowQuery filters loan listings. Zero values mean "any".
type BorrowQuery struct {
	User     *UserID
	ItemID   *int64
	OpenOnly bool
	Limit    int
	Offset   int
}

func (bq BorrowQuery) where() (string, []any) {
	var conds []string
	var args []any
	if bq.User != nil {
		conds = append(conds, "b.user_id = ?")
		args = append(args, int64(*bq.User))
	}
	if bq.ItemID != nil {
		conds = append(conds, "b.item_id = ?")
		args = append(args, *bq.ItemID)
	}
	if bq.OpenOnly {
		conds = append(conds, "b.returned_at IS NULL")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ListBorrows pages through loans, most recent pickup first.
func (d *Database) ListBorrows(ctx context.Context, bq BorrowQuery) ([]Borrow, error) {
	where, args := bq.where()
	tail := ` ORDER BY b.retrieved_at DESC, b.id DESC`
	if bq.Limit > 0 {
		tail += ` LIMIT ? OFFSET ?`
		args = append(args, bq.Limit, bq.Offset)
	}
	out, err := d.queryBorrows(ctx, where, tail, args...)
	return out, wrapStore("list borrows", err)
}

// CountBorrows counts loans matching bq, ignoring paging.
func (d *Database) CountBorrows(ctx context.Context, bq BorrowQuery) (int, error) {
	where, args := bq.where()
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrows b `+where, args...).Scan(&n)
	return n, wrapStore("count borrows", err)
}

// queryBorrows joins on items leniently: loans of deleted items keep an
// empty name.
func (d *Database) queryBorrows(ctx context.Context, where, tail string, args ...any) ([]Borrow, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT b.user_id, b.item_id, COALESCE(i.name, ''), b.retrieved_at,
            b.planned_return, b.returned_at, b.reminder_sent
        FROM borrows b LEFT JOIN items i ON i.id = b.item_id `+where+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Borrow{}
	for rows.Next() {
		var b Borrow
		var user, retrieved int64
		var planned, returned sql.NullInt64
		if err := rows.Scan(&user, &b.ItemID, &b.ItemName, &retrieved, &planned, &returned, &b.ReminderSent); err != nil {
			return nil, err
		}
		b.User = UserID(user)
		b.RetrievedAt = time.Unix(retrieved, 0)
		b.PlannedReturn = timeFromNull(planned)
		b.ReturnedAt = timeFromNull(returned)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ParseDate parses a user-supplied date in the local zone. The error names
// the expected layout so the user can correct the input.
func ParseDate(text, layout string) (time.Time, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(text), time.Local)
	if err != nil {
		return time.Time{}, newError(InvalidInput, ReasonInvalidDate,
			fmt.Sprintf("invalid date %q, expected format %s", text, layout))
	}
	return t, nil
}
