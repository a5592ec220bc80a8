package library

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StatsOrder selects how aggregate rows are sorted.
type StatsOrder string

const (
	OrderMostBorrowed StatsOrder = "borrowed"
	OrderMostRecent   StatsOrder = "recent"
	OrderAlphabetical StatsOrder = "alpha"
)

// ParseStatsOrder accepts "borrowed", "recent" or "alpha" (or a prefix).
func ParseStatsOrder(s string) (StatsOrder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OrderMostBorrowed, nil
	}
	for _, o := range []StatsOrder{OrderMostBorrowed, OrderMostRecent, OrderAlphabetical} {
		if strings.HasPrefix(string(o), s) {
			return o, nil
		}
	}
	return "", newError(InvalidInput, ReasonInvalidEnum,
		fmt.Sprintf("invalid order %q, options are: borrowed, recent, alpha", s))
}

// UserStat aggregates the loans of one user.
type UserStat struct {
	User       UserID    `json:"user"`
	Borrows    int       `json:"borrows"`
	Open       int       `json:"open"`
	LastBorrow time.Time `json:"last_borrow"`
}

// ItemStat aggregates the loans of one item. Name is empty for deleted items.
type ItemStat struct {
	ItemID     int64     `json:"item_id"`
	ItemName   string    `json:"item_name"`
	Borrows    int       `json:"borrows"`
	Open       int       `json:"open"`
	LastBorrow time.Time `json:"last_borrow"`
}

// orderClause maps an order onto the aggregate columns. key is the
// alphabetical sort expression.
func orderClause(order StatsOrder, key string) string {
	switch order {
	case OrderMostRecent:
		return ` ORDER BY last_borrow DESC, ` + key + ` ASC`
	case OrderAlphabetical:
		return ` ORDER BY ` + key + ` ASC`
	default:
		return ` ORDER BY loans DESC, ` + key + ` ASC`
	}
}

// UserStats aggregates loans per user. Alphabetical order is by user id.
func (d *Database) UserStats(ctx context.Context, order StatsOrder) ([]UserStat, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT b.user_id,
            COUNT(*) AS loans,
            SUM(CASE WHEN b.returned_at IS NULL THEN 1 ELSE 0 END),
            MAX(b.retrieved_at) AS last_borrow
        FROM borrows b GROUP BY b.user_id`+orderClause(order, "b.user_id"))
	if err != nil {
		return nil, wrapStore("user stats", err)
	}
	defer rows.Close()
	out := []UserStat{}
	for rows.Next() {
		var s UserStat
		var user, last int64
		if err := rows.Scan(&user, &s.Borrows, &s.Open, &last); err != nil {
			return nil, wrapStore("user stats", err)
		}
		s.User, s.LastBorrow = UserID(user), time.Unix(last, 0)
		out = append(out, s)
	}
	return out, wrapStore("user stats", rows.Err())
}

// ItemStats aggregates loans per item, including items deleted since.
func (d *Database) ItemStats(ctx context.Context, order StatsOrder) ([]ItemStat, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT b.item_id, COALESCE(i.name, '') AS item_name,
            COUNT(*) AS loans,
            SUM(CASE WHEN b.returned_at IS NULL THEN 1 ELSE 0 END),
            MAX(b.retrieved_at) AS last_borrow
        FROM borrows b LEFT JOIN items i ON i.id = b.item_id
        GROUP BY b.item_id`+orderClause(order, "item_name COLLATE NOCASE, b.item_id"))
	if err != nil {
		return nil, wrapStore("item stats", err)
	}
	defer rows.Close()
	out := []ItemStat{}
	for rows.Next() {
		var s ItemStat
		var last int64
		if err := rows.Scan(&s.ItemID, &s.ItemName, &s.Borrows, &s.Open, &last); err != nil {
			return nil, wrapStore("item stats", err)
		}
		s.LastBorrow = time.Unix(last, 0)
		out = append(out, s)
	}
	return out, wrapStore("item stats", rows.Err())
}

// Overdue lists open loans whose planned return has passed, reminded or not.
func (d *Database) Overdue(ctx context.Context, now time.Time) ([]Borrow, error) {
	out, err := d.queryBorrows(ctx, `WHERE b.returned_at IS NULL AND b.planned_return IS NOT NULL AND b.planned_return < ?`,
		` ORDER BY b.planned_return, b.id`, now.Unix())
	return out, wrapStore("overdue loans", err)
}

// DueSoon lists open loans due between now and now+window.
func (d *Database) DueSoon(ctx context.Context, now time.Time, window time.Duration) ([]Borrow, error) {
	out, err := d.queryBorrows(ctx, `WHERE b.returned_at IS NULL AND b.planned_return IS NOT NULL
            AND b.planned_return >= ? AND b.planned_return <= ?`,
		` ORDER BY b.planned_return, b.id`, now.Unix(), now.Add(window).Unix())
	return out, wrapStore("due soon", err)
}
