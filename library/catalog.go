package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Catalog writes
// ---------------------------------------------------------------------------

func validateDraft(draft ItemDraft) error {
	if strings.TrimSpace(draft.Name) == "" {
		return newError(InvalidInput, ReasonInvalidField, "item name cannot be empty")
	}
	if draft.TotalCopies < 1 {
		return newError(InvalidInput, ReasonInvalidCopies,
			fmt.Sprintf("%q needs at least 1 copy, got %d", draft.Name, draft.TotalCopies))
	}
	var minP, maxP int
	switch d := draft.Details.(type) {
	case BoardGameDetails:
		minP, maxP = d.MinPlayers, d.MaxPlayers
	case VideoGameDetails:
		minP, maxP = d.MinPlayers, d.MaxPlayers
	case BookDetails:
	case nil:
		return newError(InvalidInput, ReasonInvalidKind, fmt.Sprintf("%q has no item type", draft.Name))
	default:
		return newError(InvalidInput, ReasonInvalidKind, fmt.Sprintf("%q has an unknown item type %T", draft.Name, d))
	}
	if minP < 0 || maxP < 0 || (maxP > 0 && minP > maxP) {
		return newError(InvalidInput, ReasonInvalidField,
			fmt.Sprintf("%q has an invalid player range %d-%d", draft.Name, minP, maxP))
	}
	return nil
}

// InsertItem writes the base row, the specialization row and one category row
// per tag in one transaction. The id is one past the highest id ever seen in
// items, loans or waitlists, or 0 for a fresh catalog. Loans and waitlists
// outlive their item, so a deleted id is never handed out again.
func (d *Database) InsertItem(ctx context.Context, draft ItemDraft) (int64, error) {
	if err := validateDraft(draft); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(draft.Name)
	key := foldName(name)

	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE name_key = ?)`, key).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return newError(Conflict, ReasonDuplicateName, fmt.Sprintf("an item named %q already exists", name))
		}

		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM (
            SELECT id FROM items
            UNION ALL SELECT item_id FROM borrows
            UNION ALL SELECT item_id FROM interests)`).Scan(&id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items(id,name,name_key,kind,description,thumbnail,total_copies) VALUES(?,?,?,?,?,?,?)`,
			id, name, key, string(draft.Details.Kind()), draft.Description, draft.Thumbnail, draft.TotalCopies); err != nil {
			if isUniqueViolation(err) {
				return newError(Conflict, ReasonDuplicateName, fmt.Sprintf("an item named %q already exists", name))
			}
			return err
		}

		if err := insertDetails(ctx, tx, id, draft.Details); err != nil {
			return err
		}

		for pos, tag := range uniqueTags(draft.Categories) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO categories(item_id,category,position) VALUES(?,?,?)`, id, tag, pos); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrapStore("insert item", err)
	}
	return id, nil
}

func insertDetails(ctx context.Context, tx *sql.Tx, id int64, details Details) error {
	var err error
	switch dt := details.(type) {
	case BoardGameDetails:
		_, err = tx.ExecContext(ctx, `INSERT INTO boardgames(id,min_players,max_players,playing_time,learn_difficulty,play_difficulty,external_ref,bgg_rank,avg_rating,bgg_rating)
            VALUES(?,?,?,?,?,?,?,?,?,?)`,
			id, dt.MinPlayers, dt.MaxPlayers, dt.PlayingTime, int(dt.LearnDifficulty), int(dt.PlayDifficulty),
			nullableInt(dt.ExternalRef), nullableInt(dt.Rank), nullableFloat(dt.AvgRating), nullableFloat(dt.BGGRating))
	case VideoGameDetails:
		_, err = tx.ExecContext(ctx, `INSERT INTO videogames(id,min_players,max_players,playing_time,difficulty,platform) VALUES(?,?,?,?,?,?)`,
			id, dt.MinPlayers, dt.MaxPlayers, dt.PlayingTime, int(dt.Difficulty), int(dt.Platform))
	case BookDetails:
		_, err = tx.ExecContext(ctx, `INSERT INTO books(id,author,pages,genre) VALUES(?,?,?,?)`,
			id, dt.Author, dt.Pages, dt.Genre)
	default:
		err = fmt.Errorf("unknown details type %T", details)
	}
	return err
}

// DeleteItem removes an item with its specialization and categories. Loans
// and interest rows are history and stay.
func (d *Database) DeleteItem(ctx context.Context, id int64) (string, error) {
	var name string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT name FROM items WHERE id = ?`, id).Scan(&name); err != nil {
			if err == sql.ErrNoRows {
				return itemNotFound(id)
			}
			return err
		}
		for _, q := range []string{
			`DELETE FROM categories WHERE item_id = ?`,
			`DELETE FROM boardgames WHERE id = ?`,
			`DELETE FROM videogames WHERE id = ?`,
			`DELETE FROM books WHERE id = ?`,
			`DELETE FROM items WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	return name, wrapStore("delete item", err)
}

// EditCopyCount sets the total number of copies. Zero is allowed (the item
// stays listed but cannot be borrowed).
func (d *Database) EditCopyCount(ctx context.Context, id int64, copies int) error {
	if copies < 0 {
		return newError(InvalidInput, ReasonInvalidCopies, fmt.Sprintf("copy count cannot be negative, got %d", copies))
	}
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE items SET total_copies = ? WHERE id = ?`, copies, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return itemNotFound(id)
		}
		return nil
	})
	return wrapStore("edit copies", err)
}

func itemNotFound(id int64) *Error {
	return newError(NotFound, ReasonItemNotFound, fmt.Sprintf("no item with id %d", id))
}

// ---------------------------------------------------------------------------
// Catalog reads
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var it Item
	var kind string
	if err := r.Scan(&it.ID, &it.Name, &kind, &it.Description, &it.Thumbnail, &it.TotalCopies, &it.CopiesAvailable); err != nil {
		return nil, err
	}
	it.Kind = Kind(kind)
	return &it, nil
}

// getItem reads one item through q so transactions see their own writes.
func (d *Database) getItem(ctx context.Context, q queryer, id int64) (*Item, error) {
	it, err := scanItem(stmt(ctx, q, d.itemStmt).QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, itemNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if it.Categories, err = categoriesOf(ctx, q, id); err != nil {
		return nil, err
	}
	return it, nil
}

// copiesAvailable is totalCopies minus open borrows. It may go negative if
// copies were edited below the number of open loans.
func (d *Database) copiesAvailable(ctx context.Context, q queryer, id int64) (int, error) {
	var total, open int
	if err := q.QueryRowContext(ctx, `SELECT total_copies FROM items WHERE id = ?`, id).Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			return 0, itemNotFound(id)
		}
		return 0, err
	}
	if err := stmt(ctx, q, d.openCountStmt).QueryRowContext(ctx, id).Scan(&open); err != nil {
		return 0, err
	}
	return total - open, nil
}

func categoriesOf(ctx context.Context, q queryer, id int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT category FROM categories WHERE item_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cats := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetItem fetches one item with its computed availability.
func (d *Database) GetItem(ctx context.Context, id int64) (*Item, error) {
	it, err := d.getItem(ctx, d.db, id)
	return it, wrapStore("get item", err)
}

// GetItemView fetches an item and the specialization row selected by its
// stored kind.
func (d *Database) GetItemView(ctx context.Context, id int64) (*ItemView, error) {
	it, err := d.getItem(ctx, d.db, id)
	if err != nil {
		return nil, wrapStore("get item", err)
	}
	view := &ItemView{Item: *it}
	switch it.Kind {
	case KindBoardGame:
		var bg BoardGameDetails
		var learn, play int
		var ext, rank sql.NullInt64
		var avg, bggr sql.NullFloat64
		err = d.db.QueryRowContext(ctx, `SELECT min_players,max_players,playing_time,learn_difficulty,play_difficulty,external_ref,bgg_rank,avg_rating,bgg_rating
            FROM boardgames WHERE id = ?`, id).
			Scan(&bg.MinPlayers, &bg.MaxPlayers, &bg.PlayingTime, &learn, &play, &ext, &rank, &avg, &bggr)
		bg.LearnDifficulty, bg.PlayDifficulty = Difficulty(learn), Difficulty(play)
		bg.ExternalRef, bg.Rank = intFromNull(ext), intFromNull(rank)
		bg.AvgRating, bg.BGGRating = floatFromNull(avg), floatFromNull(bggr)
		view.Details = bg
	case KindVideoGame:
		var vg VideoGameDetails
		var diff, plat int
		err = d.db.QueryRowContext(ctx, `SELECT min_players,max_players,playing_time,difficulty,platform FROM videogames WHERE id = ?`, id).
			Scan(&vg.MinPlayers, &vg.MaxPlayers, &vg.PlayingTime, &diff, &plat)
		vg.Difficulty, vg.Platform = Difficulty(diff), Platform(plat)
		view.Details = vg
	case KindBook:
		var bk BookDetails
		err = d.db.QueryRowContext(ctx, `SELECT author,pages,genre FROM books WHERE id = ?`, id).
			Scan(&bk.Author, &bk.Pages, &bk.Genre)
		view.Details = bk
	default:
		err = fmt.Errorf("item %d has unknown kind %q", id, it.Kind)
	}
	if err != nil {
		return nil, wrapStore("get item details", err)
	}
	return view, nil
}

// itemsByIDs loads items preserving the order of ids.
func (d *Database) itemsByIDs(ctx context.Context, ids []int64) ([]*Item, error) {
	items := make([]*Item, 0, len(ids))
	for _, id := range ids {
		it, err := d.getItem(ctx, d.db, id)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// FindItemsByName returns items whose name contains query, ignoring case.
// kind may be empty to search every kind.
func (d *Database) FindItemsByName(ctx context.Context, query string, kind Kind) ([]*Item, error) {
	key := foldName(query)
	if key == "" {
		return []*Item{}, nil
	}
	q := `SELECT id FROM items WHERE name_key LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(key) + "%"}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	// An exact match sorts first so "Go" finds Go before "Go Fish".
	q += ` ORDER BY name_key = ? DESC, name_key ASC`
	args = append(args, key)
	ids, err := d.queryIDs(ctx, q, args...)
	if err != nil {
		return nil, wrapStore("find items", err)
	}
	items, err := d.itemsByIDs(ctx, ids)
	return items, wrapStore("find items", err)
}

// ListItems pages through the catalog ordered by id.
func (d *Database) ListItems(ctx context.Context, kind Kind, limit, offset int) ([]*Item, error) {
	q := `SELECT id FROM items`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY id`
	if limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	ids, err := d.queryIDs(ctx, q, args...)
	if err != nil {
		return nil, wrapStore("list items", err)
	}
	items, err := d.itemsByIDs(ctx, ids)
	return items, wrapStore("list items", err)
}

// CountItems counts catalog items, optionally of one kind.
func (d *Database) CountItems(ctx context.Context, kind Kind) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	} else {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE kind = ?`, string(kind)).Scan(&n)
	}
	return n, wrapStore("count items", err)
}

func (d *Database) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intFromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
