package library

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Op is a comparison operator of the filter language.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpGe Op = ">="
	OpLe Op = "<="
	OpGt Op = ">"
	OpLt Op = "<"
)

// operators is ordered so two-character operators are tried before their
// one-character prefixes.
var operators = []Op{OpEq, OpNe, OpGe, OpLe, OpGt, OpLt}

var sqlOps = map[Op]string{OpEq: "=", OpNe: "!=", OpGe: ">=", OpLe: "<=", OpGt: ">", OpLt: "<"}

type valueType int

const (
	intValue valueType = iota
	stringValue
	difficultyValue
	platformValue
)

// field is one entry of the fixed key map. column is the only text that ever
// reaches the SQL string from a filter.
type field struct {
	prefix    string
	column    string
	typ       valueType
	rangeable bool
}

var keyMap = []field{
	{prefix: "id", column: "id", typ: intValue},
	{prefix: "name", column: "name_key", typ: stringValue},
	{prefix: "play", column: "play_difficulty", typ: difficultyValue, rangeable: true},
	{prefix: "learn", column: "learn_difficulty", typ: difficultyValue, rangeable: true},
	{prefix: "diff", column: "difficulty", typ: difficultyValue, rangeable: true},
	{prefix: "min", column: "min_players", typ: intValue, rangeable: true},
	{prefix: "max", column: "max_players", typ: intValue, rangeable: true},
	{prefix: "platform", column: "platform", typ: platformValue},
	{prefix: "genre", column: "genre", typ: stringValue},
	{prefix: "pages", column: "pages", typ: intValue, rangeable: true},
	{prefix: "length", column: "length", typ: intValue, rangeable: true},
}

// Predicate is one compiled comparison. Value is already typed (int for
// numbers and enums, string for text).
type Predicate struct {
	Key    string
	Column string
	Op     Op
	Value  any
}

// DroppedToken is a filter fragment that was ignored, with the reason.
type DroppedToken struct {
	Token  string
	Reason string
}

// FilterGroup is the best-effort result of parsing one comma-separated list:
// the predicates that compiled and the tokens that did not.
type FilterGroup struct {
	Predicates []Predicate
	Dropped    []DroppedToken
}

// ParseFilter parses "key<op>value, key<op>value, ...". Tokens that cannot be
// resolved are dropped and reported, never returned as an error, so a typo
// only loosens the search.
func ParseFilter(input string) FilterGroup {
	var g FilterGroup
	if strings.TrimSpace(input) == "" {
		return g
	}
	for _, token := range strings.Split(input, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		p, reason := parseToken(token)
		if reason != "" {
			g.Dropped = append(g.Dropped, DroppedToken{Token: strings.TrimSpace(token), Reason: reason})
			continue
		}
		g.Predicates = append(g.Predicates, p)
	}
	return g
}

func parseToken(token string) (Predicate, string) {
	rawKey, op, rawValue, ok := splitToken(token)
	if !ok {
		return Predicate{}, "no comparison operator"
	}
	key := normalizeKey(rawKey)
	f, ok := resolveKey(key)
	if !ok {
		return Predicate{}, fmt.Sprintf("unknown key %q", strings.TrimSpace(rawKey))
	}
	if !f.rangeable && op != OpEq && op != OpNe {
		return Predicate{}, fmt.Sprintf("%s only supports == and !=", f.prefix)
	}
	value, err := convertValue(f, strings.TrimSpace(rawValue))
	if err != nil {
		return Predicate{}, err.Error()
	}
	return Predicate{Key: f.prefix, Column: f.column, Op: op, Value: value}, ""
}

func splitToken(token string) (key string, op Op, value string, ok bool) {
	for _, candidate := range operators {
		if i := strings.Index(token, string(candidate)); i >= 0 {
			return token[:i], candidate, token[i+len(candidate):], true
		}
	}
	return "", "", "", false
}

// normalizeKey strips whitespace and underscores and lower-cases, so
// "Min Players" and "min_players" both become "minplayers".
func normalizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' {
			return -1
		}
		return unicode.ToLower(r)
	}, k)
}

func resolveKey(key string) (field, bool) {
	if key == "" {
		return field{}, false
	}
	for _, f := range keyMap {
		if strings.HasPrefix(key, f.prefix) {
			return f, true
		}
	}
	return field{}, false
}

func convertValue(f field, raw string) (any, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty value for %s", f.prefix)
	}
	switch f.typ {
	case intValue:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", f.prefix, raw)
		}
		return n, nil
	case difficultyValue:
		d, err := ParseDifficulty(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a difficulty, got %q", f.prefix, raw)
		}
		return int(d), nil
	case platformValue:
		if strings.EqualFold(raw, PlatformUndefined.String()) {
			return int(PlatformUndefined), nil
		}
		p, err := ParsePlatform(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a platform, got %q", f.prefix, raw)
		}
		return int(p), nil
	default:
		return raw, nil
	}
}

// sql renders one predicate as a fragment with a single placeholder.
func (p Predicate) sql() (string, any) {
	switch p.Column {
	case "name_key":
		// Names always match as a case-insensitive substring, whatever the operator.
		return `name_key LIKE ? ESCAPE '\'`, "%" + escapeLike(foldName(p.Value.(string))) + "%"
	case "genre":
		return fmt.Sprintf("genre %s ? COLLATE NOCASE", sqlOps[p.Op]), p.Value
	default:
		return fmt.Sprintf("%s %s ?", p.Column, sqlOps[p.Op]), p.Value
	}
}

// FilterQuery is a compiled catalog search: (Or...) AND (And...), optionally
// restricted to one kind, ordered and paged.
type FilterQuery struct {
	Kind        Kind
	Or          FilterGroup
	And         FilterGroup
	OrderByName bool
	Limit       int
	Offset      int
}

// CompileFilter parses the OR group and the AND group.
func CompileFilter(orFilters, andFilters string) FilterQuery {
	return FilterQuery{Or: ParseFilter(orFilters), And: ParseFilter(andFilters)}
}

// Dropped lists every ignored token of both groups.
func (q FilterQuery) Dropped() []DroppedToken {
	out := make([]DroppedToken, 0, len(q.Or.Dropped)+len(q.And.Dropped))
	out = append(out, q.Or.Dropped...)
	return append(out, q.And.Dropped...)
}

// SQL builds the id query over the catalog view. Values only ever appear in
// the returned args.
func (q FilterQuery) SQL() (string, []any) {
	var clauses []string
	var args []any

	group := func(preds []Predicate, joiner string) {
		if len(preds) == 0 {
			return
		}
		parts := make([]string, 0, len(preds))
		for _, p := range preds {
			frag, arg := p.sql()
			parts = append(parts, frag)
			args = append(args, arg)
		}
		clauses = append(clauses, "("+strings.Join(parts, joiner)+")")
	}
	group(q.Or.Predicates, " OR ")
	group(q.And.Predicates, " AND ")
	if q.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(q.Kind))
	}

	var sb strings.Builder
	sb.WriteString("SELECT id FROM catalog")
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	if q.OrderByName {
		sb.WriteString(" ORDER BY name ASC")
	} else {
		sb.WriteString(" ORDER BY id ASC")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	}
	return sb.String(), args
}

// SearchItems runs a compiled filter and loads the matching items.
func (d *Database) SearchItems(ctx context.Context, q FilterQuery) ([]*Item, error) {
	query, args := q.SQL()
	ids, err := d.queryIDs(ctx, query, args...)
	if err != nil {
		return nil, wrapStore("search items", err)
	}
	items, err := d.itemsByIDs(ctx, ids)
	return items, wrapStore("search items", err)
}
