// Package ir is the in-memory representation of a parsed query.json query:
// a select list, a from table, a conjunctive where list, optional group_by
// and order_by lists, and an optional limit (spec §4.1).
//
// Each variant field (SelectItem's bare-column-vs-aggregate choice,
// Predicate's operator, OrderItem's direction) is modeled as a discriminated
// union rather than a raw string switch, per the source's Design Notes on
// tagged variants — the same preference the teacher shows with its
// pointer-field Statement unions in pkg/parser.
package ir

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
)

type (
	// Query is one parsed entry from queries.json.
	Query struct {
		Select  []SelectItem `json:"select"`
		From    string       `json:"from"`
		Where   []Predicate  `json:"where"`
		GroupBy []string     `json:"group_by,omitempty"`
		OrderBy []OrderItem  `json:"order_by,omitempty"`
		Limit   *int64       `json:"limit,omitempty"`
	}

	// SelectItem is either a bare column name or a single-function
	// aggregate. Exactly one of Column/Agg is set after decoding.
	SelectItem struct {
		Column string
		Agg    *registry.Agg
	}

	// PredicateOp is the WHERE comparison operator.
	PredicateOp string

	// Predicate is one WHERE conjunct: col <op> val.
	Predicate struct {
		Col string      `json:"col"`
		Op  PredicateOp `json:"op"`
		Val any         `json:"val"`
	}

	// Direction is an ORDER BY sort direction.
	Direction string

	// OrderItem is one ORDER BY entry. Col may be a bare column or the
	// textual form of an aggregate expression, e.g. "count(*)".
	OrderItem struct {
		Col string    `json:"col"`
		Dir Direction `json:"dir"`
	}
)

const (
	OpEq      PredicateOp = "eq"
	OpNeq     PredicateOp = "neq"
	OpLt      PredicateOp = "lt"
	OpLte     PredicateOp = "lte"
	OpGt      PredicateOp = "gt"
	OpGte     PredicateOp = "gte"
	OpBetween PredicateOp = "between"
	OpIn      PredicateOp = "in"

	DirAsc  Direction = "asc"
	DirDesc Direction = "desc"
)

var validPredicateOps = map[PredicateOp]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true,
	OpGt: true, OpGte: true, OpBetween: true, OpIn: true,
}

// ErrMalformedQuery marks a structural defect in query JSON: a missing
// required field, an unknown operator, or a between array without exactly
// two elements (spec §7). Unlike ErrUnsupportedAggregate (pkg/emit),
// this is a pure-IR rejection and never reaches the planner.
var ErrMalformedQuery = errors.New("malformed query")

// ParseQueries decodes a queries.json array and validates every entry,
// returning ErrMalformedQuery-wrapped errors naming the offending index.
func ParseQueries(data []byte) ([]Query, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedQuery, err.Error())
	}

	queries := make([]Query, 0, len(raw))
	for i, entry := range raw {
		var q Query
		if err := json.Unmarshal(entry, &q); err != nil {
			return nil, errors.Wrapf(ErrMalformedQuery, "query %d: %s", i, err.Error())
		}
		if q.From == "" {
			q.From = "events"
		}
		if err := q.Validate(); err != nil {
			return nil, errors.Wrapf(err, "query %d", i)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// UnmarshalJSON discriminates a bare column string from a single-key
// aggregate object, e.g. "country" vs {"sum": "total_price"}.
func (s *SelectItem) UnmarshalJSON(data []byte) error {
	var col string
	if err := json.Unmarshal(data, &col); err == nil {
		s.Column = col
		s.Agg = nil
		return nil
	}

	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrMalformedQuery, "select item is neither a column nor an aggregate object")
	}
	if len(obj) != 1 {
		return errors.Wrap(ErrMalformedQuery, "aggregate select item must have exactly one op")
	}

	for op, col := range obj {
		agg := registry.Agg{Op: registry.AggOp(normalizeOp(op))}
		if col != "*" {
			agg.Column = col
		} else if registry.AggOp(normalizeOp(op)) != registry.Count {
			return errors.Wrapf(ErrMalformedQuery, "column '*' only valid with COUNT, got %s", op)
		}
		s.Agg = &agg
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON, for any caller
// round-tripping a Query.
func (s SelectItem) MarshalJSON() ([]byte, error) {
	if s.Agg == nil {
		return json.Marshal(s.Column)
	}
	col := s.Agg.Column
	if col == "" {
		col = "*"
	}
	return json.Marshal(map[string]string{lowerOp(s.Agg.Op): col})
}

func normalizeOp(op string) string {
	switch op {
	case "count", "COUNT":
		return string(registry.Count)
	case "sum", "SUM":
		return string(registry.Sum)
	case "min", "MIN":
		return string(registry.Min)
	case "max", "MAX":
		return string(registry.Max)
	case "avg", "AVG":
		return string(registry.Avg)
	default:
		return op
	}
}

func lowerOp(op registry.AggOp) string {
	switch op {
	case registry.Count:
		return "count"
	case registry.Sum:
		return "sum"
	case registry.Min:
		return "min"
	case registry.Max:
		return "max"
	case registry.Avg:
		return "avg"
	default:
		return string(op)
	}
}

// IsAggregate reports whether this item is a function call rather than a
// bare column reference.
func (s SelectItem) IsAggregate() bool {
	return s.Agg != nil
}

// Validate rejects structurally invalid queries per spec §4.1: an empty
// select list, unknown where-ops, a between array without exactly two
// elements, and a bare select column missing from group_by when group_by is
// set or the select list also holds an aggregate.
func (q Query) Validate() error {
	if len(q.Select) == 0 {
		return errors.Wrap(ErrMalformedQuery, "select must be non-empty")
	}

	groupSet := make(map[string]bool, len(q.GroupBy))
	for _, g := range q.GroupBy {
		groupSet[g] = true
	}

	hasAgg := false
	for _, item := range q.Select {
		if item.IsAggregate() {
			hasAgg = true
		}
	}

	for _, item := range q.Select {
		if item.IsAggregate() {
			continue
		}
		if (len(q.GroupBy) > 0 || hasAgg) && !groupSet[item.Column] {
			return errors.Wrapf(ErrMalformedQuery,
				"select column %q must appear in group_by", item.Column)
		}
	}

	for _, pred := range q.Where {
		if err := pred.Validate(); err != nil {
			return err
		}
	}

	for _, ob := range q.OrderBy {
		if ob.Dir != "" && ob.Dir != DirAsc && ob.Dir != DirDesc {
			return errors.Wrapf(ErrMalformedQuery, "unknown order direction %q", ob.Dir)
		}
	}

	if q.Limit != nil && *q.Limit < 0 {
		return errors.Wrap(ErrMalformedQuery, "limit must be non-negative")
	}

	return nil
}

// Validate checks a single predicate's structural validity: a known op,
// and a two-element array for between / a non-empty array for in.
func (p Predicate) Validate() error {
	if !validPredicateOps[p.Op] {
		return errors.Wrapf(ErrMalformedQuery, "unknown where op %q", p.Op)
	}

	switch p.Op {
	case OpBetween:
		arr, ok := p.Val.([]any)
		if !ok || len(arr) != 2 {
			return errors.Wrapf(ErrMalformedQuery, "between predicate on %q requires a two-element array", p.Col)
		}
		if !consts.TimeDimensions[p.Col] && !consts.NumericDimensions[p.Col] {
			return errors.Wrapf(ErrMalformedQuery, "between is only valid on ordered dimensions, got %q", p.Col)
		}
	case OpIn:
		arr, ok := p.Val.([]any)
		if !ok || len(arr) == 0 {
			return errors.Wrapf(ErrMalformedQuery, "in predicate on %q requires a non-empty array", p.Col)
		}
	}
	return nil
}

// EffectiveDir returns Dir or the default ("asc") when unset.
func (o OrderItem) EffectiveDir() Direction {
	if o.Dir == "" {
		return DirAsc
	}
	return o.Dir
}
