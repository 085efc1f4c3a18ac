// Package exprparse parses the small textual aggregate-expression language
// that shows up in two places in the query IR: an order_by.col value like
// "count(*)" or "sum(total_price)", and the SQL emitter's own rewriting of
// such expressions into their MV-derived form.
//
// The source implementation recognizes these by string-slicing on the first
// '(' and the trailing ')' (planner.rs::order_by_to_sql). Rollkeeper instead
// gives the tiny grammar a real parser, built with participle the same way
// the teacher replaces regex-based SQL parsing with a typed grammar
// (pkg/parser/parser.go's stated rationale) — the expression language here
// is just much smaller than ClickHouse's.
package exprparse

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
)

type (
	// AggExpr is the parsed form of a textual aggregate expression.
	AggExpr struct {
		Op     string  `parser:"@Ident"`
		Column *string `parser:"'(' @(Star | Ident) ')'"`
	}
)

var (
	exprLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Star", Pattern: `\*`},
		{Name: "Punct", Pattern: `[(),.]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	exprParser = participle.MustBuild[AggExpr](
		participle.Lexer(exprLexer),
		participle.Elide("Whitespace"),
		participle.CaseInsensitive("Ident"),
	)
)

// ErrNotAnAggregate marks a string that does not look like a function call
// at all, e.g. a bare column name — the caller should treat it as such
// instead of failing.
var ErrNotAnAggregate = errors.New("not an aggregate expression")

// Looks reports whether s has the textual shape of a call — a prerequisite
// check callers use before committing to the (costlier) Parse path, mirroring
// the source's own `col.contains('(') && col.contains(')')` guard.
func Looks(s string) bool {
	return strings.Contains(s, "(") && strings.Contains(s, ")")
}

// Parse parses a textual aggregate expression such as "count(*)" or
// "sum(total_price)" into a registry.Agg. Returns ErrNotAnAggregate if s
// doesn't have the fn(arg) shape.
func Parse(s string) (registry.Agg, error) {
	if !Looks(s) {
		return registry.Agg{}, ErrNotAnAggregate
	}

	parsed, err := exprParser.ParseString("", s)
	if err != nil {
		return registry.Agg{}, errors.Wrapf(err, "parsing aggregate expression %q", s)
	}

	op := registry.AggOp(strings.ToUpper(parsed.Op))
	agg := registry.Agg{Op: op}
	if parsed.Column != nil && *parsed.Column != "*" {
		agg.Column = *parsed.Column
	}
	return agg, nil
}

// Format is the inverse of Parse: renders an Agg back into its canonical
// lowercase textual form, e.g. Agg{SUM, "bid_price"} -> "sum(bid_price)".
// This matches the alias convention of spec §4.6/§6.
func Format(a registry.Agg) string {
	col := a.Column
	if col == "" {
		col = "*"
	}
	return strings.ToLower(string(a.Op)) + "(" + col + ")"
}
