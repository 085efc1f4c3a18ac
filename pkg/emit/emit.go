// Package emit turns a query plus its chosen registry.MV (or a bare query,
// for the fallback path) into the final SQL string sent to ClickHouse.
//
// It is grounded on the source implementation's planner.rs (the MV-aware
// assemble_sql_for_mv/select_over_mv/compute_agg_alias_expr family) and
// query_handler.rs (the plain assemble_sql fallback), reworked around a
// small fluent builder in the style of the teacher's pkg/utils.SQLBuilder
// rather than the source's ad hoc string concatenation.
package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/exprparse"
	"github.com/rollkeeper/rollkeeper/pkg/ir"
	"github.com/rollkeeper/rollkeeper/pkg/registry"
)

// ErrUnsupportedAggregate marks an aggregate op the emitter has no rewrite
// rule for. Unlike ir.ErrMalformedQuery, this can only be reached for a
// genuinely new op value the IR validator let through.
var ErrUnsupportedAggregate = errors.New("unsupported aggregate")

// builder is a minimal fluent SELECT-statement assembler: push clauses,
// join what's non-empty with spaces. Mirrors the teacher's SQLBuilder
// part-joining approach but targets SELECT statements instead of DDL.
type builder struct {
	parts []string
}

func (b *builder) push(clause string) *builder {
	if clause != "" {
		b.parts = append(b.parts, clause)
	}
	return b
}

func (b *builder) String() string {
	return strings.Join(b.parts, " ")
}

// ForMV emits SQL for query against a chosen materialized view. isPartitioned
// tells the emitter to drop the `type` predicate from WHERE, per spec's
// type-partitioned handling; every other clause is emitted the same way.
func ForMV(q ir.Query, mv registry.MV, isPartitioned bool) (string, error) {
	selectSQL, err := selectClause(q.Select, true)
	if err != nil {
		return "", err
	}

	excludeCol := ""
	if isPartitioned {
		excludeCol = "type"
	}

	b := &builder{}
	b.push("SELECT " + selectSQL + " FROM " + mv.Name)
	b.push(whereClause(q.Where, excludeCol))
	b.push(groupByClause(q.GroupBy))
	orderSQL, err := orderByClause(q.OrderBy, true)
	if err != nil {
		return "", err
	}
	b.push(orderSQL)
	b.push(limitClause(q.Limit))

	return b.String(), nil
}

// Plain emits SQL directly against the base relation (normally "events")
// when no MV is usable. It applies the same alias convention as ForMV so a
// query's output header is identical whether or not an MV served it.
func Plain(q ir.Query) (string, error) {
	selectSQL, err := selectClause(q.Select, false)
	if err != nil {
		return "", err
	}

	from := q.From
	if from == "" {
		from = "events"
	}

	b := &builder{}
	b.push("SELECT " + selectSQL + " FROM " + from)
	b.push(whereClause(q.Where, ""))
	b.push(groupByClause(q.GroupBy))
	orderSQL, err := orderByClause(q.OrderBy, false)
	if err != nil {
		return "", err
	}
	b.push(orderSQL)
	b.push(limitClause(q.Limit))

	return b.String(), nil
}

func selectClause(items []ir.SelectItem, overMV bool) (string, error) {
	if len(items) == 0 {
		return "*", nil
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsAggregate() {
			if item.Column == "type" {
				parts = append(parts, "CAST(type AS String) AS type")
			} else {
				parts = append(parts, item.Column)
			}
			continue
		}

		expr, alias, err := aggExprAlias(*item.Agg, overMV)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf(`%s AS "%s"`, expr, alias))
	}
	return strings.Join(parts, ", "), nil
}

// aggExprAlias computes the SQL expression and canonical alias for a single
// aggregate. overMV selects between reading from an MV's preaggregated
// metric columns (derivation, spec §4.5) and aggregating raw event columns
// directly (the fallback path).
func aggExprAlias(agg registry.Agg, overMV bool) (expr, alias string, err error) {
	col := agg.Column
	displayCol := col
	if displayCol == "" {
		displayCol = "*"
	}

	switch agg.Op {
	case registry.Avg:
		alias = fmt.Sprintf("avg(%s)", displayCol)
		if overMV {
			sumCol := registry.MetricColumnName(registry.Sum, col)
			cntCol := registry.MetricColumnName(registry.Count, col)
			expr = fmt.Sprintf("SUM(%s) / NULLIF(SUM(%s), 0)", sumCol, cntCol)
		} else {
			expr = fmt.Sprintf("AVG(%s)", col)
		}
		return expr, alias, nil

	case registry.Sum, registry.Count:
		isCountStar := agg.Op == registry.Count && col == ""
		if isCountStar {
			alias = "count_star()"
		} else {
			alias = fmt.Sprintf("%s(%s)", strings.ToLower(string(agg.Op)), displayCol)
		}
		if overMV {
			mvCol := registry.MetricColumnName(agg.Op, col)
			expr = fmt.Sprintf("SUM(%s)", mvCol)
		} else if isCountStar {
			expr = "COUNT(*)"
		} else {
			expr = fmt.Sprintf("%s(%s)", agg.Op, col)
		}
		return expr, alias, nil

	case registry.Min, registry.Max:
		alias = fmt.Sprintf("%s(%s)", strings.ToLower(string(agg.Op)), displayCol)
		if overMV {
			mvCol := registry.MetricColumnName(agg.Op, col)
			expr = fmt.Sprintf("%s(%s)", agg.Op, mvCol)
		} else {
			expr = fmt.Sprintf("%s(%s)", agg.Op, col)
		}
		return expr, alias, nil
	}

	return "", "", errors.Wrapf(ErrUnsupportedAggregate, "%s(%s)", agg.Op, displayCol)
}

func whereClause(preds []ir.Predicate, excludeCol string) string {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		if excludeCol != "" && p.Col == excludeCol {
			continue
		}
		if s := predicateSQL(p); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(parts, " AND ")
}

func predicateSQL(p ir.Predicate) string {
	switch p.Op {
	case ir.OpEq:
		return fmt.Sprintf("%s = %s", p.Col, formatValue(p.Val))
	case ir.OpNeq:
		return fmt.Sprintf("%s != %s", p.Col, formatValue(p.Val))
	case ir.OpLt:
		return fmt.Sprintf("%s < %s", p.Col, formatValue(p.Val))
	case ir.OpLte:
		return fmt.Sprintf("%s <= %s", p.Col, formatValue(p.Val))
	case ir.OpGt:
		return fmt.Sprintf("%s > %s", p.Col, formatValue(p.Val))
	case ir.OpGte:
		return fmt.Sprintf("%s >= %s", p.Col, formatValue(p.Val))
	case ir.OpBetween:
		arr, ok := p.Val.([]any)
		if !ok || len(arr) != 2 {
			return ""
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", p.Col, quoteLiteral(arr[0]), quoteLiteral(arr[1]))
	case ir.OpIn:
		arr, ok := p.Val.([]any)
		if !ok || len(arr) == 0 {
			return ""
		}
		vals := make([]string, len(arr))
		for i, v := range arr {
			vals[i] = formatValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", p.Col, strings.Join(vals, ", "))
	default:
		return ""
	}
}

// formatValue renders a predicate literal per spec's quoting rule: numeric
// values are unquoted, everything else (strings, date-like values) is
// single-quoted. A numeric-looking string (as JSON often carries numbers
// for loosely-typed query files) is still rendered unquoted.
func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return formatFloat(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return formatFloat(f)
		}
		return "'" + strings.ReplaceAll(val, "'", "\\'") + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// quoteLiteral always single-quotes, used for between's low/high per spec's
// explicit "BETWEEN '<low>' AND '<high>'" rule.
func quoteLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "\\'") + "'"
	default:
		return fmt.Sprintf("'%v'", val)
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func groupByClause(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return "GROUP BY " + strings.Join(keys, ", ")
}

func orderByClause(items []ir.OrderItem, overMV bool) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		col := item.Col
		dir := strings.ToUpper(string(item.EffectiveDir()))

		if exprparse.Looks(col) {
			agg, err := exprparse.Parse(col)
			if err != nil {
				return "", errors.Wrapf(err, "order by %q", col)
			}
			expr, _, err := aggExprAlias(agg, overMV)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s %s", expr, dir))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", col, dir))
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func limitClause(limit *int64) string {
	if limit == nil {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", *limit)
}
