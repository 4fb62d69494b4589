// Package filter implements the chainable predicate algebra (spec.md §4.4):
// an immutable list of atomic predicates ANDed together, compiled once into
// a SQL WHERE fragment and a parameter-binding slice. Filters never embed
// values textually — every value travels as a bound parameter.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasastorian/hybridstore/internal/xerrors"
)

// Unset is the sentinel value for an omitted comparison bound. Passing
// Unset to Gt/Gte/Lt/Lte/Between causes that side to be skipped per
// spec.md's skip rule table.
var Unset = struct{ unset bool }{unset: true}

func isUnset(v interface{}) bool {
	if v == nil {
		return false
	}
	_, ok := v.(struct{ unset bool })
	return ok
}

// Kind enumerates the predicate kinds from spec.md §4.4.
type Kind int

const (
	Eq Kind = iota
	Neq
	Gt
	Gte
	Lt
	Lte
	Between
	In
	NotIn
	IsNull
	IsNotNull
	Contains
	ILike
	Regex
)

// Predicate is one atomic clause of the algebra.
type Predicate struct {
	Kind     Kind
	Column   string
	Value    interface{}
	Value2   interface{} // second bound, only used by Between
	Values   []interface{} // only used by In/NotIn
	skip     bool
}

// Order describes a single ORDER BY term; ties always break by ascending
// primary key (applied by the caller, see relstore/planner compilation).
type Order struct {
	Column string
	Desc   bool
}

// Filter is an immutable, appendable chain of predicates plus optional
// order/limit. Every chaining method returns a new Filter; the zero value
// is the empty (match-all) filter.
type Filter struct {
	predicates []Predicate
	orders     []Order
	limitN     int
	hasLimit   bool
}

func (f Filter) clone() Filter {
	nf := Filter{
		predicates: append([]Predicate{}, f.predicates...),
		orders:     append([]Order{}, f.orders...),
		limitN:     f.limitN,
		hasLimit:   f.hasLimit,
	}
	return nf
}

func (f Filter) appendPredicate(p Predicate) Filter {
	nf := f.clone()
	nf.predicates = append(nf.predicates, p)
	return nf
}

// Eq adds `column = value`.
func (f Filter) Eq(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Eq, Column: column, Value: value})
}

// Neq adds `column <> value`.
func (f Filter) Neq(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Neq, Column: column, Value: value})
}

// Gt adds `column > value`, skipped entirely if value is filter.Unset.
func (f Filter) Gt(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Gt, Column: column, Value: value, skip: isUnset(value)})
}

// Gte adds `column >= value`, skipped entirely if value is filter.Unset.
func (f Filter) Gte(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Gte, Column: column, Value: value, skip: isUnset(value)})
}

// Lt adds `column < value`, skipped entirely if value is filter.Unset.
func (f Filter) Lt(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Lt, Column: column, Value: value, skip: isUnset(value)})
}

// Lte adds `column <= value`, skipped entirely if value is filter.Unset.
func (f Filter) Lte(column string, value interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Lte, Column: column, Value: value, skip: isUnset(value)})
}

// Between adds an inclusive `column BETWEEN lo AND hi`. If one bound is
// Unset, that side opens (becomes a one-sided Gte/Lte); if both are unset
// the predicate is skipped.
func (f Filter) Between(column string, lo, hi interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: Between, Column: column, Value: lo, Value2: hi})
}

// In adds a membership test; an empty values list is vacuously false.
func (f Filter) In(column string, values []interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: In, Column: column, Values: values})
}

// NotIn adds a negated membership test; an empty values list is vacuously true.
func (f Filter) NotIn(column string, values []interface{}) Filter {
	return f.appendPredicate(Predicate{Kind: NotIn, Column: column, Values: values})
}

// IsNull adds `column IS NULL`.
func (f Filter) IsNull(column string) Filter {
	return f.appendPredicate(Predicate{Kind: IsNull, Column: column})
}

// IsNotNull adds `column IS NOT NULL`.
func (f Filter) IsNotNull(column string) Filter {
	return f.appendPredicate(Predicate{Kind: IsNotNull, Column: column})
}

// Contains adds a JSON containment test: element-in-array if the column
// holds a JSON array, key-exists if it holds a JSON object. isArray tells
// the compiler which SQL fragment to emit. A non-string key in object mode
// fails Compile with FilterTypeError; the column's stored JSON type is not
// checked, so a column holding the other shape simply fails to match, and
// text that is not JSON fails at execution as a storage error.
func (f Filter) Contains(column string, value interface{}, isArray bool) Filter {
	return f.appendPredicate(Predicate{Kind: Contains, Column: column, Value: value, Value2: isArray})
}

// ILike adds a case-insensitive LIKE. A pattern with no '%'/'_' wildcard is
// auto-wrapped as "%pattern%".
func (f Filter) ILike(column, pattern string) Filter {
	if !strings.ContainsAny(pattern, "%_") {
		pattern = "%" + pattern + "%"
	}
	return f.appendPredicate(Predicate{Kind: ILike, Column: column, Value: pattern})
}

// Regex adds a case-insensitive regexp test. An invalid pattern surfaces
// as BadPattern at Compile time.
func (f Filter) Regex(column, pattern string) Filter {
	return f.appendPredicate(Predicate{Kind: Regex, Column: column, Value: pattern})
}

// Order appends a stable ORDER BY term.
func (f Filter) Order(column string, desc bool) Filter {
	nf := f.clone()
	nf.orders = append(nf.orders, Order{Column: column, Desc: desc})
	return nf
}

// Limit sets the result cap, applied last in the pipeline.
func (f Filter) Limit(n int) Filter {
	nf := f.clone()
	nf.limitN = n
	nf.hasLimit = true
	return nf
}

// HasPredicates reports whether any predicate was chained onto f, used by
// the planner to distinguish "no filter -> scan everything" from "filter
// present but matches nothing" (spec.md §4.5's candidate-set rule).
func (f Filter) HasPredicates() bool { return len(f.predicates) > 0 }

// Orders exposes the accumulated ORDER BY terms.
func (f Filter) Orders() []Order { return append([]Order{}, f.orders...) }

// LimitValue returns the configured limit and whether one was set.
func (f Filter) LimitValue() (int, bool) { return f.limitN, f.hasLimit }

// Compiled is a compiled (where_clause, bindings) pair plus a vacuous flag
// (the whole filter can never match, e.g. from an empty In list).
type Compiled struct {
	Where   string
	Args    []interface{}
	Vacuous bool
}

// Resolver maps a logical column name to its SQL reference. The default
// (used by Compile/CompileOrder) just quotes the bare name; ViewResolver
// supplies one that qualifies it as "table"."column" for a joined view.
type Resolver func(column string) string

func identityResolver(column string) string { return quoteIdent(column) }

// Compile produces the SQL dialect pair described by spec.md §4.4. pkColumn
// names the table's primary key; the WHERE compilation does not use it
// (CompileOrder is what appends it as the ORDER BY tie-breaker).
func Compile(f Filter, pkColumn string) (Compiled, error) {
	return CompileWithResolver(f, pkColumn, identityResolver)
}

// CompileWithResolver is Compile with a caller-supplied column resolver,
// used by the planner to compile filters over a view's joined projection.
func CompileWithResolver(f Filter, pkColumn string, resolve Resolver) (Compiled, error) {
	var clauses []string
	var args []interface{}

	for _, p := range f.predicates {
		if p.skip {
			continue
		}
		clause, clauseArgs, vacuous, err := compilePredicate(p, resolve)
		if err != nil {
			return Compiled{}, err
		}
		if vacuous {
			return Compiled{Vacuous: true}, nil
		}
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	where := strings.Join(clauses, " AND ")
	return Compiled{Where: where, Args: args}, nil
}

func compilePredicate(p Predicate, resolve Resolver) (clause string, args []interface{}, vacuous bool, err error) {
	col := resolve(p.Column)
	switch p.Kind {
	case Eq:
		return fmt.Sprintf("%s = ?", col), []interface{}{p.Value}, false, nil
	case Neq:
		return fmt.Sprintf("%s <> ?", col), []interface{}{p.Value}, false, nil
	case Gt:
		return fmt.Sprintf("%s > ?", col), []interface{}{p.Value}, false, nil
	case Gte:
		return fmt.Sprintf("%s >= ?", col), []interface{}{p.Value}, false, nil
	case Lt:
		return fmt.Sprintf("%s < ?", col), []interface{}{p.Value}, false, nil
	case Lte:
		return fmt.Sprintf("%s <= ?", col), []interface{}{p.Value}, false, nil
	case Between:
		loUnset, hiUnset := isUnset(p.Value), isUnset(p.Value2)
		switch {
		case loUnset && hiUnset:
			return "", nil, false, nil
		case loUnset:
			return fmt.Sprintf("%s <= ?", col), []interface{}{p.Value2}, false, nil
		case hiUnset:
			return fmt.Sprintf("%s >= ?", col), []interface{}{p.Value}, false, nil
		default:
			return fmt.Sprintf("%s BETWEEN ? AND ?", col), []interface{}{p.Value, p.Value2}, false, nil
		}
	case In:
		if len(p.Values) == 0 {
			return "", nil, true, nil // vacuously false
		}
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = "?"
			args = append(args, v)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ",")), args, false, nil
	case NotIn:
		if len(p.Values) == 0 {
			return "", nil, false, nil // vacuously true -> no clause needed
		}
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = "?"
			args = append(args, v)
		}
		return fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(placeholders, ",")), args, false, nil
	case IsNull:
		return fmt.Sprintf("%s IS NULL", col), nil, false, nil
	case IsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil, false, nil
	case Contains:
		isArray, _ := p.Value2.(bool)
		if isArray {
			// element-in-array: EXISTS (SELECT 1 FROM json_each(col) WHERE value = ?)
			return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = ?)", col), []interface{}{p.Value}, false, nil
		}
		// key-exists: json_extract(col, ?) IS NOT NULL, with '$.key' bound
		key, ok := p.Value.(string)
		if !ok {
			return "", nil, false, xerrors.FilterType("filter.Compile", fmt.Sprintf("contains: expected string key for object column %q", p.Column))
		}
		return fmt.Sprintf("json_extract(%s, ?) IS NOT NULL", col), []interface{}{"$." + key}, false, nil
	case ILike:
		return fmt.Sprintf("%s LIKE ? ESCAPE '\\'", col), []interface{}{p.Value}, false, nil
	case Regex:
		pattern, _ := p.Value.(string)
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return "", nil, false, xerrors.BadPattern("filter.Compile", fmt.Sprintf("invalid regex for column %q", p.Column), err)
		}
		return fmt.Sprintf("%s REGEXP ?", col), []interface{}{pattern}, false, nil
	default:
		return "", nil, false, fmt.Errorf("filter: unknown predicate kind %d", p.Kind)
	}
}

func quoteIdent(name string) string {
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}

// QuoteQualified quotes a "table.column" pair as "table"."column", used by
// Resolvers that map a view alias onto a joined base-table column.
func QuoteQualified(table, column string) string {
	return quoteIdent(table) + "." + quoteIdent(column)
}

// CompileOrder renders the ORDER BY clause, always breaking ties on pkColumn
// ascending per spec.md §4.4.
func CompileOrder(f Filter, pkColumn string) string {
	return CompileOrderWithResolver(f, pkColumn, identityResolver)
}

// CompileOrderWithResolver is CompileOrder with a caller-supplied resolver.
func CompileOrderWithResolver(f Filter, pkColumn string, resolve Resolver) string {
	var terms []string
	for _, o := range f.orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf("%s %s", resolve(o.Column), dir))
	}
	terms = append(terms, fmt.Sprintf("%s ASC", resolve(pkColumn)))
	return strings.Join(terms, ", ")
}
