// Package sql parses the SELECT dialect accepted by Session.SQL into column expressions.
package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/types"
)

type JoinType string

const (
	InnerJoin      JoinType = "inner"
	LeftOuterJoin  JoinType = "left_outer"
	RightOuterJoin JoinType = "right_outer"
	FullOuterJoin  JoinType = "full_outer"
)

type TableRef struct {
	Name  string
	Alias string
	Pos   int
}

type Join struct {
	Type  JoinType
	Table TableRef
	On    column.Column
	Using []string
}

type Select struct {
	Items   []column.Column
	From    TableRef
	Joins   []Join
	Where   column.Column
	GroupBy []column.Column
	Having  column.Column
	OrderBy []column.SortOrder
	// Limit is -1 without a LIMIT clause.
	Limit int
	// Hidden are aggregates used by HAVING or ORDER BY, referenced there by their name.
	Hidden []column.Column
}

// Aggregating reports whether the query groups or aggregates.
func (s *Select) Aggregating() bool {
	if len(s.GroupBy) > 0 || len(s.Hidden) > 0 {
		return true
	}
	for _, item := range s.Items {
		if column.IsAggregate(item) {
			return true
		}
	}
	return false
}

type parser struct {
	tokens []token
	pos    int
	hidden *[]column.Column
}

// Parse parses a single SELECT statement.
func Parse(query string) (*Select, error) {
	tokens, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	p.acceptOperator(";")
	if t := p.peek(); t.kind != tokenEOF {
		return nil, p.errorf(t, "unexpected %s after end of statement", t)
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression, as used by DataFrame.SelectExpr.
func ParseExpr(text string) (column.Column, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	c, err := p.parseSelectItem()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokenEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return c, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(words ...string) bool {
	t := p.peek()
	if t.kind != tokenKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (p *parser) acceptKeyword(word string) bool {
	if p.isKeyword(word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(word string) error {
	if !p.acceptKeyword(word) {
		t := p.peek()
		return p.errorf(t, "expected %s but got %s", word, t)
	}
	return nil
}

func (p *parser) isOperator(op string) bool {
	t := p.peek()
	return t.kind == tokenOperator && t.text == op
}

func (p *parser) acceptOperator(op string) bool {
	if p.isOperator(op) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOperator(op string) error {
	if !p.acceptOperator(op) {
		t := p.peek()
		return p.errorf(t, "expected %q but got %s", op, t)
	}
	return nil
}

func (p *parser) expectIdent() (token, error) {
	t := p.next()
	if t.kind != tokenIdent {
		return t, p.errorf(t, "expected identifier but got %s", t)
	}
	return t, nil
}

func (p *parser) parseSelect() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if p.isKeyword("DISTINCT") {
		return nil, p.errorf(p.peek(), "DISTINCT is not supported")
	}
	stmt := &Select{Limit: -1}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, item)
		if !p.acceptOperator(",") {
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from
	for {
		join, ok, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		stmt.Joins = append(stmt.Joins, join)
	}
	if p.acceptKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.acceptKeyword("GROUP") {
		if err = p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			c, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, c)
			if !p.acceptOperator(",") {
				break
			}
		}
	}
	p.hidden = &stmt.Hidden
	if p.acceptKeyword("HAVING") {
		if stmt.Having, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.acceptKeyword("ORDER") {
		if err = p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			c, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			order := column.SortOrder{Column: c}
			if p.acceptKeyword("DESC") {
				order.Descending = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, order)
			if !p.acceptOperator(",") {
				break
			}
		}
	}
	p.hidden = nil
	if p.acceptKeyword("LIMIT") {
		t := p.next()
		n, err := strconv.Atoi(t.text)
		if t.kind != tokenNumber || err != nil || n < 0 {
			return nil, p.errorf(t, "LIMIT expects a non-negative integer but got %s", t)
		}
		stmt.Limit = n
	}
	return stmt, nil
}

func (p *parser) parseTableRef() (TableRef, error) {
	t, err := p.expectIdent()
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Name: t.text, Pos: t.pos}
	if p.acceptKeyword("AS") {
		alias, err := p.expectIdent()
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias.text
	} else if p.peek().kind == tokenIdent {
		ref.Alias = p.next().text
	}
	return ref, nil
}

func (p *parser) parseJoin() (Join, bool, error) {
	var join Join
	switch {
	case p.acceptKeyword("JOIN"):
		join.Type = InnerJoin
	case p.acceptKeyword("INNER"):
		join.Type = InnerJoin
	case p.acceptKeyword("LEFT"):
		join.Type = LeftOuterJoin
	case p.acceptKeyword("RIGHT"):
		join.Type = RightOuterJoin
	case p.acceptKeyword("FULL"):
		join.Type = FullOuterJoin
	default:
		return join, false, nil
	}
	if p.tokens[p.pos-1].text != "JOIN" {
		if join.Type != InnerJoin {
			p.acceptKeyword("OUTER")
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	}
	table, err := p.parseTableRef()
	if err != nil {
		return join, false, err
	}
	join.Table = table
	switch {
	case p.acceptKeyword("ON"):
		if join.On, err = p.parseExpr(); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("USING"):
		if err = p.expectOperator("("); err != nil {
			return join, false, err
		}
		for {
			t, err := p.expectIdent()
			if err != nil {
				return join, false, err
			}
			join.Using = append(join.Using, t.text)
			if !p.acceptOperator(",") {
				break
			}
		}
		if err = p.expectOperator(")"); err != nil {
			return join, false, err
		}
	default:
		t := p.peek()
		return join, false, p.errorf(t, "expected ON or USING but got %s", t)
	}
	return join, true, nil
}

func (p *parser) parseSelectItem() (column.Column, error) {
	if p.acceptOperator("*") {
		return column.Col("*"), nil
	}
	if p.peek().kind == tokenIdent && p.tokens[p.pos+1].text == "." && p.tokens[p.pos+2].text == "*" {
		qualifier := p.next().text
		p.pos += 2
		return column.Col(qualifier + ".*"), nil
	}
	c, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.acceptKeyword("AS") {
		t := p.next()
		if t.kind != tokenIdent && t.kind != tokenString {
			return nil, p.errorf(t, "expected alias but got %s", t)
		}
		return column.Alias(c, t.text), nil
	}
	if p.peek().kind == tokenIdent {
		return column.Alias(c, p.next().text), nil
	}
	return c, nil
}

func (p *parser) parseExpr() (column.Column, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (column.Column, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = column.Or(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (column.Column, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = column.And(left, right)
	}
	return left, nil
}

func (p *parser) parseNot() (column.Column, error) {
	if p.acceptKeyword("NOT") {
		c, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return column.Not(c), nil
	}
	return p.parseComparison()
}

var comparisons = map[string]func(left, right any) column.Column{
	"=":  column.Eq,
	"==": column.Eq,
	"!=": column.Neq,
	"<>": column.Neq,
	">":  column.Gt,
	">=": column.Ge,
	"<":  column.Lt,
	"<=": column.Le,
}

func (p *parser) parseComparison() (column.Column, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokenOperator {
		if build, ok := comparisons[t.text]; ok {
			p.pos++
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return build(left, right), nil
		}
	}
	if p.acceptKeyword("IS") {
		negate := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		if negate {
			return column.IsNotNull(left), nil
		}
		return column.IsNull(left), nil
	}
	negate := false
	if p.isKeyword("NOT") && p.tokens[p.pos+1].kind == tokenKeyword {
		switch p.tokens[p.pos+1].text {
		case "LIKE", "IN", "BETWEEN":
			p.pos++
			negate = true
		}
	}
	var c column.Column
	switch {
	case p.acceptKeyword("LIKE"):
		t := p.next()
		if t.kind != tokenString {
			return nil, p.errorf(t, "LIKE expects a string pattern but got %s", t)
		}
		c = column.Like(left, t.text)
	case p.acceptKeyword("IN"):
		if err := p.expectOperator("("); err != nil {
			return nil, err
		}
		var values []any
		for {
			v, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if !p.acceptOperator(",") {
				break
			}
		}
		if err := p.expectOperator(")"); err != nil {
			return nil, err
		}
		c = column.In(left, values...)
	case p.acceptKeyword("BETWEEN"):
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err = p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		c = column.And(column.Ge(left, low), column.Le(left, high))
	default:
		return left, nil
	}
	if negate {
		return column.Not(c), nil
	}
	return c, nil
}

func (p *parser) parseAdditive() (column.Column, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var build func(left, right any) column.Column
		switch {
		case p.isOperator("+"):
			build = column.Add
		case p.isOperator("-"):
			build = column.Sub
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = build(left, right)
	}
}

func (p *parser) parseMultiplicative() (column.Column, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var build func(left, right any) column.Column
		switch {
		case p.isOperator("*"):
			build = column.Mul
		case p.isOperator("/"):
			build = column.Div
		case p.isOperator("%"):
			build = column.Mod
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = build(left, right)
	}
}

func (p *parser) parseUnary() (column.Column, error) {
	if p.acceptOperator("-") {
		if t := p.peek(); t.kind == tokenNumber {
			p.pos++
			return number("-"+t.text, t, p)
		}
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return column.Negate(c), nil
	}
	p.acceptOperator("+")
	return p.parsePrimary()
}

func number(text string, t token, p *parser) (column.Column, error) {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return column.Lit(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf(t, "invalid number %s", text)
	}
	return column.Lit(f), nil
}

func (p *parser) parsePrimary() (column.Column, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		return number(t.text, t, p)
	case tokenString:
		return column.Lit(t.text), nil
	case tokenKeyword:
		switch t.text {
		case "NULL":
			return column.Lit(nil), nil
		case "TRUE":
			return column.Lit(true), nil
		case "FALSE":
			return column.Lit(false), nil
		case "CAST":
			return p.parseCast()
		}
	case tokenOperator:
		if t.text == "(" {
			c, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err = p.expectOperator(")"); err != nil {
				return nil, err
			}
			return c, nil
		}
	case tokenIdent:
		if p.isOperator("(") {
			return p.parseCall(t)
		}
		name := t.text
		for p.isOperator(".") && p.tokens[p.pos+1].kind == tokenIdent {
			name += "." + p.tokens[p.pos+1].text
			p.pos += 2
		}
		return column.Col(name), nil
	}
	return nil, p.errorf(t, "unexpected %s", t)
}

func (p *parser) parseCast() (column.Column, error) {
	if err := p.expectOperator("("); err != nil {
		return nil, err
	}
	c, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err = p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	t, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	dataType, err := types.ParseDataType(t.text)
	if err != nil {
		return nil, p.errorf(t, "%v", err)
	}
	if err = p.expectOperator(")"); err != nil {
		return nil, err
	}
	return column.Cast(c, dataType), nil
}

func (p *parser) parseArgs() ([]column.Column, bool, error) {
	if err := p.expectOperator("("); err != nil {
		return nil, false, err
	}
	if p.acceptOperator(")") {
		return nil, false, nil
	}
	if p.isOperator("*") && p.tokens[p.pos+1].text == ")" {
		p.pos += 2
		return nil, true, nil
	}
	if p.isKeyword("DISTINCT") {
		return nil, false, p.errorf(p.peek(), "DISTINCT is not supported")
	}
	var args []column.Column
	for {
		c, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		args = append(args, c)
		if !p.acceptOperator(",") {
			break
		}
	}
	return args, false, p.expectOperator(")")
}

func (p *parser) parseCall(name token) (column.Column, error) {
	args, star, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	function := strings.ToLower(name.text)
	arity := func(min, max int) error {
		if star || len(args) < min || (max >= 0 && len(args) > max) {
			return p.errorf(name, "wrong number of arguments for %s", function)
		}
		return nil
	}
	literal := func(i int) (string, error) {
		v, ok := column.LiteralValue(args[i])
		text, isString := v.(string)
		if !ok || !isString {
			return "", p.errorf(name, "%s expects a string literal but got %s", function, args[i])
		}
		return text, nil
	}
	switch function {
	case "count", "sum", "avg", "mean", "min", "max":
		if function == "mean" {
			function = "avg"
		}
		var input column.Column
		if !star {
			if len(args) != 1 {
				return nil, p.errorf(name, "wrong number of arguments for %s", function)
			}
			input = args[0]
		}
		agg, err := column.NewAggregate(function, input)
		if err != nil {
			return nil, p.errorf(name, "%v", err)
		}
		if p.hidden != nil {
			for _, h := range *p.hidden {
				if h.String() == agg.String() {
					return column.Col(agg.String()), nil
				}
			}
			*p.hidden = append(*p.hidden, agg)
			return column.Col(agg.String()), nil
		}
		return agg, nil
	case "upper", "ucase":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		return column.Upper(args[0]), nil
	case "lower", "lcase":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		return column.Lower(args[0]), nil
	case "trim":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		return column.Trim(args[0]), nil
	case "length", "char_length":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		return column.Length(args[0]), nil
	case "split":
		if err := arity(2, 2); err != nil {
			return nil, err
		}
		sep, err := literal(1)
		if err != nil {
			return nil, err
		}
		return column.Split(args[0], sep), nil
	case "explode":
		if err := arity(1, 1); err != nil {
			return nil, err
		}
		return column.Explode(args[0]), nil
	case "concat":
		if err := arity(1, -1); err != nil {
			return nil, err
		}
		return column.Concat(toAny(args)...), nil
	case "coalesce":
		if err := arity(1, -1); err != nil {
			return nil, err
		}
		return column.Coalesce(toAny(args)...), nil
	case "window":
		if err := arity(2, 3); err != nil {
			return nil, err
		}
		var durations []time.Duration
		for i := 1; i < len(args); i++ {
			text, err := literal(i)
			if err != nil {
				return nil, err
			}
			d, err := types.ParseInterval(text)
			if err != nil {
				return nil, p.errorf(name, "%v", err)
			}
			durations = append(durations, d)
		}
		if len(durations) == 1 {
			durations = append(durations, 0)
		}
		return column.Window(args[0], durations[0], durations[1]), nil
	default:
		return nil, p.errorf(name, "undefined function %s", name.text)
	}
}

func toAny(columns []column.Column) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = c
	}
	return out
}
