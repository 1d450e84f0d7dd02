// Package plan is the logical query tree built by DataFrame operations. Nodes resolve
// their output schema on construction so mistakes surface when the query is defined
// rather than when it first runs.
package plan

import (
	"strconv"
	"strings"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/source"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

type Node interface {
	Schema() types.Schema
	Children() []Node
	IsStreaming() bool
	String() string
}

func anyStreaming(nodes ...Node) bool {
	for _, n := range nodes {
		if n.IsStreaming() {
			return true
		}
	}
	return false
}

// Walk visits node and its descendants depth first until fn returns false.
func Walk(node Node, fn func(Node) bool) {
	if !fn(node) {
		return
	}
	for _, child := range node.Children() {
		Walk(child, fn)
	}
}

// Explain renders the tree one node per line.
func Explain(node Node) string {
	var b strings.Builder
	var visit func(n Node, depth int)
	visit = func(n Node, depth int) {
		if depth > 0 {
			b.WriteString(strings.Repeat("   ", depth-1))
			b.WriteString("+- ")
		}
		b.WriteString(n.String())
		b.WriteString("\n")
		for _, child := range n.Children() {
			visit(child, depth+1)
		}
	}
	visit(node, 0)
	return b.String()
}

// StreamingRelation is an unbounded input, opened anew for every query started on it.
type StreamingRelation struct {
	Name   string
	Output types.Schema
	New    source.Factory
}

func (r *StreamingRelation) Schema() types.Schema { return r.Output }
func (r *StreamingRelation) Children() []Node     { return nil }
func (r *StreamingRelation) IsStreaming() bool    { return true }
func (r *StreamingRelation) String() string {
	return "StreamingRelation " + r.Name + " [" + strings.Join(r.Output.Names(), ", ") + "]"
}

// LocalRelation is a bounded input whose rows are read each time the plan runs.
type LocalRelation struct {
	Name   string
	Output types.Schema
	Rows   func() ([]types.Row, error)
}

func NewLocalRelation(name string, schema types.Schema, rows []types.Row) *LocalRelation {
	return &LocalRelation{Name: name, Output: schema, Rows: func() ([]types.Row, error) { return rows, nil }}
}

func (r *LocalRelation) Schema() types.Schema { return r.Output }
func (r *LocalRelation) Children() []Node     { return nil }
func (r *LocalRelation) IsStreaming() bool    { return false }
func (r *LocalRelation) String() string {
	return "LocalRelation " + r.Name + " [" + strings.Join(r.Output.Names(), ", ") + "]"
}

// SubqueryAlias qualifies every output column with Alias.
type SubqueryAlias struct {
	Child Node
	Alias string
}

func NewSubqueryAlias(child Node, alias string) *SubqueryAlias {
	return &SubqueryAlias{Child: child, Alias: alias}
}

func (a *SubqueryAlias) Schema() types.Schema { return a.Child.Schema().WithQualifier(a.Alias) }
func (a *SubqueryAlias) Children() []Node     { return []Node{a.Child} }
func (a *SubqueryAlias) IsStreaming() bool    { return a.Child.IsStreaming() }
func (a *SubqueryAlias) String() string       { return "SubqueryAlias " + a.Alias }

type Project struct {
	Child   Node
	Columns []column.Column
	// Generator is the index of the explode column, -1 without one.
	Generator int
	output    types.Schema
}

// ExpandStar replaces "*" and "alias.*" with index references into schema.
func ExpandStar(columns []column.Column, schema types.Schema) ([]column.Column, error) {
	var out []column.Column
	for _, c := range columns {
		qualifier, star := column.IsStar(c)
		if !star {
			out = append(out, c)
			continue
		}
		matched := false
		for i, f := range schema.Fields {
			if qualifier == "" || strings.EqualFold(f.Qualifier, qualifier) {
				out = append(out, column.At(i, f))
				matched = true
			}
		}
		if !matched {
			return nil, errors.WithMessagef(types.ErrFieldNotFound, "cannot resolve %s.*", qualifier)
		}
	}
	return out, nil
}

func NewProject(child Node, columns []column.Column) (*Project, error) {
	columns, err := ExpandStar(columns, child.Schema())
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errors.New("select needs at least one column")
	}
	p := &Project{Child: child, Columns: columns, Generator: -1}
	for i, c := range columns {
		_, ok, err := column.Generator(c, child.Schema())
		if err != nil {
			return nil, err
		}
		if ok {
			if p.Generator >= 0 {
				return nil, errors.WithMessage(column.ErrGeneratorContext, "only one generator is allowed per select")
			}
			p.Generator = i
		}
	}
	if _, p.output, err = column.BindAll(columns, child.Schema()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) Schema() types.Schema { return p.output }
func (p *Project) Children() []Node     { return []Node{p.Child} }
func (p *Project) IsStreaming() bool    { return p.Child.IsStreaming() }
func (p *Project) String() string       { return "Project " + columnList(p.Columns) }

func columnList(columns []column.Column) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

type Filter struct {
	Child     Node
	Condition column.Column
}

func NewFilter(child Node, condition column.Column) (*Filter, error) {
	b, err := condition.Bind(child.Schema())
	if err != nil {
		return nil, err
	}
	if b.Type != types.BooleanType && b.Type != types.NullType {
		return nil, errors.Errorf("filter expression %s is of type %s, not boolean", condition, b.Type)
	}
	return &Filter{Child: child, Condition: condition}, nil
}

func (f *Filter) Schema() types.Schema { return f.Child.Schema() }
func (f *Filter) Children() []Node     { return []Node{f.Child} }
func (f *Filter) IsStreaming() bool    { return f.Child.IsStreaming() }
func (f *Filter) String() string       { return "Filter " + f.Condition.String() }

type Aggregate struct {
	Child      Node
	Grouping   []column.Column
	Aggregates []column.Column
	output     types.Schema
}

func NewAggregate(child Node, grouping, aggregates []column.Column) (*Aggregate, error) {
	input := child.Schema()
	_, keys, err := column.BindAll(grouping, input)
	if err != nil {
		return nil, err
	}
	fields := keys.Fields
	for _, c := range aggregates {
		b, err := column.BindAggregate(c, input)
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.Field{Name: b.Name, Type: b.Type, Nullable: true})
	}
	return &Aggregate{Child: child, Grouping: grouping, Aggregates: aggregates, output: types.Schema{Fields: fields}}, nil
}

func (a *Aggregate) Schema() types.Schema { return a.output }
func (a *Aggregate) Children() []Node     { return []Node{a.Child} }
func (a *Aggregate) IsStreaming() bool    { return a.Child.IsStreaming() }
func (a *Aggregate) String() string {
	return "Aggregate " + columnList(a.Grouping) + " " + columnList(a.Aggregates)
}

type Sort struct {
	Child  Node
	Orders []column.SortOrder
}

func NewSort(child Node, orders []column.SortOrder) (*Sort, error) {
	for _, o := range orders {
		if _, err := o.Column.Bind(child.Schema()); err != nil {
			return nil, err
		}
	}
	return &Sort{Child: child, Orders: orders}, nil
}

func (s *Sort) Schema() types.Schema { return s.Child.Schema() }
func (s *Sort) Children() []Node     { return []Node{s.Child} }
func (s *Sort) IsStreaming() bool    { return s.Child.IsStreaming() }
func (s *Sort) String() string {
	parts := make([]string, len(s.Orders))
	for i, o := range s.Orders {
		parts[i] = o.String()
	}
	return "Sort [" + strings.Join(parts, ", ") + "]"
}

type Limit struct {
	Child Node
	N     int
}

func NewLimit(child Node, n int) (*Limit, error) {
	if n < 0 {
		return nil, errors.Errorf("limit must not be negative, got %d", n)
	}
	return &Limit{Child: child, N: n}, nil
}

func (l *Limit) Schema() types.Schema { return l.Child.Schema() }
func (l *Limit) Children() []Node     { return []Node{l.Child} }
func (l *Limit) IsStreaming() bool    { return l.Child.IsStreaming() }
func (l *Limit) String() string       { return "Limit " + strconv.Itoa(l.N) }

// Watermark tracks max(EventTime) - Delay over the rows flowing through it.
type Watermark struct {
	Child     Node
	EventTime string
	Delay     time.Duration
	index     int
}

func NewWatermark(child Node, eventTime string, delay time.Duration) (*Watermark, error) {
	if delay < 0 {
		return nil, errors.Errorf("watermark delay must not be negative, got %s", delay)
	}
	i, err := child.Schema().Index(eventTime)
	if err != nil {
		return nil, err
	}
	if t := child.Schema().Fields[i].Type; t != types.TimestampType {
		return nil, errors.Errorf("event time column %s must be a timestamp, got %s", eventTime, t)
	}
	return &Watermark{Child: child, EventTime: eventTime, Delay: delay, index: i}, nil
}

// Index is the position of the event time column in the output.
func (w *Watermark) Index() int { return w.index }

func (w *Watermark) Schema() types.Schema { return w.Child.Schema() }
func (w *Watermark) Children() []Node     { return []Node{w.Child} }
func (w *Watermark) IsStreaming() bool    { return w.Child.IsStreaming() }
func (w *Watermark) String() string {
	return "EventTimeWatermark " + w.EventTime + ", " + w.Delay.String()
}
