package plan

import (
	"strings"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/pkg/errors"
)

type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	LeftSemiJoin
	LeftAntiJoin
)

func (t JoinType) String() string {
	switch t {
	case InnerJoin:
		return "inner"
	case LeftOuterJoin:
		return "left_outer"
	case RightOuterJoin:
		return "right_outer"
	case FullOuterJoin:
		return "full_outer"
	case LeftSemiJoin:
		return "left_semi"
	default:
		return "left_anti"
	}
}

// ParseJoinType accepts the usual spellings: "inner", "left", "leftouter", "left_outer", ...
func ParseJoinType(name string) (JoinType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "") {
	case "inner", "":
		return InnerJoin, nil
	case "left", "leftouter":
		return LeftOuterJoin, nil
	case "right", "rightouter":
		return RightOuterJoin, nil
	case "full", "outer", "fullouter":
		return FullOuterJoin, nil
	case "semi", "leftsemi":
		return LeftSemiJoin, nil
	case "anti", "leftanti":
		return LeftAntiJoin, nil
	default:
		return InnerJoin, errors.Errorf("unsupported join type %q", name)
	}
}

// Join combines two inputs on Condition, or on equal Using columns when Using is set.
type Join struct {
	Left      Node
	Right     Node
	Type      JoinType
	Condition column.Column
	Using     []string
	// LeftKeys and RightKeys locate the Using columns in each input.
	LeftKeys, RightKeys []int
	output              types.Schema
}

func NewJoin(left, right Node, joinType JoinType, condition column.Column) (*Join, error) {
	j := &Join{Left: left, Right: right, Type: joinType, Condition: condition}
	combined := left.Schema().Concat(right.Schema())
	if condition != nil {
		b, err := condition.Bind(combined)
		if err != nil {
			return nil, err
		}
		if b.Type != types.BooleanType && b.Type != types.NullType {
			return nil, errors.Errorf("join condition %s is of type %s, not boolean", condition, b.Type)
		}
	}
	l, r := left.Schema(), right.Schema()
	switch joinType {
	case LeftOuterJoin:
		r = r.Nullable()
	case RightOuterJoin:
		l = l.Nullable()
	case FullOuterJoin:
		l, r = l.Nullable(), r.Nullable()
	}
	if joinType == LeftSemiJoin || joinType == LeftAntiJoin {
		j.output = left.Schema()
	} else {
		j.output = l.Concat(r)
	}
	return j, nil
}

// NewJoinUsing joins on equality of the named columns, which appear once in the output.
func NewJoinUsing(left, right Node, joinType JoinType, using []string) (*Join, error) {
	if len(using) == 0 {
		return nil, errors.New("join needs at least one using column")
	}
	j := &Join{Left: left, Right: right, Type: joinType, Using: using}
	ls, rs := left.Schema(), right.Schema()
	var keys []types.Field
	for _, name := range using {
		li, err := ls.Index(name)
		if err != nil {
			return nil, errors.WithMessage(err, "left side of join")
		}
		ri, err := rs.Index(name)
		if err != nil {
			return nil, errors.WithMessage(err, "right side of join")
		}
		lf, rf := ls.Fields[li], rs.Fields[ri]
		if lf.Type != rf.Type && !(lf.Type.Numeric() && rf.Type.Numeric()) {
			return nil, errors.Errorf("using column %s has type %s on the left and %s on the right", name, lf.Type, rf.Type)
		}
		j.LeftKeys = append(j.LeftKeys, li)
		j.RightKeys = append(j.RightKeys, ri)
		key := lf
		if joinType == RightOuterJoin {
			key = rf
		}
		key.Nullable = lf.Nullable || rf.Nullable || joinType == FullOuterJoin
		keys = append(keys, key)
	}
	output := types.Schema{Fields: keys}
	for i, f := range ls.Fields {
		if !contains(j.LeftKeys, i) {
			f.Nullable = f.Nullable || joinType == RightOuterJoin || joinType == FullOuterJoin
			output.Fields = append(output.Fields, f)
		}
	}
	if joinType == LeftSemiJoin || joinType == LeftAntiJoin {
		j.output = ls
		return j, nil
	}
	for i, f := range rs.Fields {
		if !contains(j.RightKeys, i) {
			f.Nullable = f.Nullable || joinType == LeftOuterJoin || joinType == FullOuterJoin
			output.Fields = append(output.Fields, f)
		}
	}
	j.output = output
	return j, nil
}

func contains(indexes []int, i int) bool {
	for _, x := range indexes {
		if x == i {
			return true
		}
	}
	return false
}

func (j *Join) Schema() types.Schema { return j.output }
func (j *Join) Children() []Node     { return []Node{j.Left, j.Right} }
func (j *Join) IsStreaming() bool    { return anyStreaming(j.Left, j.Right) }
func (j *Join) String() string {
	if len(j.Using) > 0 {
		return "Join " + j.Type.String() + " using [" + strings.Join(j.Using, ", ") + "]"
	}
	if j.Condition == nil {
		return "Join " + j.Type.String()
	}
	return "Join " + j.Type.String() + ", " + j.Condition.String()
}
