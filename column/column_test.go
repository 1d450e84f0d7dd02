package column

import (
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var people = types.NewSchema(
	types.NewField("name", types.StringType),
	types.NewField("age", types.LongType),
	types.NewField("height", types.DoubleType),
	types.NewField("city", types.StringType),
)

func eval(t *testing.T, c Column, row types.Row) any {
	t.Helper()
	b, err := c.Bind(people)
	require.NoError(t, err)
	v, err := b.Eval(row)
	require.NoError(t, err)
	return v
}

func TestArithmetic(t *testing.T) {
	row := types.Row{"ann", int64(30), 1.5, "Oslo"}
	assert.Equal(t, int64(31), eval(t, Add(Col("age"), 1), row))
	assert.Equal(t, 15.0, eval(t, Div(Col("age"), 2), row))
	assert.Equal(t, 31.5, eval(t, Add(Col("age"), Col("height")), row))
	assert.Nil(t, eval(t, Div(Col("age"), 0), row))
	assert.Nil(t, eval(t, Mod(Col("age"), 0), row))
	assert.Equal(t, int64(-30), eval(t, Negate(Col("age")), row))

	_, err := Add(Col("name"), 1).Bind(people)
	assert.Error(t, err)
}

func TestComparisonAndNulls(t *testing.T) {
	row := types.Row{"ann", int64(30), nil, "Oslo"}
	assert.Equal(t, true, eval(t, Gt(Col("age"), 21), row))
	assert.Equal(t, false, eval(t, Eq(Col("city"), "Bergen"), row))
	assert.Nil(t, eval(t, Gt(Col("height"), 1.0), row))
	assert.Equal(t, true, eval(t, IsNull(Col("height")), row))
	assert.Equal(t, false, eval(t, IsNotNull(Col("height")), row))

	// three valued logic
	assert.Equal(t, false, eval(t, And(Gt(Col("height"), 1.0), Lt(Col("age"), 10)), row))
	assert.Equal(t, true, eval(t, Or(Gt(Col("height"), 1.0), Gt(Col("age"), 10)), row))
	assert.Nil(t, eval(t, And(Gt(Col("height"), 1.0), Gt(Col("age"), 10)), row))

	_, err := Gt(Col("name"), 1).Bind(people)
	assert.Error(t, err)
	_, err = Gt(Col("missing"), 1).Bind(people)
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
}

func TestStringFunctions(t *testing.T) {
	row := types.Row{"Ann Lee", int64(30), 1.5, nil}
	assert.Equal(t, "ANN LEE", eval(t, Upper(Col("name")), row))
	assert.Equal(t, int64(7), eval(t, Length(Col("name")), row))
	assert.Equal(t, []string{"Ann", "Lee"}, eval(t, Split(Col("name"), " "), row))
	assert.Equal(t, "Ann Lee/30", eval(t, Concat(Col("name"), "/", Col("age")), row))
	assert.Nil(t, eval(t, Concat(Col("name"), Col("city")), row))
	assert.Equal(t, "unknown", eval(t, Coalesce(Col("city"), "unknown"), row))
	assert.Equal(t, true, eval(t, Like(Col("name"), "A%e_"), row))
	assert.Equal(t, true, eval(t, In(Col("age"), 10, 30), row))
	assert.Equal(t, int64(1), eval(t, Cast(Col("height"), types.LongType), row))
	assert.Nil(t, eval(t, Cast(Col("name"), types.LongType), row))
}

func TestExpr(t *testing.T) {
	row := types.Row{"ann", int64(30), 1.5, "Oslo"}
	assert.Equal(t, true, eval(t, Expr(`age > 21 && city in ["Oslo", "Bergen"]`), row))
	assert.Equal(t, int64(60), eval(t, ExprAs(`age * 2`, types.LongType), row))
	assert.NotEqual(t, true, eval(t, Expr(`age > 21`), types.Row{"ann", nil, 1.5, "Oslo"}))

	_, err := Expr(`age >`).Bind(people)
	assert.Error(t, err)
	_, err = Expr(`name`).Bind(people)
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "name", Name(Col("u.name")))
	assert.Equal(t, "adult", Name(Alias(Gt(Col("age"), 18), "adult")))
	assert.Equal(t, "(age > 18)", Name(Gt(Col("age"), 18)))
	assert.Equal(t, "count(1)", Name(CountAll()))
	assert.Equal(t, "avg(age)", Name(Avg(Col("age"))))
	q, ok := IsStar(Col("u.*"))
	assert.True(t, ok)
	assert.Equal(t, "u", q)
}

func TestBindAll(t *testing.T) {
	_, schema, err := BindAll([]Column{Col("name"), Alias(Add(Col("age"), 1), "next")}, people)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "next"}, schema.Names())
	assert.Equal(t, types.LongType, schema.Fields[1].Type)

	_, _, err = BindAll([]Column{Count(Col("age"))}, people)
	assert.ErrorIs(t, err, ErrAggregateContext)
	_, _, err = BindAll([]Column{Explode(Col("name"))}, people)
	assert.Error(t, err)
}

func TestAggregates(t *testing.T) {
	rows := []types.Row{
		{"ann", int64(30), 1.5, "Oslo"},
		{"bob", int64(20), nil, "Oslo"},
		{"cid", nil, 2.5, "Oslo"},
	}
	run := func(c Column) any {
		b, err := BindAggregate(c, people)
		require.NoError(t, err)
		acc := b.New()
		for _, row := range rows {
			v, err := b.Input(row)
			require.NoError(t, err)
			require.NoError(t, acc.Add(v))
		}
		return acc.Result()
	}
	assert.Equal(t, int64(3), run(CountAll()))
	assert.Equal(t, int64(2), run(Count(Col("age"))))
	assert.Equal(t, int64(50), run(Sum(Col("age"))))
	assert.Equal(t, 4.0, run(Sum(Col("height"))))
	assert.Equal(t, 25.0, run(Avg(Col("age"))))
	assert.Equal(t, "ann", run(Min(Col("name"))))
	assert.Equal(t, int64(30), run(Max(Col("age"))))

	// names resolve to columns, not string literals
	assert.Equal(t, int64(2), run(Count("age")))
	assert.Equal(t, int64(50), run(Sum("age")))
	assert.Equal(t, 25.0, run(Avg("age")))
	assert.Equal(t, "ann", run(Min("name")))
	assert.Equal(t, int64(30), run(Max("age")))
	b, err := BindAggregate(Avg("age"), people)
	require.NoError(t, err)
	assert.Equal(t, types.DoubleType, b.Type)
	assert.Equal(t, "avg(age)", Name(Avg("age")))

	_, err = BindAggregate(Sum(Col("name")), people)
	assert.Error(t, err)
	_, err = NewAggregate("median", Col("age"))
	assert.Error(t, err)
}

func TestAccumulatorMerge(t *testing.T) {
	a, b := &AvgAccumulator{}, &AvgAccumulator{}
	require.NoError(t, a.Add(int64(10)))
	require.NoError(t, b.Add(int64(20)))
	require.NoError(t, b.Add(nil))
	require.NoError(t, a.Merge(b))
	assert.Equal(t, 15.0, a.Result())

	min, other := &ExtremeAccumulator{}, &ExtremeAccumulator{}
	require.NoError(t, other.Add("ann"))
	require.NoError(t, min.Merge(other))
	assert.Equal(t, "ann", min.Result())

	assert.Error(t, a.Merge(&CountAccumulator{}))
	assert.Error(t, min.Merge(&ExtremeAccumulator{Max: true}))
}

func TestAt(t *testing.T) {
	joined := people.Concat(people)
	c := At(4, joined.Fields[4])
	assert.Equal(t, "name", Name(c))
	assert.Equal(t, "bob", eval2(t, c, joined, types.Row{"ann", int64(1), 1.0, "a", "bob", int64(2), 2.0, "b"}))
	_, err := Col("name").Bind(joined)
	assert.ErrorIs(t, err, types.ErrAmbiguousField)
}

func eval2(t *testing.T, c Column, schema types.Schema, row types.Row) any {
	t.Helper()
	b, err := c.Bind(schema)
	require.NoError(t, err)
	v, err := b.Eval(row)
	require.NoError(t, err)
	return v
}

func TestWindows(t *testing.T) {
	ts := time.Date(2021, 1, 1, 12, 7, 0, 0, time.UTC)
	w := Window(Col("ts"), 10*time.Minute, 5*time.Minute).(*WindowColumn)
	windows := w.Windows(ts)
	require.Len(t, windows, 2)
	assert.Equal(t, time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC), windows[0].Start)
	assert.Equal(t, time.Date(2021, 1, 1, 12, 15, 0, 0, time.UTC), windows[1].End)

	tumbling := Window(Col("ts"), 10*time.Minute, 0).(*WindowColumn)
	assert.Len(t, tumbling.Windows(ts), 1)

	name, ok := EventTime(Alias(w, "w"))
	assert.True(t, ok)
	assert.Equal(t, "ts", name)
}

func TestSortRows(t *testing.T) {
	rows := []types.Row{
		{"bob", int64(20), nil, "Oslo"},
		{"ann", int64(30), nil, "Bergen"},
		{"cid", int64(20), nil, "Bergen"},
	}
	require.NoError(t, SortRows(rows, people, []SortOrder{Asc("city"), Desc(Col("age"))}))
	assert.Equal(t, "ann", rows[0][0])
	assert.Equal(t, "cid", rows[1][0])
	assert.Equal(t, "bob", rows[2][0])
}

func TestConjuncts(t *testing.T) {
	c := And(Eq(Col("a.id"), Col("b.id")), And(Gt(Col("age"), 1), Eq(Col("city"), "Oslo")))
	parts := Conjuncts(c)
	require.Len(t, parts, 3)
	l, r, ok := Equality(parts[0])
	require.True(t, ok)
	assert.Equal(t, "a.id", l.String())
	assert.Equal(t, "b.id", r.String())
	_, _, ok = Equality(parts[1])
	assert.False(t, ok)
	assert.Len(t, Conjuncts(Or(Col("x"), Col("y"))), 1)
}
