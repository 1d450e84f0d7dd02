package sql

import (
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-table/column"
	"github.com/RuiFG/streaming/streaming-table/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transactions = types.NewSchema(
	types.NewField("user_id", types.LongType),
	types.NewField("amount", types.DoubleType),
	types.NewField("ts", types.TimestampType),
)

func TestParseAggregation(t *testing.T) {
	stmt, err := Parse(`select user_id, sum(amount) as total, count(*)
		from transactions t
		where amount > 10 and user_id is not null
		group by user_id
		having count(*) > 1
		order by total desc
		limit 5;`)
	require.NoError(t, err)

	require.Len(t, stmt.Items, 3)
	assert.Equal(t, "user_id", column.Name(stmt.Items[0]))
	assert.Equal(t, "total", column.Name(stmt.Items[1]))
	assert.True(t, column.IsAggregate(stmt.Items[1]))
	assert.Equal(t, "count(1)", column.Name(stmt.Items[2]))
	assert.Equal(t, TableRef{Name: "transactions", Alias: "t", Pos: 55}, stmt.From)
	assert.NotNil(t, stmt.Where)
	require.Len(t, stmt.GroupBy, 1)
	require.Len(t, stmt.Hidden, 1)
	assert.Equal(t, "count(1)", stmt.Hidden[0].String())
	require.Len(t, stmt.OrderBy, 1)
	assert.True(t, stmt.OrderBy[0].Descending)
	assert.Equal(t, 5, stmt.Limit)
	assert.True(t, stmt.Aggregating())
}

func TestParseJoins(t *testing.T) {
	stmt, err := Parse("SELECT * FROM tx LEFT OUTER JOIN users u ON tx.user_id = u.id JOIN cities USING (city)")
	require.NoError(t, err)
	require.Len(t, stmt.Joins, 2)
	assert.Equal(t, LeftOuterJoin, stmt.Joins[0].Type)
	assert.Equal(t, "u", stmt.Joins[0].Table.Alias)
	assert.NotNil(t, stmt.Joins[0].On)
	assert.Equal(t, InnerJoin, stmt.Joins[1].Type)
	assert.Equal(t, []string{"city"}, stmt.Joins[1].Using)
	qualifier, star := column.IsStar(stmt.Items[0])
	assert.True(t, star)
	assert.Empty(t, qualifier)
	assert.Equal(t, -1, stmt.Limit)
	assert.False(t, stmt.Aggregating())
}

func TestParseExpressions(t *testing.T) {
	row := types.Row{int64(7), 25.0, time.Date(2021, 1, 1, 12, 7, 0, 0, time.UTC)}
	for text, want := range map[string]any{
		"user_id + 1 * 2":           int64(9),
		"(user_id + 1) * 2":         int64(16),
		"-user_id":                  int64(-7),
		"amount / 2":                12.5,
		"user_id % 4":               int64(3),
		"user_id IN (1, 7)":         true,
		"user_id NOT IN (1, 7)":     false,
		"amount BETWEEN 20 AND 30":  true,
		"NOT amount > 20":           false,
		"user_id = 7 OR amount < 0": true,
		"cast(amount AS long)":      int64(25),
		"upper(concat('a', 'b'))":   "AB",
		"'it''s'":                   "it's",
		"user_id IS NULL":           false,
		"coalesce(NULL, 3)":         int64(3),
		"window(ts, '10 minutes')":  types.Window{Start: time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC), End: time.Date(2021, 1, 1, 12, 10, 0, 0, time.UTC)},
		"'spark' LIKE 's%'":         true,
		"`user_id` >= 7":            true,
		"1.5e1":                     15.0,
	} {
		c, err := ParseExpr(text)
		require.NoError(t, err, text)
		b, err := c.Bind(transactions)
		if !assert.NoError(t, err, text) {
			continue
		}
		v, err := b.Eval(row)
		require.NoError(t, err, text)
		assert.Equal(t, want, v, text)
	}
}

func TestParseExprAlias(t *testing.T) {
	c, err := ParseExpr("amount * 2 AS doubled")
	require.NoError(t, err)
	assert.Equal(t, "doubled", column.Name(c))
}

func TestSyntaxErrors(t *testing.T) {
	for query, pos := range map[string]int{
		"SELECT FROM t":                   8,
		"SELECT a FROM":                   14,
		"SELECT a FROM t WHERE":           22,
		"SELECT a FROM t LIMIT x":         23,
		"SELECT a FROM t JOIN u":          23,
		"SELECT a FROM t extra junk":      23,
		"SELECT nope(a) FROM t":           8,
		"SELECT 'open FROM t":             8,
		"SELECT a FROM t WHERE a # 1":     25,
		"SELECT DISTINCT a FROM t":        8,
		"SELECT count(DISTINCT a) FROM t": 14,
	} {
		_, err := Parse(query)
		var syntax *SyntaxError
		if assert.ErrorAs(t, err, &syntax, query) {
			assert.Equal(t, pos, syntax.Pos, query)
		}
	}
}
