package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name    string  `table:"name"`
	Age     int     `table:"age"`
	Height  float64 `table:"height"`
	Email   *string `table:"email"`
	Ignored string  `table:"-"`
	secret  string
}

func TestInfer(t *testing.T) {
	schema, err := Infer[person]()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "height", "email"}, schema.Names())
	assert.Equal(t, LongType, schema.Fields[1].Type)
	assert.False(t, schema.Fields[1].Nullable)
	assert.True(t, schema.Fields[3].Nullable)
	assert.Equal(t, "name STRING, age LONG NOT NULL, height DOUBLE NOT NULL, email STRING", schema.DDL())

	_, err = Infer[int]()
	assert.Error(t, err)

	type nested struct {
		Inner person
	}
	_, err = Infer[nested]()
	assert.Error(t, err)
}

func TestStructRoundTrip(t *testing.T) {
	email := "ann@example.com"
	rows, schema, err := FromStructs([]person{
		{Name: "ann", Age: 31, Height: 1.7, Email: &email},
		{Name: "bob", Age: 17},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"ann", int64(31), 1.7, "ann@example.com"}, rows[0])
	assert.Nil(t, rows[1][3])

	p, err := ToStruct[person](rows[0], schema)
	require.NoError(t, err)
	assert.Equal(t, "ann", p.Name)
	assert.Equal(t, 31, p.Age)
	require.NotNil(t, p.Email)
	assert.Equal(t, email, *p.Email)

	// subset schema in a different order
	subset := NewSchema(NewField("age", LongType), NewField("NAME", StringType))
	p, err = ToStruct[person](Row{int64(5), "cid"}, subset)
	require.NoError(t, err)
	assert.Equal(t, person{Name: "cid", Age: 5}, p)
}

func TestSchemaIndex(t *testing.T) {
	left := NewSchema(NewField("id", LongType), NewField("name", StringType)).WithQualifier("u")
	right := NewSchema(NewField("id", LongType), NewField("amount", DoubleType)).WithQualifier("t")
	joined := left.Concat(right)

	_, err := joined.Index("id")
	assert.ErrorIs(t, err, ErrAmbiguousField)
	i, err := joined.Index("t.id")
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	i, err = joined.Index("AMOUNT")
	require.NoError(t, err)
	assert.Equal(t, 3, i)
	_, err = joined.Index("missing")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestParseDDL(t *testing.T) {
	schema, err := ParseDDL("name STRING, age INT NOT NULL, joined timestamp")
	require.NoError(t, err)
	assert.Equal(t, "root\n |-- name: string (nullable = true)\n |-- age: long (nullable = false)\n |-- joined: timestamp (nullable = true)\n",
		schema.TreeString())

	_, err = ParseDDL("name")
	assert.Error(t, err)
	_, err = ParseDDL("name BLOB")
	assert.Error(t, err)
	_, err = ParseDDL("")
	assert.Error(t, err)
}

func TestParseAndInfer(t *testing.T) {
	v, err := Parse("42", LongType)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	_, err = Parse("forty", LongType)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	v, err = Parse("", LongType)
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = Parse("2021-03-04 10:11:12", TimestampType)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 10, 11, 12, 0, time.UTC), v)

	assert.Equal(t, LongType, InferType("12"))
	assert.Equal(t, DoubleType, InferType("1.5"))
	assert.Equal(t, BooleanType, InferType("TRUE"))
	assert.Equal(t, TimestampType, InferType("2021-03-04 10:11:12"))
	assert.Equal(t, StringType, InferType("hello"))
	assert.Equal(t, NullType, InferType(""))

	assert.Equal(t, DoubleType, MergeTypes(LongType, DoubleType))
	assert.Equal(t, StringType, MergeTypes(LongType, BooleanType))
	assert.Equal(t, LongType, MergeTypes(NullType, LongType))
}

func TestCompareAndKey(t *testing.T) {
	c, err := Compare(int64(2), 2.5)
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	c, err = Compare(nil, "a")
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	_, err = Compare("a", int64(1))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.Equal(t, KeyOf(int64(1), "a"), KeyOf(1.0, "a"))
	assert.NotEqual(t, KeyOf("true"), KeyOf(true))
	assert.NotEqual(t, KeyOf(nil), KeyOf("n"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "30.0", Format(30.0))
	assert.Equal(t, "30.25", Format(30.25))
	assert.Equal(t, "null", Format(nil))
	w := Window{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2021, 1, 1, 0, 10, 0, 0, time.UTC)}
	assert.Equal(t, "{2021-01-01 00:00:00, 2021-01-01 00:10:00}", Format(w))
	assert.Equal(t, "[a,1]", Row{"a", int64(1)}.String())
}

func TestParseInterval(t *testing.T) {
	for text, want := range map[string]time.Duration{
		"10 minutes":         10 * time.Minute,
		"1 hour":             time.Hour,
		"1 hour 30 seconds":  time.Hour + 30*time.Second,
		"interval 2 seconds": 2 * time.Second,
		"90s":                90 * time.Second,
		"500 milliseconds":   500 * time.Millisecond,
	} {
		d, err := ParseInterval(text)
		if assert.NoError(t, err, text) {
			assert.Equal(t, want, d, text)
		}
	}
	_, err := ParseInterval("ten minutes")
	assert.Error(t, err)
	_, err = ParseInterval("10 fortnights")
	assert.Error(t, err)
}
