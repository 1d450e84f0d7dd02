package types

import (
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const tagName = "table"

var (
	timeType   = reflect.TypeOf(time.Time{})
	windowType = reflect.TypeOf(Window{})
)

type structField struct {
	index []int
	ptr   bool
}

// Infer derives a Schema from the exported fields of struct T.
// The `table:"name"` tag renames a column, `table:"-"` skips the field.
func Infer[T any]() (Schema, error) {
	schema, _, err := inferType(reflect.TypeOf((*T)(nil)).Elem())
	return schema, err
}

func inferType(t reflect.Type) (Schema, []structField, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return Schema{}, nil, errors.Errorf("can't infer schema from %s, struct expected", t)
	}
	var (
		fields  []Field
		mapping []structField
	)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup(tagName); ok {
			tag = strings.Split(tag, ",")[0]
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		ft, ptr := sf.Type, false
		if ft.Kind() == reflect.Pointer {
			ft, ptr = ft.Elem(), true
		}
		dataType, err := dataTypeOf(ft)
		if err != nil {
			return Schema{}, nil, errors.WithMessagef(err, "field %s.%s", t.Name(), sf.Name)
		}
		fields = append(fields, Field{
			Name:     name,
			Type:     dataType,
			Nullable: ptr || dataType == StringType || dataType == TimestampType || dataType == ArrayType,
		})
		mapping = append(mapping, structField{index: sf.Index, ptr: ptr})
	}
	if len(fields) == 0 {
		return Schema{}, nil, errors.Errorf("%s has no exported fields", t)
	}
	return Schema{Fields: fields}, mapping, nil
}

func dataTypeOf(t reflect.Type) (DataType, error) {
	switch t {
	case timeType:
		return TimestampType, nil
	case windowType:
		return WindowType, nil
	}
	switch t.Kind() {
	case reflect.String:
		return StringType, nil
	case reflect.Bool:
		return BooleanType, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return LongType, nil
	case reflect.Float32, reflect.Float64:
		return DoubleType, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return ArrayType, nil
		}
	}
	return NullType, errors.Errorf("unsupported type %s", t)
}

// FromStructs converts values into rows of the schema inferred from T.
func FromStructs[T any](values []T) ([]Row, Schema, error) {
	schema, mapping, err := inferType(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, Schema{}, err
	}
	rows := make([]Row, 0, len(values))
	for _, value := range values {
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				continue
			}
			rv = rv.Elem()
		}
		row := make(Row, len(mapping))
		for i, m := range mapping {
			fv := rv.FieldByIndex(m.index)
			if m.ptr {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if row[i], err = Normalize(fv.Interface(), schema.Fields[i].Type); err != nil {
				return nil, Schema{}, errors.WithMessagef(err, "field %s", schema.Fields[i].Name)
			}
		}
		rows = append(rows, row)
	}
	return rows, schema, nil
}

// ToStruct fills a T from row, matching struct columns to schema fields by name.
// Columns missing from the schema are left at their zero value.
func ToStruct[T any](row Row, schema Schema) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	target, mapping, err := inferType(rv.Type())
	if err != nil {
		return out, err
	}
	if rv.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rv.Type().Elem()))
		rv = rv.Elem()
	}
	for i, m := range mapping {
		idx, err := schema.Index(target.Fields[i].Name)
		if err != nil {
			continue
		}
		v := row[idx]
		if v == nil {
			continue
		}
		if v, err = Normalize(v, target.Fields[i].Type); err != nil {
			return out, errors.WithMessagef(err, "column %s", target.Fields[i].Name)
		}
		fv := rv.FieldByIndex(m.index)
		if m.ptr {
			fv.Set(reflect.New(fv.Type().Elem()))
			fv = fv.Elem()
		}
		if err = assign(fv, v); err != nil {
			return out, errors.WithMessagef(err, "column %s", target.Fields[i].Name)
		}
	}
	return out, nil
}

func assign(fv reflect.Value, v any) error {
	switch x := v.(type) {
	case int64:
		switch fv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(x)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fv.SetUint(uint64(x))
			return nil
		}
	case float64:
		if fv.Kind() == reflect.Float32 || fv.Kind() == reflect.Float64 {
			fv.SetFloat(x)
			return nil
		}
	default:
		value := reflect.ValueOf(v)
		if value.Type().AssignableTo(fv.Type()) {
			fv.Set(value)
			return nil
		}
		if value.Type().ConvertibleTo(fv.Type()) {
			fv.Set(value.Convert(fv.Type()))
			return nil
		}
	}
	return errors.WithMessagef(ErrTypeMismatch, "can't assign %T to %s", v, fv.Type())
}
