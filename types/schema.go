package types

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrFieldNotFound  = errors.New("cannot resolve column")
	ErrAmbiguousField = errors.New("ambiguous column reference")
)

type Field struct {
	Name     string
	Type     DataType
	Nullable bool
	// Qualifier is the relation alias the field came from, used to resolve "alias.name".
	Qualifier string
}

func NewField(name string, dataType DataType) Field {
	return Field{Name: name, Type: dataType, Nullable: true}
}

type Schema struct {
	Fields []Field
}

func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

func (s Schema) Len() int {
	return len(s.Fields)
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Index resolves name or qualifier.name, case-insensitively.
func (s Schema) Index(ref string) (int, error) {
	found := -1
	for i, f := range s.Fields {
		if strings.EqualFold(f.Name, ref) {
			if found >= 0 {
				return -1, errors.WithMessagef(ErrAmbiguousField, "%q could be %s", ref, s.Names())
			}
			found = i
		}
	}
	if found >= 0 {
		return found, nil
	}
	if dot := strings.Index(ref, "."); dot > 0 {
		qualifier, name := ref[:dot], ref[dot+1:]
		for i, f := range s.Fields {
			if strings.EqualFold(f.Qualifier, qualifier) && strings.EqualFold(f.Name, name) {
				if found >= 0 {
					return -1, errors.WithMessagef(ErrAmbiguousField, "%q", ref)
				}
				found = i
			}
		}
		if found >= 0 {
			return found, nil
		}
	}
	return -1, errors.WithMessagef(ErrFieldNotFound, "%q given input columns %s", ref, s.Names())
}

func (s Schema) Field(ref string) (Field, error) {
	i, err := s.Index(ref)
	if err != nil {
		return Field{}, err
	}
	return s.Fields[i], nil
}

func (s Schema) Has(ref string) bool {
	_, err := s.Index(ref)
	return err == nil
}

func (s Schema) WithQualifier(qualifier string) Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Qualifier = qualifier
		fields[i] = f
	}
	return Schema{Fields: fields}
}

// Concat appends other's fields after s's.
func (s Schema) Concat(other Schema) Schema {
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, other.Fields...)
	return Schema{Fields: fields}
}

// Nullable returns a copy with every field nullable, used for the outer side of joins.
func (s Schema) Nullable() Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Nullable = true
		fields[i] = f
	}
	return Schema{Fields: fields}
}

// Equal compares names and types, ignoring qualifiers and nullability.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if !strings.EqualFold(s.Fields[i].Name, other.Fields[i].Name) || s.Fields[i].Type != other.Fields[i].Type {
			return false
		}
	}
	return true
}

func (s Schema) DDL() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + " " + f.Type.SQLName()
		if !f.Nullable {
			parts[i] += " NOT NULL"
		}
	}
	return strings.Join(parts, ", ")
}

// TreeString renders the schema the way printSchema does.
func (s Schema) TreeString() string {
	var b strings.Builder
	b.WriteString("root\n")
	for _, f := range s.Fields {
		b.WriteString(" |-- ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		if f.Type == WindowType {
			b.WriteString("struct")
		} else {
			b.WriteString(f.Type.String())
		}
		if f.Nullable {
			b.WriteString(" (nullable = true)\n")
		} else {
			b.WriteString(" (nullable = false)\n")
		}
		if f.Type == WindowType {
			b.WriteString(" |    |-- start: timestamp (nullable = true)\n")
			b.WriteString(" |    |-- end: timestamp (nullable = true)\n")
		}
	}
	return b.String()
}

// ParseDDL parses "name STRING, age LONG NOT NULL".
func ParseDDL(ddl string) (Schema, error) {
	var fields []Field
	for _, part := range strings.Split(ddl, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Fields(part)
		if len(tokens) < 2 {
			return Schema{}, errors.Errorf("invalid field definition %q", part)
		}
		name := strings.Trim(tokens[0], "`")
		dataType, err := ParseDataType(tokens[1])
		if err != nil {
			return Schema{}, errors.WithMessagef(err, "field %q", name)
		}
		field := NewField(name, dataType)
		rest := strings.ToUpper(strings.Join(tokens[2:], " "))
		switch rest {
		case "":
		case "NOT NULL":
			field.Nullable = false
		default:
			return Schema{}, errors.Errorf("unexpected %q in field definition %q", rest, part)
		}
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return Schema{}, errors.New("empty schema definition")
	}
	return Schema{Fields: fields}, nil
}
