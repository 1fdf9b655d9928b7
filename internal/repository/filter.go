package repository

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// Op оператор выражения фильтра
type Op string

const (
	OpAll      Op = ""
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
	OpExists   Op = "exists"
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
)

// Filter выражение над полями документа. Нулевое значение подходит
// под любой документ. Поля адресуются по JSON имени, вложенные через точку.
type Filter struct {
	Op      Op
	Field   string
	Value   any
	Values  []any
	Filters []Filter
}

func All() Filter { return Filter{} }

func Eq(field string, v any) Filter  { return Filter{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) Filter  { return Filter{Op: OpNe, Field: field, Value: v} }
func Gt(field string, v any) Filter  { return Filter{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v any) Filter { return Filter{Op: OpGte, Field: field, Value: v} }
func Lt(field string, v any) Filter  { return Filter{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v any) Filter { return Filter{Op: OpLte, Field: field, Value: v} }

// In поле равно одному из значений
func In(field string, values ...any) Filter {
	return Filter{Op: OpIn, Field: field, Values: values}
}

// Contains массив содержит значение, либо строка содержит подстроку
func Contains(field string, v any) Filter {
	return Filter{Op: OpContains, Field: field, Value: v}
}

// Exists поле присутствует и не null
func Exists(field string) Filter {
	return Filter{Op: OpExists, Field: field}
}

func And(filters ...Filter) Filter { return Filter{Op: OpAnd, Filters: filters} }
func Or(filters ...Filter) Filter  { return Filter{Op: OpOr, Filters: filters} }
func Not(f Filter) Filter          { return Filter{Op: OpNot, Filters: []Filter{f}} }

// Where строгое равенство по всем полям предиката
func Where(predicate map[string]any) Filter {
	if len(predicate) == 0 {
		return All()
	}
	fields := make([]string, 0, len(predicate))
	for k := range predicate {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	filters := make([]Filter, 0, len(fields))
	for _, k := range fields {
		filters = append(filters, Eq(k, predicate[k]))
	}
	if len(filters) == 1 {
		return filters[0]
	}
	return And(filters...)
}

// Match вычисляет фильтр на документе
func (f Filter) Match(doc Document) bool {
	switch f.Op {
	case OpAll:
		return true
	case OpAnd:
		for _, sub := range f.Filters {
			if !sub.Match(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.Filters {
			if sub.Match(doc) {
				return true
			}
		}
		return false
	case OpNot:
		return len(f.Filters) == 1 && !f.Filters[0].Match(doc)
	}

	v, ok := lookup(doc, f.Field)

	switch f.Op {
	case OpExists:
		return ok && v != nil
	case OpEq:
		return ok && equal(v, normalize(f.Value))
	case OpNe:
		return !ok || !equal(v, normalize(f.Value))
	case OpIn:
		if !ok {
			return false
		}
		for _, candidate := range f.Values {
			if equal(v, normalize(candidate)) {
				return true
			}
		}
		return false
	case OpContains:
		if !ok {
			return false
		}
		return contains(v, normalize(f.Value))
	case OpGt, OpGte, OpLt, OpLte:
		if !ok {
			return false
		}
		c, comparable := compare(v, normalize(f.Value))
		if !comparable {
			return false
		}
		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

// lookup значение по пути a.b.c
func lookup(doc Document, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if d, isDoc := cur.(Document); isDoc {
				m = d
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize приводит значение фильтра к виду, в котором JSON декодирует
// документ: числа в float64, время в строку RFC 3339, именованные строки в string.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case float64, string, bool:
		return t
	case time.Time:
		return formatTimestamp(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatTimestamp(*t)
	case Document:
		return normalize(map[string]any(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, el := range h {
			if equal(el, needle) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	}
	return false
}

// compare сравнивает числа, время и строки. ok = false для несравнимых типов.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if tx, ty, both := parseTimes(x, y); both {
			return tx.Compare(ty), true
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func parseTimes(a, b string) (time.Time, time.Time, bool) {
	if len(a) < 20 || len(b) < 20 {
		return time.Time{}, time.Time{}, false
	}
	ta, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	tb, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return ta, tb, true
}
