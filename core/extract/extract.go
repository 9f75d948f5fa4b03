// Package extract provides fault-tolerant lookup of nested fields over
// loosely-structured records. The same dotted path works against both
// map-backed records (raw JSON decoding) and struct-backed records (typed
// decoding), so callers normalize issues from either retrieval path with one
// set of path expressions.
package extract

import (
	"reflect"
	"strings"
)

// Get traverses record along the dotted path and returns the value found, or
// def at the first step that does not expose the next name. It never panics
// and never returns an error. Map keys match exactly, then case-insensitively;
// struct fields match exported names case-insensitively. Pointers and
// interfaces are dereferenced at each step, and a nil terminal value yields def.
func Get(record any, path string, def any) any {
	cur := record
	for _, name := range strings.Split(path, ".") {
		next, ok := step(cur, name)
		if !ok {
			return def
		}
		cur = next
	}
	if cur == nil {
		return def
	}
	return cur
}

// GetString returns the value at path if it is a string, otherwise def.
func GetString(record any, path string, def string) string {
	if s, ok := Get(record, path, nil).(string); ok {
		return s
	}
	return def
}

// GetFloat returns the value at path coerced to float64. JSON decoding
// produces float64 for all numbers, but typed records may carry ints.
func GetFloat(record any, path string, def float64) float64 {
	switch v := Get(record, path, nil).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// GetStringSlice returns the value at path as a string slice, accepting both
// []string and []any containing strings. Non-string elements are skipped.
func GetStringSlice(record any, path string) []string {
	switch v := Get(record, path, nil).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func step(cur any, name string) (any, bool) {
	if cur == nil {
		return nil, false
	}
	if m, ok := cur.(map[string]any); ok {
		return mapStep(m, name)
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(name))
		if !mv.IsValid() {
			for _, key := range rv.MapKeys() {
				if strings.EqualFold(key.String(), name) {
					mv = rv.MapIndex(key)
					break
				}
			}
		}
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if strings.EqualFold(f.Name, name) || strings.EqualFold(jsonName(f), name) {
				return rv.Field(i).Interface(), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func mapStep(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}
