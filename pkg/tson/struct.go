package tson

import (
	"reflect"
	"strings"
	"sync"
)

type fieldInfo struct {
	index     int
	name      string
	omitEmpty bool
}

var fieldCache sync.Map // map[reflect.Type][]fieldInfo

// cachedFields returns the encodable fields of struct type t.
func cachedFields(t reflect.Type) []fieldInfo {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]fieldInfo)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t))
	return f.([]fieldInfo)
}

func typeFields(t reflect.Type) []fieldInfo {
	fields := make([]fieldInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("tson")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		fields = append(fields, fieldInfo{
			index:     i,
			name:      name,
			omitEmpty: opts == "omitempty",
		})
	}
	return fields
}
