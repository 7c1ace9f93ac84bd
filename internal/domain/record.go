package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
)

// Record is the flat key/value form persistence collaborators store DTOs as.
type Record map[string]any

var rawMessageType = reflect.TypeFor[json.RawMessage]()

// ToRecord converts any DTO into a Record using its json field names. Nested
// DTOs become nested Records. Top level json.RawMessage fields are kept as
// their original text, and empty maps stay empty instead of disappearing.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	var record Record
	if err := decodeNumbers(data, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	if record == nil {
		return record, nil
	}

	for name, field := range topLevelFields(reflect.ValueOf(v)) {
		switch {
		case field.Type() == rawMessageType:
			if field.Len() > 0 {
				record[name] = string(field.Bytes())
			}
		case field.Kind() == reflect.Map && !field.IsNil() && field.Len() == 0:
			record[name] = Record{}
		}
	}

	return record, nil
}

// FromRecord rebuilds a DTO of type T from a Record produced by ToRecord.
func FromRecord[T any](record Record) (T, error) {
	var out T

	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	raws := make(map[string]string)
	for name, field := range topLevelFields(reflect.New(t)) {
		if field.Type() != rawMessageType {
			continue
		}
		if text, ok := record[name].(string); ok {
			raws[name] = text
		}
	}

	if len(raws) > 0 {
		record = maps.Clone(record)
		for name := range raws {
			delete(record, name)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}

	if err := decodeNumbers(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}

	for name, field := range topLevelFields(reflect.ValueOf(&out)) {
		if text, ok := raws[name]; ok && field.CanSet() {
			field.SetBytes([]byte(text))
		}
	}

	return out, nil
}

// decodeNumbers keeps int64 amounts exact by avoiding float64 intermediates.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}

// topLevelFields yields the exported fields of the struct behind v, keyed by
// json name. Pointers are followed until a struct or nil is reached.
func topLevelFields(v reflect.Value) func(yield func(string, reflect.Value) bool) {
	return func(yield func(string, reflect.Value) bool) {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return
		}

		t := v.Type()
		for i := range t.NumField() {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}

			name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = sf.Name
			}

			if !yield(name, v.Field(i)) {
				return
			}
		}
	}
}
