// Package typedvalue transcodes between plain JSON and the document store's
// typed-value wire format, where every value is wrapped in a single-key
// envelope naming its type:
//
//	"hi"            -> {"stringValue": "hi"}
//	[1, 2]          -> {"arrayValue": {"values": [{"integerValue": "1"}, ...]}}
//	{"a": true}     -> {"mapValue": {"fields": {"a": {"booleanValue": true}}}}
//
// A document root is the bare {"fields": {...}} layer without an envelope.
package typedvalue

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

// Envelope keys. The set is closed: anything else is a decode failure.
const (
	KeyString  = "stringValue"
	KeyInteger = "integerValue"
	KeyDouble  = "doubleValue"
	KeyBoolean = "booleanValue"
	KeyNull    = "nullValue"
	KeyArray   = "arrayValue"
	KeyMap     = "mapValue"

	keyFields = "fields"
	keyValues = "values"
)

// Sentinel errors. Use errors.Is.
var (
	// ErrNestedArray is returned when an array is placed directly inside
	// another array. The wire format cannot express it; wrap the inner array
	// in an object instead.
	ErrNestedArray = errors.New("typedvalue: array directly inside array")

	// ErrMalformed is returned when an envelope is empty, has more than one
	// key, names an unknown type, or carries a payload of the wrong shape.
	ErrMalformed = errors.New("typedvalue: malformed typed value")
)

// EncodeDocument converts a plain JSON object to a document root
// ({"fields": {...}}).
func EncodeDocument(doc *jsonvalue.Object) (jsonvalue.Value, error) {
	fields, err := encodeFields(doc)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	return jsonvalue.ObjectValue(jsonvalue.NewObject().Set(keyFields, fields)), nil
}

// DecodeDocument converts a document root back to a plain JSON object. Any
// sibling keys of "fields" (name, createTime, ...) are ignored; a document
// without "fields" decodes to an empty object.
func DecodeDocument(root jsonvalue.Value) (*jsonvalue.Object, error) {
	obj, ok := root.AsObject()
	if !ok {
		return nil, fmt.Errorf("%w: document root is %s, want object", ErrMalformed, root.Kind())
	}

	fields, ok := obj.Get(keyFields)
	if !ok {
		return jsonvalue.NewObject(), nil
	}

	return decodeFields(fields)
}

// Encode wraps a single JSON value in its typed envelope.
func Encode(v jsonvalue.Value) (jsonvalue.Value, error) {
	return encode(v, false)
}

func encode(v jsonvalue.Value, inArray bool) (jsonvalue.Value, error) {
	var (
		key     string
		payload jsonvalue.Value
	)

	switch v.Kind() {
	case jsonvalue.KindString:
		key, payload = KeyString, v
	case jsonvalue.KindInteger:
		i, _ := v.AsInt()
		key, payload = KeyInteger, jsonvalue.String(strconv.FormatInt(i, 10))
	case jsonvalue.KindReal:
		key, payload = KeyDouble, v
	case jsonvalue.KindBool:
		key, payload = KeyBoolean, v
	case jsonvalue.KindNull:
		key, payload = KeyNull, jsonvalue.Null()
	case jsonvalue.KindArray:
		if inArray {
			return jsonvalue.Value{}, ErrNestedArray
		}

		elems, _ := v.AsArray()
		values := make([]jsonvalue.Value, 0, len(elems))

		for i, e := range elems {
			ev, err := encode(e, true)
			if err != nil {
				return jsonvalue.Value{}, fmt.Errorf("index %d: %w", i, err)
			}

			values = append(values, ev)
		}

		key = KeyArray
		payload = jsonvalue.ObjectValue(jsonvalue.NewObject().Set(keyValues, jsonvalue.Array(values...)))
	case jsonvalue.KindObject:
		obj, _ := v.AsObject()

		fields, err := encodeFields(obj)
		if err != nil {
			return jsonvalue.Value{}, err
		}

		key = KeyMap
		payload = jsonvalue.ObjectValue(jsonvalue.NewObject().Set(keyFields, fields))
	default:
		return jsonvalue.Value{}, fmt.Errorf("typedvalue: cannot encode %s", v.Kind())
	}

	return jsonvalue.ObjectValue(jsonvalue.NewObject().Set(key, payload)), nil
}

func encodeFields(obj *jsonvalue.Object) (jsonvalue.Value, error) {
	fields := jsonvalue.NewObject()

	for _, m := range obj.Members() {
		ev, err := encode(m.Value, false)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("field %q: %w", m.Key, err)
		}

		fields.Set(m.Key, ev)
	}

	return jsonvalue.ObjectValue(fields), nil
}

// Decode unwraps a typed envelope back to plain JSON.
func Decode(envelope jsonvalue.Value) (jsonvalue.Value, error) {
	obj, ok := envelope.AsObject()
	if !ok {
		return jsonvalue.Value{}, fmt.Errorf("%w: envelope is %s, want object", ErrMalformed, envelope.Kind())
	}

	if obj.Len() != 1 {
		return jsonvalue.Value{}, fmt.Errorf("%w: envelope has %d keys, want 1", ErrMalformed, obj.Len())
	}

	m := obj.Members()[0]

	switch m.Key {
	case KeyString:
		if m.Value.Kind() != jsonvalue.KindString {
			return jsonvalue.Value{}, payloadErr(m)
		}

		return m.Value, nil
	case KeyInteger:
		return decodeInteger(m)
	case KeyDouble:
		return decodeDouble(m)
	case KeyBoolean:
		return decodeBoolean(m)
	case KeyNull:
		return jsonvalue.Null(), nil
	case KeyArray:
		return decodeArray(m)
	case KeyMap:
		inner, ok := m.Value.AsObject()
		if !ok {
			return jsonvalue.Value{}, payloadErr(m)
		}

		fields, ok := inner.Get(keyFields)
		if !ok {
			return jsonvalue.ObjectValue(nil), nil
		}

		out, err := decodeFields(fields)
		if err != nil {
			return jsonvalue.Value{}, err
		}

		return jsonvalue.ObjectValue(out), nil
	default:
		return jsonvalue.Value{}, fmt.Errorf("%w: unknown envelope key %q", ErrMalformed, m.Key)
	}
}

func decodeFields(fields jsonvalue.Value) (*jsonvalue.Object, error) {
	obj, ok := fields.AsObject()
	if !ok {
		return nil, fmt.Errorf("%w: fields is %s, want object", ErrMalformed, fields.Kind())
	}

	out := jsonvalue.NewObject()

	for _, m := range obj.Members() {
		v, err := Decode(m.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", m.Key, err)
		}

		out.Set(m.Key, v)
	}

	return out, nil
}

// decodeInteger accepts both the canonical string form and a bare number.
func decodeInteger(m jsonvalue.Member) (jsonvalue.Value, error) {
	if i, ok := m.Value.AsInt(); ok {
		return jsonvalue.Int(i), nil
	}

	s, ok := m.Value.AsString()
	if !ok {
		return jsonvalue.Value{}, payloadErr(m)
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("%w: %s %q: %w", ErrMalformed, m.Key, s, err)
	}

	return jsonvalue.Int(i), nil
}

// decodeDouble accepts reals and integers (the server drops a zero fraction).
// "NaN" and "Infinity" strings are rejected: plain JSON cannot carry them.
func decodeDouble(m jsonvalue.Member) (jsonvalue.Value, error) {
	if f, ok := m.Value.AsReal(); ok {
		return jsonvalue.Real(f), nil
	}

	if i, ok := m.Value.AsInt(); ok {
		return jsonvalue.Real(float64(i)), nil
	}

	return jsonvalue.Value{}, payloadErr(m)
}

func decodeBoolean(m jsonvalue.Member) (jsonvalue.Value, error) {
	if b, ok := m.Value.AsBool(); ok {
		return jsonvalue.Bool(b), nil
	}

	if s, ok := m.Value.AsString(); ok {
		b, err := strconv.ParseBool(s)
		if err == nil {
			return jsonvalue.Bool(b), nil
		}
	}

	return jsonvalue.Value{}, payloadErr(m)
}

func decodeArray(m jsonvalue.Member) (jsonvalue.Value, error) {
	inner, ok := m.Value.AsObject()
	if !ok {
		return jsonvalue.Value{}, payloadErr(m)
	}

	// An empty array is sent as {"arrayValue": {}}.
	values, ok := inner.Get(keyValues)
	if !ok {
		return jsonvalue.Array(), nil
	}

	elems, ok := values.AsArray()
	if !ok {
		return jsonvalue.Value{}, fmt.Errorf("%w: arrayValue.values is %s, want array", ErrMalformed, values.Kind())
	}

	out := make([]jsonvalue.Value, 0, len(elems))

	for i, e := range elems {
		v, err := Decode(e)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("index %d: %w", i, err)
		}

		out = append(out, v)
	}

	return jsonvalue.Array(out...), nil
}

func payloadErr(m jsonvalue.Member) error {
	return fmt.Errorf("%w: %s payload is %s", ErrMalformed, m.Key, m.Value.Kind())
}
