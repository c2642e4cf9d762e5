package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every Parse failure.
var ErrSyntax = errors.New("jsonvalue: invalid JSON")

// Parse decodes a single JSON document. Trailing data is an error.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after top-level value", ErrSyntax)
	}

	return v, nil
}

// ParseString is Parse for string input.
func ParseString(s string) (Value, error) {
	return Parse([]byte(s))
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(s string) Value {
	v, err := ParseString(s)
	if err != nil {
		panic(err)
	}

	return v
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return parseNumber(t)
	case json.Delim:
		switch t {
		case '[':
			return parseArray(dec)
		case '{':
			return parseObject(dec)
		}
	}

	return Value{}, fmt.Errorf("%w: unexpected token %v", ErrSyntax, tok)
}

func parseNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: number %q: %w", ErrSyntax, s, err)
	}

	return Real(f), nil
}

func parseArray(dec *json.Decoder) (Value, error) {
	elems := []Value{}

	for dec.More() {
		v, err := parseValue(dec)
		if err != nil {
			return Value{}, err
		}

		elems = append(elems, v)
	}

	if _, err := dec.Token(); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	return Array(elems...), nil
}

func parseObject(dec *json.Decoder) (Value, error) {
	obj := NewObject()

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrSyntax, err)
		}

		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: object key %v is not a string", ErrSyntax, tok)
		}

		v, err := parseValue(dec)
		if err != nil {
			return Value{}, err
		}

		obj.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	return ObjectValue(obj), nil
}

// Marshal encodes v as compact JSON, keeping object member order.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	return Marshal(ObjectValue(o))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}

	parsed, ok := v.AsObject()
	if !ok {
		return fmt.Errorf("%w: expected object, got %s", ErrSyntax, v.Kind())
	}

	*o = *parsed

	return nil
}

// String returns the compact JSON text of v, or an error marker.
func (v Value) String() string {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("<invalid json: %v>", err)
	}

	return string(b)
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInteger:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindReal:
		s, err := formatReal(v.f)
		if err != nil {
			return err
		}

		buf.WriteString(s)
	case KindString:
		return writeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')

		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeValue(buf, e); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')

		for i, m := range v.obj.Members() {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeString(buf, m.Key); err != nil {
				return err
			}

			buf.WriteByte(':')

			if err := writeValue(buf, m.Value); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonvalue: unknown kind %v", v.kind)
	}

	return nil
}

// formatReal renders f so that it parses back as a real: a fraction or
// exponent is always present.
func formatReal(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("jsonvalue: unsupported real value %v", f)
	}

	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("jsonvalue: encoding string: %w", err)
	}

	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)

	return nil
}
