/*
	Package canon implements R3's canonical serialization: a deterministic
	byte encoding of a small value tree (nulls, booleans, integers, finite
	floats, strings, ordered maps with string keys, and sequences).

	The encoding is used everywhere a byte-for-byte reproducible digest is
	required: dependency records, and eventually the job's own manifest
	fields. It intentionally does not go through encoding/json, because the
	standard library does not guarantee the exact key ordering, number form,
	or escape policy this protocol depends on -- see Marshal below.
*/
package canon

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// EncodingError is returned for values that cannot be canonically encoded:
// NaN/Infinity floats, non-string map keys, or cyclic structures.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("canon: %s", e.Reason)
}

// Encode writes the canonical form of v to w.
//
// v must be built from nil, bool, int, int64, float64, string,
// []interface{}, and map[string]interface{} -- the closed value-tree this
// package accepts. Any other concrete type is an EncodingError.
func Encode(w *bytes.Buffer, v interface{}) error {
	enc := &encoder{w: w, stack: map[uintptr]bool{}}
	return enc.encode(v)
}

// Marshal is a convenience wrapper around Encode that returns the canonical
// bytes directly.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	w     *bytes.Buffer
	stack map[uintptr]bool // pointer identity of maps/slices currently being encoded, for cycle detection
}

func (e *encoder) encode(v interface{}) error {
	switch val := v.(type) {
	case nil:
		e.w.WriteString("null")
		return nil
	case bool:
		if val {
			e.w.WriteString("true")
		} else {
			e.w.WriteString("false")
		}
		return nil
	case int:
		e.w.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		e.w.WriteString(strconv.FormatInt(val, 10))
		return nil
	case float64:
		return e.encodeFloat(val)
	case string:
		return e.encodeString(val)
	case []interface{}:
		return e.encodeSlice(val)
	case map[string]interface{}:
		return e.encodeMap(val)
	default:
		return &EncodingError{Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func (e *encoder) encodeFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Reason: "NaN and Infinity are not representable"}
	}
	// Shortest round-trippable decimal form, never in exponent notation, so
	// the output always matches the JSON number grammar.
	s := strconv.FormatFloat(f, 'f', -1, 64)
	e.w.WriteString(s)
	return nil
}

func (e *encoder) encodeString(s string) error {
	e.w.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			e.w.WriteString(`\"`)
		case '\\':
			e.w.WriteString(`\\`)
		case '\b':
			e.w.WriteString(`\b`)
		case '\f':
			e.w.WriteString(`\f`)
		case '\n':
			e.w.WriteString(`\n`)
		case '\r':
			e.w.WriteString(`\r`)
		case '\t':
			e.w.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(e.w, `\u%04x`, r)
			case r > 0xFFFF:
				// Characters outside the BMP are escaped as a UTF-16
				// surrogate pair, keeping the output within a fixed,
				// unambiguous character model.
				r1, r2 := surrogatePair(r)
				fmt.Fprintf(e.w, `\u%04x\u%04x`, r1, r2)
			default:
				e.w.WriteRune(r)
			}
		}
	}
	e.w.WriteByte('"')
	return nil
}

func surrogatePair(r rune) (rune, rune) {
	r -= 0x10000
	hi := 0xD800 + (r >> 10)
	lo := 0xDC00 + (r & 0x3FF)
	return hi, lo
}

func (e *encoder) encodeSlice(s []interface{}) error {
	if len(s) > 0 {
		if err := e.pushCycleGuard(s); err != nil {
			return err
		}
		defer e.popCycleGuard(s)
	}

	e.w.WriteByte('[')
	for i, item := range s {
		if i > 0 {
			e.w.WriteByte(',')
		}
		if err := e.encode(item); err != nil {
			return err
		}
	}
	e.w.WriteByte(']')
	return nil
}

func (e *encoder) encodeMap(m map[string]interface{}) error {
	if len(m) > 0 {
		if err := e.pushCycleGuard(m); err != nil {
			return err
		}
		defer e.popCycleGuard(m)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Sorting Go strings byte-wise sorts valid UTF-8 by code point.
	sort.Strings(keys)

	e.w.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.w.WriteByte(',')
		}
		if err := e.encodeString(k); err != nil {
			return err
		}
		e.w.WriteByte(':')
		if err := e.encode(m[k]); err != nil {
			return err
		}
	}
	e.w.WriteByte('}')
	return nil
}

// pushCycleGuard records the underlying data pointer of a map or slice
// currently being descended into, failing if it's already on the stack.
func (e *encoder) pushCycleGuard(v interface{}) error {
	ptr := reflect.ValueOf(v).Pointer()
	if e.stack[ptr] {
		return &EncodingError{Reason: "cyclic structure"}
	}
	e.stack[ptr] = true
	return nil
}

func (e *encoder) popCycleGuard(v interface{}) {
	ptr := reflect.ValueOf(v).Pointer()
	delete(e.stack, ptr)
}
