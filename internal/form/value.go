// Package form holds the in-memory representation of form answers and the
// rules for applying user edits to them.
package form

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"wellfed/api/internal/schema"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindNumber
	KindDimensions
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDimensions:
		return "dimensions"
	case KindSet:
		return "set"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Dimensions is a length/width pair. A nil side has never been entered.
type Dimensions struct {
	Length *string
	Width  *string
}

// Value is a tagged union; only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Dims   Dimensions
	Set    []string
}

func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func Number(n float64) Value { return Value{Kind: KindNumber, Number: n} }

func Set(options ...string) Value {
	return Value{Kind: KindSet, Set: append([]string{}, options...)}
}

func Dims(length, width *string) Value {
	return Value{Kind: KindDimensions, Dims: Dimensions{Length: cloneString(length), Width: cloneString(width)}}
}

// Present reports whether the value is an answer at all.
func (v Value) Present() bool { return v.Kind != KindNone }

// Contains reports whether a set value holds option.
func (v Value) Contains(option string) bool {
	return v.Kind == KindSet && slices.Contains(v.Set, option)
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	out := v
	if v.Set != nil {
		out.Set = append([]string{}, v.Set...)
	}
	out.Dims = Dimensions{Length: cloneString(v.Dims.Length), Width: cloneString(v.Dims.Width)}
	return out
}

// Encode converts the value to its JSON-document form: string, float64,
// {"length","width"} object or []string.
func (v Value) Encode() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number
	case KindDimensions:
		out := make(map[string]any, 2)
		if v.Dims.Length != nil {
			out["length"] = *v.Dims.Length
		}
		if v.Dims.Width != nil {
			out["width"] = *v.Dims.Width
		}
		return out
	case KindSet:
		return append([]string{}, v.Set...)
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Encode())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Decode(raw)
	return nil
}

// Decode infers a Value from a decoded JSON document value. nil decodes to
// an absent value.
func Decode(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return Value{}
	case string:
		return Text(typed)
	case float64:
		return Number(typed)
	case float32:
		return Number(float64(typed))
	case int:
		return Number(float64(typed))
	case int64:
		return Number(float64(typed))
	case json.Number:
		n, err := typed.Float64()
		if err != nil {
			return Text(typed.String())
		}
		return Number(n)
	case []string:
		return Set(typed...)
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			items = append(items, scalarString(item))
		}
		return Value{Kind: KindSet, Set: items}
	case map[string]any:
		var dims Dimensions
		if raw, ok := typed["length"]; ok && raw != nil {
			s := scalarString(raw)
			dims.Length = &s
		}
		if raw, ok := typed["width"]; ok && raw != nil {
			s := scalarString(raw)
			dims.Width = &s
		}
		return Value{Kind: KindDimensions, Dims: dims}
	default:
		return Text(scalarString(typed))
	}
}

// OtherSelected reports whether a choice value picks the literal "Other"
// option, which reveals the field's free-text companion.
func OtherSelected(v Value) bool {
	switch v.Kind {
	case KindText:
		return v.Text == schema.OtherOption
	case KindSet:
		return v.Contains(schema.OtherOption)
	default:
		return false
	}
}

func scalarString(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// WorkingCopy maps field ids to answers. A missing key means unanswered.
type WorkingCopy map[string]Value

func (wc WorkingCopy) Clone() WorkingCopy {
	out := make(WorkingCopy, len(wc))
	for id, value := range wc {
		out[id] = value.Clone()
	}
	return out
}

// Encode returns the formData document for the store.
func (wc WorkingCopy) Encode() map[string]any {
	out := make(map[string]any, len(wc))
	for id, value := range wc {
		if !value.Present() {
			continue
		}
		out[id] = value.Encode()
	}
	return out
}

// Keys returns field ids in sorted order.
func (wc WorkingCopy) Keys() []string {
	keys := make([]string, 0, len(wc))
	for id := range wc {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// DecodeFormData builds a working copy from a stored formData document.
// Fields the schema does not know are kept as-is.
func DecodeFormData(data map[string]any) WorkingCopy {
	out := make(WorkingCopy, len(data))
	for id, raw := range data {
		value := Decode(raw)
		if !value.Present() {
			continue
		}
		out[id] = value
	}
	return out
}
