package form

import (
	"errors"
	"fmt"

	"wellfed/api/internal/schema"
)

// ErrEditMismatch means the edit does not fit the field's shape, e.g. a
// toggle sent to a text field. It is a caller bug, never a user input error.
var ErrEditMismatch = errors.New("edit does not match field shape")

type EditKind int

const (
	EditSetText EditKind = iota + 1
	EditSetDimension
	EditToggle
)

// DimensionKey selects one side of a dimensions value.
type DimensionKey string

const (
	DimensionLength DimensionKey = "length"
	DimensionWidth  DimensionKey = "width"
)

// Edit is a single partial user edit.
type Edit struct {
	Kind     EditKind
	Text     string
	Sub      DimensionKey
	Option   string
	Selected bool
}

func SetText(value string) Edit {
	return Edit{Kind: EditSetText, Text: value}
}

func SetDimension(sub DimensionKey, value string) Edit {
	return Edit{Kind: EditSetDimension, Sub: sub, Text: value}
}

func Toggle(option string, selected bool) Edit {
	return Edit{Kind: EditToggle, Option: option, Selected: selected}
}

// Apply returns the value that results from applying op to current for a
// field of the given shape. current may be absent (KindNone). The input is
// never mutated.
func Apply(shape schema.Shape, current Value, op Edit) (Value, error) {
	switch shape {
	case schema.ShortText, schema.LongText, schema.Date, schema.Phone,
		schema.Email, schema.Number, schema.SingleChoice:
		if op.Kind != EditSetText {
			return Value{}, fmt.Errorf("%w: %s field got edit kind %d", ErrEditMismatch, shape, op.Kind)
		}
		return Text(op.Text), nil

	case schema.Dimensions:
		if op.Kind != EditSetDimension {
			return Value{}, fmt.Errorf("%w: %s field got edit kind %d", ErrEditMismatch, shape, op.Kind)
		}
		var dims Dimensions
		if current.Kind == KindDimensions {
			dims = current.Clone().Dims
		}
		side := op.Text
		switch op.Sub {
		case DimensionLength:
			dims.Length = &side
		case DimensionWidth:
			dims.Width = &side
		default:
			return Value{}, fmt.Errorf("%w: unknown dimension %q", ErrEditMismatch, op.Sub)
		}
		return Value{Kind: KindDimensions, Dims: dims}, nil

	case schema.MultiChoice, schema.RankedChecklist:
		if op.Kind != EditToggle {
			return Value{}, fmt.Errorf("%w: %s field got edit kind %d", ErrEditMismatch, shape, op.Kind)
		}
		var options []string
		if current.Kind == KindSet {
			options = current.Set
		}
		return Value{Kind: KindSet, Set: toggle(options, op.Option, op.Selected)}, nil

	default:
		return Value{}, fmt.Errorf("%w: unknown shape %q", ErrEditMismatch, shape)
	}
}

func toggle(options []string, option string, selected bool) []string {
	out := make([]string, 0, len(options)+1)
	found := false
	for _, existing := range options {
		if existing == option {
			if !selected {
				continue
			}
			found = true
		}
		out = append(out, existing)
	}
	if selected && !found {
		out = append(out, option)
	}
	return out
}
