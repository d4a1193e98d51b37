// Package schema describes the intake form: ordered sections of fields, each
// with a stable id and a value shape. A Schema is immutable once loaded.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Shape is the semantic type of a field's value.
type Shape string

const (
	ShortText       Shape = "short-text"
	LongText        Shape = "long-text"
	Date            Shape = "date"
	Phone           Shape = "phone"
	Email           Shape = "email"
	Number          Shape = "number"
	Dimensions      Shape = "dimensions"
	SingleChoice    Shape = "single-choice"
	MultiChoice     Shape = "multi-choice"
	RankedChecklist Shape = "ranked-checklist"
)

// OtherOption is the literal option label that reveals a field's companion
// free-text field.
const OtherOption = "Other"

var shapeAliases = map[string]Shape{
	"text":      ShortText,
	"textarea":  LongText,
	"tel":       Phone,
	"radio":     SingleChoice,
	"checkbox":  MultiChoice,
	"checklist": RankedChecklist,
}

var ErrInvalidSchema = errors.New("invalid schema")

// ParseShape accepts canonical shape names and the short HTML-style aliases
// (text, textarea, tel, radio, checkbox, checklist).
func ParseShape(value string) (Shape, error) {
	name := strings.ToLower(strings.TrimSpace(value))
	if alias, ok := shapeAliases[name]; ok {
		return alias, nil
	}
	shape := Shape(name)
	if !shape.Valid() {
		return "", fmt.Errorf("%w: unknown field shape %q", ErrInvalidSchema, value)
	}
	return shape, nil
}

func (s Shape) Valid() bool {
	switch s {
	case ShortText, LongText, Date, Phone, Email, Number,
		Dimensions, SingleChoice, MultiChoice, RankedChecklist:
		return true
	default:
		return false
	}
}

// Scalar reports whether edits replace the value wholesale.
func (s Shape) Scalar() bool {
	switch s {
	case ShortText, LongText, Date, Phone, Email, Number, SingleChoice:
		return true
	default:
		return false
	}
}

// SetValued reports whether the value is a set of selected options.
func (s Shape) SetValued() bool {
	return s == MultiChoice || s == RankedChecklist
}

func (s Shape) needsOptions() bool {
	return s == SingleChoice || s.SetValued()
}

// UnmarshalText lets schema files use either canonical names or aliases.
func (s *Shape) UnmarshalText(text []byte) error {
	parsed, err := ParseShape(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type FieldSpec struct {
	ID          string   `yaml:"id" json:"id"`
	Label       string   `yaml:"label" json:"label"`
	Shape       Shape    `yaml:"type" json:"type"`
	Options     []string `yaml:"options,omitempty" json:"options,omitempty"`
	AllowsOther bool     `yaml:"hasOtherOption,omitempty" json:"hasOtherOption,omitempty"`
	Placeholder string   `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Guidance    string   `yaml:"guidance" json:"guidance"`
}

// OtherFieldID names the free-text companion of a field that allows "Other".
func (f FieldSpec) OtherFieldID() string {
	return f.ID + "Other"
}

type Section struct {
	Title  string      `yaml:"title" json:"title"`
	Icon   string      `yaml:"icon,omitempty" json:"icon,omitempty"`
	Fields []FieldSpec `yaml:"fields" json:"fields"`
}

type Schema struct {
	Sections []Section `yaml:"sections" json:"sections"`

	index map[string]FieldSpec
}

// New validates sections and builds the field index. Any violation is a
// configuration error.
func New(sections []Section) (*Schema, error) {
	s := &Schema{Sections: sections}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) build() error {
	if len(s.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrInvalidSchema)
	}
	s.index = make(map[string]FieldSpec)
	companions := make(map[string]FieldSpec)
	for i, section := range s.Sections {
		if strings.TrimSpace(section.Title) == "" {
			return fmt.Errorf("%w: section %d has no title", ErrInvalidSchema, i)
		}
		for _, field := range section.Fields {
			if strings.TrimSpace(field.ID) == "" {
				return fmt.Errorf("%w: section %q has a field without id", ErrInvalidSchema, section.Title)
			}
			if !field.Shape.Valid() {
				return fmt.Errorf("%w: field %q has unknown shape %q", ErrInvalidSchema, field.ID, field.Shape)
			}
			if field.Shape.needsOptions() && len(field.Options) == 0 {
				return fmt.Errorf("%w: field %q needs options", ErrInvalidSchema, field.ID)
			}
			if _, dup := s.index[field.ID]; dup {
				return fmt.Errorf("%w: duplicate field id %q", ErrInvalidSchema, field.ID)
			}
			s.index[field.ID] = field
			if field.AllowsOther {
				companions[field.OtherFieldID()] = FieldSpec{
					ID:       field.OtherFieldID(),
					Label:    field.Label + " (Other)",
					Shape:    ShortText,
					Guidance: "Please describe the other option.",
				}
			}
		}
	}
	for id, companion := range companions {
		if _, clash := s.index[id]; clash {
			return fmt.Errorf("%w: field id %q collides with an Other companion", ErrInvalidSchema, id)
		}
		s.index[id] = companion
	}
	return nil
}

// Field looks up a declared field or an "Other" companion by id.
func (s *Schema) Field(id string) (FieldSpec, bool) {
	field, ok := s.index[id]
	return field, ok
}

func (s *Schema) SectionCount() int {
	return len(s.Sections)
}

// FieldIDs returns every declared field id in schema order, companions
// excluded.
func (s *Schema) FieldIDs() []string {
	ids := make([]string, 0, len(s.index))
	for _, section := range s.Sections {
		for _, field := range section.Fields {
			ids = append(ids, field.ID)
		}
	}
	return ids
}
