// Package validator checks decoded ingestion payloads against the fixed
// per-category schemas. Every violation is reported, not just the first.
package validator

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lightwatch/lightwatch/common/models"
)

// Rule names reported in FieldError.Rule.
const (
	RuleRequired   = "required"
	RuleType       = "type"
	RuleEnum       = "enum"
	RuleMinLength  = "minLength"
	RuleMaxLength  = "maxLength"
	RuleMinimum    = "minimum"
	RuleFormat     = "format"
	RuleAdditional = "additionalProperties"
)

// FieldError describes one violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Validate checks payload against the schema for category. Numbers must be
// decoded as json.Number (see Decode) so integers can be told apart.
// A nil slice means the payload is valid.
func Validate(category models.Category, payload any) []FieldError {
	schema, ok := Schemas[category]
	if !ok {
		return []FieldError{{Rule: RuleType, Message: fmt.Sprintf("unknown category %q", category)}}
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return []FieldError{{Rule: RuleType, Message: "payload must be an object"}}
	}

	var errs []FieldError
	known := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		known[f.Name] = struct{}{}
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Rule: RuleRequired, Message: "is required"})
			}
			continue
		}
		errs = append(errs, checkField(f, v)...)
	}

	var extra []string
	for k := range obj {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		errs = append(errs, FieldError{Field: k, Rule: RuleAdditional, Message: "is not allowed"})
	}

	return errs
}

func checkField(f Field, v any) []FieldError {
	typeErr := []FieldError{{Field: f.Name, Rule: RuleType, Message: "must be " + article(f.Kind)}}

	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return typeErr
		}
		return checkString(f, s)

	case KindDateTime:
		s, ok := v.(string)
		if !ok {
			return typeErr
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return []FieldError{{Field: f.Name, Rule: RuleFormat, Message: "must be an RFC 3339 date-time"}}
		}

	case KindNumber:
		if !isNumber(v) {
			return typeErr
		}

	case KindInteger:
		n, ok := asInteger(v)
		if !ok {
			return typeErr
		}
		if f.Min != nil && n < *f.Min {
			return []FieldError{{Field: f.Name, Rule: RuleMinimum, Message: fmt.Sprintf("must be >= %d", *f.Min)}}
		}

	case KindObject:
		if _, ok := v.(map[string]any); !ok {
			return typeErr
		}

	case KindStringMap:
		m, ok := v.(map[string]any)
		if !ok {
			return typeErr
		}
		var errs []FieldError
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := m[k].(string); !ok {
				errs = append(errs, FieldError{Field: f.Name + "." + k, Rule: RuleType, Message: "must be a string"})
			}
		}
		return errs
	}
	return nil
}

func checkString(f Field, s string) []FieldError {
	var errs []FieldError
	if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
		errs = append(errs, FieldError{
			Field:   f.Name,
			Rule:    RuleEnum,
			Message: "must be one of: " + strings.Join(f.Enum, ", "),
		})
	}
	n := utf8.RuneCountInString(s)
	if f.MinLen > 0 && n < f.MinLen {
		errs = append(errs, FieldError{Field: f.Name, Rule: RuleMinLength, Message: fmt.Sprintf("must have at least %d characters", f.MinLen)})
	}
	if f.MaxLen > 0 && n > f.MaxLen {
		errs = append(errs, FieldError{Field: f.Name, Rule: RuleMaxLength, Message: fmt.Sprintf("must have at most %d characters", f.MaxLen)})
	}
	return errs
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64, float32, int, int64:
		return true
	}
	return false
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}
		// 2.0 is an integer in JSON Schema terms.
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func article(k Kind) string {
	switch k {
	case KindInteger, KindObject, KindStringMap:
		return "an " + k.String()
	case KindDateTime:
		return "a date-time string"
	}
	return "a " + k.String()
}
